// Package journal emulates the engine's rollback journal file without ever
// persisting journal bytes (SPEC_FULL.md §4.4): only the header (whose size
// is itself a field within the header) is remembered, in RAM; every later
// page entry is reconstructed on demand from the pre-transaction database
// block the moment the engine asks to read it back.
package journal

import (
	"context"
	"fmt"

	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/store"
)

// headerSectorSizeOffset/headerNonceOffset locate fields within the
// journal header, matching the on-disk rollback-journal format the engine
// itself writes.
const (
	headerSectorSizeOffset  = 20
	headerNonceOffset       = 12
	minHeaderBytesForFields = headerSectorSizeOffset + 4
)

// State is one open journal file's in-memory state: the remembered header
// bytes and the last-reconstructed page entry, scoped to this journal
// handle alone so two connections never share a stale cached entry (the
// bug SPEC_FULL.md's Open Question flags and this design fixes by
// construction).
type State struct {
	blockSize int // == the sibling database file's block size (the journal's page size)

	header     []byte
	sectorSize int // 0 until header is long enough to read it
	fileSize   int64

	cachedPageIndex uint32
	cachedEntry     []byte
	haveCached      bool
}

// NewState returns a fresh journal State for a database file whose block
// (page) size is blockSize.
func NewState(blockSize int) *State {
	return &State{blockSize: blockSize}
}

// FileSize returns the journal's logical size, tracked the same way a real
// file's would be (max of every write's end offset) even though no bytes
// past the header are ever actually stored.
func (s *State) FileSize() int64 { return s.fileSize }

// entrySize is pageSize + 8: a 4-byte 1-based page index, the page bytes,
// and a 4-byte checksum.
func (s *State) entrySize() int64 { return int64(s.blockSize) + 8 }

func (s *State) deriveSectorSize() {
	if s.sectorSize > 0 || len(s.header) < minHeaderBytesForFields {
		return
	}
	s.sectorSize = int(blockcodec.BigEndianUint32(s.header[headerSectorSizeOffset : headerSectorSizeOffset+4]))
}

// isHeaderOffset reports whether iOffset falls within the header region:
// before sectorSize is known, only a write starting exactly at 0 can be
// classified (the common case, since the engine writes its whole header in
// one call); once known, any offset < sectorSize is header.
func (s *State) isHeaderOffset(iOffset int64) bool {
	if s.sectorSize > 0 {
		return iOffset < int64(s.sectorSize)
	}
	return iOffset == 0
}

// Sibling bundles the sibling database file's state that the journal
// handlers read or reset, all of it owned by the caller (the VFS façade's
// opened-file entry) rather than by this package. InTransaction is
// optional (nil is fine for callers that don't track it); when present, a
// fresh-transaction header write sets it to true.
type Sibling struct {
	DB            *store.FileState
	JournalPages  *[]uint32
	ChangedPages  map[uint32]struct{}
	InTransaction *bool
}

// Write implements SPEC_FULL.md §4.4's write semantics.
func (s *State) Write(iOffset int64, data []byte, sib Sibling) error {
	if len(data) == 0 {
		return nil
	}

	if iOffset == 0 {
		s.setHeader(0, data)
		s.deriveSectorSize()
		if data[0] != 0 {
			*sib.JournalPages = (*sib.JournalPages)[:0]
			for k := range sib.ChangedPages {
				delete(sib.ChangedPages, k)
			}
			s.haveCached = false
			sib.DB.BeginTransaction()
			if sib.InTransaction != nil {
				*sib.InTransaction = true
			}
		}
	} else if s.isHeaderOffset(iOffset) {
		s.setHeader(iOffset, data)
		s.deriveSectorSize()
	} else if s.sectorSize > 0 && iOffset >= int64(s.sectorSize) {
		rel := iOffset - int64(s.sectorSize)
		entrySize := s.entrySize()
		if rel%entrySize == 0 {
			if len(data) < 4 {
				return fmt.Errorf("journal: entry-boundary write shorter than a page index (%d bytes)", len(data))
			}
			entryIndex := int(rel / entrySize)
			pageIndex := blockcodec.BigEndianUint32(data) // 1-based
			pages := *sib.JournalPages
			for len(pages) <= entryIndex {
				pages = append(pages, 0)
			}
			pages[entryIndex] = pageIndex - 1
			*sib.JournalPages = pages
		}
		// Any other offset inside a page entry: discard.
	}

	if end := iOffset + int64(len(data)); end > s.fileSize {
		s.fileSize = end
	}
	return nil
}

func (s *State) setHeader(iOffset int64, data []byte) {
	end := int(iOffset) + len(data)
	if end > len(s.header) {
		grown := make([]byte, end)
		copy(grown, s.header)
		s.header = grown
	}
	copy(s.header[iOffset:end], data)
}

// Read implements SPEC_FULL.md §4.4's read semantics.
func (s *State) Read(ctx context.Context, st *store.Store, iOffset int64, buf []byte, sib Sibling) error {
	if len(buf) == 0 {
		return nil
	}

	if iOffset < int64(s.sectorSize) || (s.sectorSize == 0 && iOffset == 0) {
		return s.readHeader(iOffset, buf)
	}

	entrySize := s.entrySize()
	rel := iOffset - int64(s.sectorSize)
	entryIndex := int(rel / entrySize)
	offsetInEntry := int(rel % entrySize)

	pages := *sib.JournalPages
	if entryIndex >= len(pages) {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	pageIndex := pages[entryIndex]

	var entry []byte
	if s.haveCached && s.cachedPageIndex == pageIndex {
		entry = s.cachedEntry
	} else {
		blockData, _, err := st.ReadPreTransactionBlock(ctx, sib.DB.Path, pageIndex, sib.DB)
		if err != nil {
			return err
		}
		if blockData == nil {
			blockData = make([]byte, s.blockSize)
		}
		nonce := uint32(0)
		if len(s.header) >= headerNonceOffset+4 {
			nonce = blockcodec.BigEndianUint32(s.header[headerNonceOffset : headerNonceOffset+4])
		}
		checksum := blockcodec.JournalChecksum(nonce, blockData)

		entry = make([]byte, 0, entrySize)
		entry = blockcodec.AppendBigEndian32(entry, pageIndex+1)
		entry = append(entry, blockData...)
		entry = blockcodec.AppendBigEndian32(entry, checksum)

		s.cachedPageIndex = pageIndex
		s.cachedEntry = entry
		s.haveCached = true
	}

	end := offsetInEntry + len(buf)
	if end > len(entry) {
		end = len(entry)
	}
	n := 0
	if offsetInEntry < end {
		n = copy(buf, entry[offsetInEntry:end])
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (s *State) readHeader(iOffset int64, buf []byte) error {
	n := 0
	if iOffset < int64(len(s.header)) {
		end := int(iOffset) + len(buf)
		if end > len(s.header) {
			end = len(s.header)
		}
		n = copy(buf, s.header[iOffset:end])
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// Truncate sets the journal's logical size to size. Truncating to zero —
// which the engine does at the end of a successful transaction, before
// deleting or reusing the journal file — also discards the remembered
// header and the cached page entry.
func (s *State) Truncate(size int64) {
	s.fileSize = size
	if size == 0 {
		s.header = nil
		s.sectorSize = 0
		s.haveCached = false
	}
}
