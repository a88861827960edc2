// Package blockcodec provides pure functions translating between
// (file path, offset, length) and the block records of the versioned
// store, plus the rollback-journal page checksum. Nothing in this package
// touches the KVS or the engine-facing VFS contract — it is a leaf package,
// exercised directly by internal/store and internal/journal.
//
// Reference: this module's SPEC_FULL.md §4.2.
package blockcodec

// DefaultBlockSize is the default block size in bytes.
const DefaultBlockSize = 4096

// Span describes the portion of one block touched by a logical byte range.
type Span struct {
	// BlockIndex is the 0-based index of the block within the file.
	BlockIndex uint32
	// BlockOffset is the byte offset within the block where this span starts.
	BlockOffset int
	// Length is the number of bytes of this span.
	Length int
	// BufOffset is the offset within the caller's buffer that corresponds
	// to the start of this span.
	BufOffset int
}

// Spans decomposes a logical byte range [iOffset, iOffset+length) of a file
// with the given blockSize into an ordered sequence of per-block spans.
//
// A zero-length range yields no spans.
func Spans(iOffset int64, length int, blockSize int) []Span {
	if length <= 0 || blockSize <= 0 {
		return nil
	}

	spans := make([]Span, 0, length/blockSize+2)
	remaining := length
	bufOffset := 0
	offset := iOffset

	for remaining > 0 {
		blockIndex := uint32(offset / int64(blockSize))
		blockOffset := int(offset % int64(blockSize))
		n := blockSize - blockOffset
		if n > remaining {
			n = remaining
		}

		spans = append(spans, Span{
			BlockIndex:  blockIndex,
			BlockOffset: blockOffset,
			Length:      n,
			BufOffset:   bufOffset,
		})

		offset += int64(n)
		bufOffset += n
		remaining -= n
	}

	return spans
}

// IsSingleAlignedBlock reports whether the range [iOffset, iOffset+length)
// is exactly one full, block-aligned block — the fast path for both reads
// and writes.
func IsSingleAlignedBlock(iOffset int64, length int, blockSize int) bool {
	return length == blockSize && iOffset%int64(blockSize) == 0
}

// JournalChecksum computes the rollback-journal page checksum described in
// SPEC_FULL.md §4.2: starting from the 32-bit nonce found in the journal
// header, sum the unsigned bytes of page at positions
// pageSize-200, pageSize-400, ... while the position stays > 0. The 32-bit
// low bits of the sum are the checksum.
func JournalChecksum(nonce uint32, page []byte) uint32 {
	sum := uint64(nonce)
	pageSize := len(page)
	for pos := pageSize - 200; pos > 0; pos -= 200 {
		sum += uint64(page[pos])
	}
	return uint32(sum)
}
