package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/kvstore"
	"github.com/rhashimoto/preview/internal/store"
)

const testBlockSize = 16
const testSectorSize = 32

func makeHeader(freshTxnByte byte, nonce uint32) []byte {
	h := make([]byte, testSectorSize)
	h[0] = freshTxnByte
	binary.BigEndian.PutUint32(h[headerNonceOffset:], nonce)
	binary.BigEndian.PutUint32(h[headerSectorSizeOffset:], testSectorSize)
	return h
}

func newTestStoreAndFile(t *testing.T) (*store.Store, *store.FileState) {
	t.Helper()
	mem := kvstore.NewMemory()
	adaptor := kvstore.NewAdaptor(mem, kvstore.DurabilityDefault, nil)
	opts := store.DefaultOptions()
	opts.BlockSize = testBlockSize
	st := store.New(adaptor, opts)
	fs, err := st.Open(context.Background(), "/db", true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st, fs
}

func TestJournal_HeaderWriteTriggersFreshTransactionReset(t *testing.T) {
	_, fs := newTestStoreAndFile(t)
	startVersion := fs.Version()

	journalPages := []uint32{1, 2, 3}
	changedPages := map[uint32]struct{}{1: {}}
	sib := Sibling{DB: fs, JournalPages: &journalPages, ChangedPages: changedPages}

	s := NewState(testBlockSize)
	header := makeHeader(1, 0xABCDEF01) // non-zero first byte: fresh transaction
	if err := s.Write(0, header, sib); err != nil {
		t.Fatalf("Write(header): %v", err)
	}

	if len(journalPages) != 0 {
		t.Errorf("journalPages not reset: %v", journalPages)
	}
	if len(changedPages) != 0 {
		t.Errorf("changedPages not reset: %v", changedPages)
	}
	if fs.Version() != startVersion-1 {
		t.Errorf("db version = %d, want %d (decremented)", fs.Version(), startVersion-1)
	}
}

func TestJournal_HeaderWriteZeroByteDoesNotReset(t *testing.T) {
	_, fs := newTestStoreAndFile(t)
	startVersion := fs.Version()

	journalPages := []uint32{9}
	changedPages := map[uint32]struct{}{9: {}}
	sib := Sibling{DB: fs, JournalPages: &journalPages, ChangedPages: changedPages}

	s := NewState(testBlockSize)
	header := makeHeader(0, 0x1)
	if err := s.Write(0, header, sib); err != nil {
		t.Fatalf("Write(header): %v", err)
	}
	if len(journalPages) != 1 {
		t.Error("journalPages should be untouched when first header byte is zero")
	}
	if fs.Version() != startVersion {
		t.Error("db version should be untouched when first header byte is zero")
	}
}

func TestJournal_EntryBoundaryWriteRecordsPageIndex(t *testing.T) {
	_, fs := newTestStoreAndFile(t)
	journalPages := []uint32{}
	changedPages := map[uint32]struct{}{}
	sib := Sibling{DB: fs, JournalPages: &journalPages, ChangedPages: changedPages}

	s := NewState(testBlockSize)
	header := makeHeader(1, 0)
	_ = s.Write(0, header, sib)

	// Entry 0 at offset sectorSize, page index 5 (1-based) -> recorded as 4.
	entryHeader := make([]byte, 4)
	binary.BigEndian.PutUint32(entryHeader, 5)
	if err := s.Write(testSectorSize, entryHeader, sib); err != nil {
		t.Fatalf("Write(entry): %v", err)
	}
	if len(journalPages) != 1 || journalPages[0] != 4 {
		t.Errorf("journalPages = %v, want [4]", journalPages)
	}
}

func TestJournal_ReadReconstructsPreTransactionPage(t *testing.T) {
	st, fs := newTestStoreAndFile(t)
	ctx := context.Background()

	// Commit a known block 1 before the "transaction" begins.
	preTxnData := bytes.Repeat([]byte{0x77}, testBlockSize)
	if err := st.Write(ctx, fs, testBlockSize, preTxnData, store.WriteOptions{}); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	if err := st.Sync(ctx, fs, store.SyncOptions{}); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	journalPages := []uint32{}
	changedPages := map[uint32]struct{}{}
	sib := Sibling{DB: fs, JournalPages: &journalPages, ChangedPages: changedPages}

	s := NewState(testBlockSize)
	nonce := uint32(0x42424242)
	header := makeHeader(1, nonce) // begins transaction: decrements fs.Version()
	_ = s.Write(0, header, sib)

	// Now the engine would write the NEW content to block 1 at fs's new
	// (decremented) version, then journal the entry for page 1 (1-based).
	newData := bytes.Repeat([]byte{0x99}, testBlockSize)
	if err := st.Write(ctx, fs, testBlockSize, newData, store.WriteOptions{}); err != nil {
		t.Fatalf("in-transaction write: %v", err)
	}

	entryHeader := make([]byte, 4)
	binary.BigEndian.PutUint32(entryHeader, 2) // page index 2 (1-based) -> db index 1
	if err := s.Write(testSectorSize, entryHeader, sib); err != nil {
		t.Fatalf("Write(entry): %v", err)
	}

	buf := make([]byte, int(s.entrySize()))
	if err := s.Read(ctx, st, testSectorSize, buf, sib); err != nil {
		t.Fatalf("Read(entry): %v", err)
	}

	wantPageIndex := make([]byte, 4)
	binary.BigEndian.PutUint32(wantPageIndex, 2)
	if !bytes.Equal(buf[:4], wantPageIndex) {
		t.Errorf("entry page index = %x, want %x", buf[:4], wantPageIndex)
	}
	gotPage := buf[4 : 4+testBlockSize]
	if !bytes.Equal(gotPage, preTxnData) {
		t.Errorf("reconstructed page = %x, want pre-transaction data %x", gotPage, preTxnData)
	}
	wantChecksum := blockcodec.JournalChecksum(nonce, preTxnData)
	gotChecksum := binary.BigEndian.Uint32(buf[4+testBlockSize:])
	if gotChecksum != wantChecksum {
		t.Errorf("checksum = %x, want %x", gotChecksum, wantChecksum)
	}
}

func TestJournal_ReadHeaderReturnsStoredBytes(t *testing.T) {
	_, fs := newTestStoreAndFile(t)
	journalPages := []uint32{}
	sib := Sibling{DB: fs, JournalPages: &journalPages, ChangedPages: map[uint32]struct{}{}}

	s := NewState(testBlockSize)
	header := makeHeader(1, 0)
	_ = s.Write(0, header, sib)

	buf := make([]byte, testSectorSize)
	if err := s.Read(context.Background(), nil, 0, buf, sib); err != nil {
		t.Fatalf("Read(header): %v", err)
	}
	if !bytes.Equal(buf, header) {
		t.Errorf("Read(header) = %x, want %x", buf, header)
	}
}

func TestJournal_Truncate(t *testing.T) {
	s := NewState(testBlockSize)
	s.fileSize = 1000
	s.header = []byte{1, 2, 3}
	s.sectorSize = testSectorSize

	s.Truncate(0)
	if s.FileSize() != 0 {
		t.Errorf("FileSize after truncate = %d, want 0", s.FileSize())
	}
	if s.header != nil || s.sectorSize != 0 {
		t.Error("Truncate(0) should reset header state")
	}
}
