package kvstore

import (
	"context"
	"testing"
)

func TestMemory_PutGet_NewestVisible(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)

	// Three versions of block 1: -20 (newest), -10, 0 (oldest).
	for _, v := range []int64{0, -10, -20} {
		if err := tx.Put(Record{Name: "/db", Index: 1, Version: v, Data: []byte{byte(v)}}); err != nil {
			t.Fatalf("Put(%d): %v", v, err)
		}
	}

	cases := []struct {
		minVersion int64
		wantVer    int64
		wantOK     bool
	}{
		{-20, -20, true}, // exact newest match
		{-15, -10, true}, // no exact match, picks the newest version that is still >= -15
		{-5, 0, true},
		{1, 0, false}, // no version >= 1 exists
	}
	for _, c := range cases {
		rec, ok, err := tx.Get("/db", 1, c.minVersion)
		if err != nil {
			t.Fatalf("Get(minVersion=%d): %v", c.minVersion, err)
		}
		if ok != c.wantOK {
			t.Fatalf("Get(minVersion=%d) ok=%v, want %v", c.minVersion, ok, c.wantOK)
		}
		if ok && rec.Version != c.wantVer {
			t.Errorf("Get(minVersion=%d) version=%d, want %d", c.minVersion, rec.Version, c.wantVer)
		}
	}
}

func TestMemory_GetOlderThan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)

	for _, v := range []int64{-20, -10, 0} {
		_ = tx.Put(Record{Name: "/db", Index: 1, Version: v, Data: []byte{byte(v)}})
	}

	// Strictly older than -10 (i.e. version > -10): newest such is 0.
	rec, ok, err := tx.GetOlderThan("/db", 1, -10)
	if err != nil || !ok {
		t.Fatalf("GetOlderThan(-10): ok=%v err=%v", ok, err)
	}
	if rec.Version != 0 {
		t.Errorf("GetOlderThan(-10) version = %d, want 0", rec.Version)
	}

	// Strictly older than 0: none exists.
	if _, ok, _ := tx.GetOlderThan("/db", 1, 0); ok {
		t.Error("GetOlderThan(0) should find nothing older than the oldest version")
	}

	// Strictly older than -20: the newest of {-10, 0} is -10.
	rec, ok, err = tx.GetOlderThan("/db", 1, -20)
	if err != nil || !ok || rec.Version != -10 {
		t.Errorf("GetOlderThan(-20) = %+v, ok=%v err=%v, want version -10", rec, ok, err)
	}
}

func TestMemory_DeleteFromIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)

	for i := uint32(0); i < 5; i++ {
		_ = tx.Put(Record{Name: "/db", Index: i, Version: 0, Data: []byte{1}})
	}
	if err := tx.DeleteFromIndex("/db", 2); err != nil {
		t.Fatalf("DeleteFromIndex: %v", err)
	}
	for i := uint32(0); i < 5; i++ {
		exists, _ := tx.Exists("/db", i)
		want := i < 2
		if exists != want {
			t.Errorf("index %d exists=%v, want %v", i, exists, want)
		}
	}
}

func TestMemory_DeleteOlderThan(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)

	for _, v := range []int64{-20, -10, 0, 10} {
		_ = tx.Put(Record{Name: "/db", Index: 3, Version: v})
	}
	// threshold -10: versions strictly older than -10 (i.e. > -10) are removed.
	if err := tx.DeleteOlderThan("/db", 3, -10); err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	rec, ok, err := tx.Get("/db", 3, -100)
	if err != nil || !ok {
		t.Fatalf("Get after DeleteOlderThan: ok=%v err=%v", ok, err)
	}
	if rec.Version != -20 {
		t.Errorf("newest surviving version = %d, want -20", rec.Version)
	}
	// -10 and -20 should remain (<=-10), 0 and 10 should be gone.
	for _, v := range []int64{0, 10} {
		if _, ok, _ := tx.Get("/db", 3, v); ok {
			t.Errorf("version %d should have been purged", v)
		}
	}
}

func TestMemory_DeleteNewerThan_AllIndices(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)

	_ = tx.Put(Record{Name: "/db", Index: 0, Version: -50}) // leftover from abandoned txn
	_ = tx.Put(Record{Name: "/db", Index: 0, Version: -10}) // published
	_ = tx.Put(Record{Name: "/db", Index: 1, Version: -50})
	_ = tx.Put(Record{Name: "/db", Index: 1, Version: -10})

	if err := tx.DeleteNewerThan("/db", -10); err != nil {
		t.Fatalf("DeleteNewerThan: %v", err)
	}
	for _, idx := range []uint32{0, 1} {
		// The newest version visible from anchor -100 is now -10, not -50.
		if rec, ok, _ := tx.Get("/db", idx, -100); !ok || rec.Version != -10 {
			t.Errorf("index %d: version -50 should have been removed", idx)
		}
		rec, ok, _ := tx.Get("/db", idx, -10)
		if !ok || rec.Version != -10 {
			t.Errorf("index %d: published version -10 should survive", idx)
		}
	}
}

func TestMemory_DeleteAll(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadWrite)
	_ = tx.Put(Record{Name: "/db", Index: 0, Version: 0})
	_ = tx.Put(Record{Name: "/db", Index: 5, Version: 0})

	if err := tx.DeleteAll("/db"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if exists, _ := tx.Exists("/db", 0); exists {
		t.Error("block 0 should be gone after DeleteAll")
	}
	if exists, _ := tx.Exists("/db", 5); exists {
		t.Error("block 5 should be gone after DeleteAll")
	}
}

func TestMemory_ReadOnlyTxRejectsWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	tx, _ := m.Begin(ctx, ReadOnly)
	if err := tx.Put(Record{Name: "/db", Index: 0, Version: 0}); err == nil {
		t.Error("expected error writing through a read-only transaction")
	}
}

func TestOpenMemory_SchemaMismatch(t *testing.T) {
	if _, err := OpenMemory(CurrentSchemaVersion + 1); err == nil {
		t.Error("expected schema mismatch error")
	}
	m, err := OpenMemory(CurrentSchemaVersion)
	if err != nil || m == nil {
		t.Fatalf("OpenMemory(current): %v", err)
	}
}
