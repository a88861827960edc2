package kvstore

import (
	"context"
	"errors"
	"testing"
)

func TestAdaptor_CoalescesSameMode(t *testing.T) {
	m := NewMemory()
	a := NewAdaptor(m, DurabilityDefault, nil)
	ctx := context.Background()

	var firstTx Tx
	_ = a.Run(ctx, ReadWrite, func(tx Tx) error {
		firstTx = tx
		return tx.Put(Record{Name: "/db", Index: 0, Version: 0})
	})
	_ = a.Run(ctx, ReadWrite, func(tx Tx) error {
		if tx != firstTx {
			t.Error("second ReadWrite Run should reuse the active transaction")
		}
		return nil
	})
}

func TestAdaptor_ReadCoalescedIntoOpenWriteTxn(t *testing.T) {
	m := NewMemory()
	a := NewAdaptor(m, DurabilityDefault, nil)
	ctx := context.Background()

	_ = a.Run(ctx, ReadWrite, func(tx Tx) error {
		return tx.Put(Record{Name: "/db", Index: 1, Version: 0, Data: []byte("hi")})
	})

	// A read before Sync must observe the write-in-flight (coalesced read).
	var got Record
	var ok bool
	_ = a.Run(ctx, ReadOnly, func(tx Tx) error {
		var err error
		got, ok, err = tx.Get("/db", 1, 0)
		return err
	})
	if !ok || string(got.Data) != "hi" {
		t.Errorf("expected coalesced read to see in-flight write, got ok=%v data=%q", ok, got.Data)
	}
}

func TestAdaptor_SyncCommitsAndClearsActive(t *testing.T) {
	m := NewMemory()
	a := NewAdaptor(m, DurabilityDefault, nil)
	ctx := context.Background()

	_ = a.Run(ctx, ReadWrite, func(tx Tx) error {
		return tx.Put(Record{Name: "/db", Index: 0, Version: 0})
	})
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if a.active != nil {
		t.Error("active transaction should be nil after Sync")
	}

	// A fresh transaction should still see the committed data.
	found := false
	_ = a.Run(ctx, ReadOnly, func(tx Tx) error {
		_, ok, err := tx.Get("/db", 0, 0)
		found = ok
		return err
	})
	if !found {
		t.Error("committed write not visible after Sync")
	}
}

func TestAdaptor_FailedOpAbortsTransaction(t *testing.T) {
	m := NewMemory()
	a := NewAdaptor(m, DurabilityDefault, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := a.Run(ctx, ReadWrite, func(tx Tx) error {
		_ = tx.Put(Record{Name: "/db", Index: 0, Version: 0})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if a.active != nil {
		t.Error("active transaction should be cleared after an aborted operation")
	}
}

func TestAdaptor_RelaxedDurabilitySyncSucceeds(t *testing.T) {
	m := NewMemory()
	a := NewAdaptor(m, DurabilityRelaxed, nil)
	ctx := context.Background()
	_ = a.Run(ctx, ReadWrite, func(tx Tx) error {
		return tx.Put(Record{Name: "/db", Index: 0, Version: 0})
	})
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if a.Durability() != DurabilityRelaxed {
		t.Error("durability not preserved")
	}
}
