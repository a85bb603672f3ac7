package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndListMints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mints := []Mint{
		{TxHash: "0x01", Contract: "0xc0", TokenID: "7", Minter: "0xaa", Course: "Blockchain Foundation", BlockNumber: 10, CreatedAt: base},
		{TxHash: "0x02", Contract: "0xc0", Minter: "0xbb", Course: "NFT & Metaverse", BlockNumber: 11, CreatedAt: base.Add(time.Minute)},
	}
	for _, m := range mints {
		if err := store.InsertMint(ctx, m); err != nil {
			t.Fatalf("insert mint %s: %v", m.TxHash, err)
		}
	}

	got, err := store.ListMints(ctx, 0)
	if err != nil {
		t.Fatalf("list mints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mints, got %d", len(got))
	}
	if got[0].TxHash != "0x02" || got[0].TokenID != "" {
		t.Fatalf("unexpected newest mint: %+v", got[0])
	}
	if got[1].TokenID != "7" || got[1].BlockNumber != 10 {
		t.Fatalf("unexpected oldest mint: %+v", got[1])
	}

	limited, err := store.ListMints(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit ignored: %d err=%v", len(limited), err)
	}
}

func TestExactlyOnceMint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := Mint{TxHash: "0xabc", Contract: "0xc0", TokenID: "1", Minter: "0xaa"}

	if err := store.InsertMint(ctx, m); err != nil {
		t.Fatalf("insert mint: %v", err)
	}
	if err := store.InsertMint(ctx, m); err != nil {
		t.Fatalf("repeat insert: %v", err)
	}
	rows, _ := store.ListMints(ctx, 0)
	if len(rows) != 1 {
		t.Fatalf("expected a single row, got %d", len(rows))
	}
	if err := store.InsertMint(ctx, Mint{TxHash: "0xdef"}); err == nil {
		t.Fatalf("expected missing fields to fail")
	}
}

func TestRecordMintIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := Mint{TxHash: "0xabc", Contract: "0xc0", TokenID: "1", Minter: "0xaa", BlockNumber: 5}

	added, err := store.RecordMint(ctx, m)
	if err != nil || !added {
		t.Fatalf("first record added=%v err=%v", added, err)
	}
	added, err = store.RecordMint(ctx, m)
	if err != nil || added {
		t.Fatalf("duplicate record added=%v err=%v", added, err)
	}
	rows, _ := store.ListMints(ctx, 0)
	if len(rows) != 1 {
		t.Fatalf("expected a single row, got %d", len(rows))
	}
}

func TestInsertMintCompletesScannedRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scanned := Mint{TxHash: "0xabc", Contract: "0xc0", TokenID: "4", Minter: "0xaa", BlockNumber: 9}
	if _, err := store.RecordMint(ctx, scanned); err != nil {
		t.Fatalf("record: %v", err)
	}

	err := store.InsertMint(ctx, Mint{TxHash: "0xabc", Contract: "0xc0", Minter: "0xaa", Course: "Go 101", BlockNumber: 9})
	if err != nil {
		t.Fatalf("insert after scan: %v", err)
	}
	rows, _ := store.ListMints(ctx, 0)
	if len(rows) != 1 {
		t.Fatalf("expected a single row, got %d", len(rows))
	}
	if rows[0].Course != "Go 101" || rows[0].TokenID != "4" {
		t.Fatalf("row = %+v", rows[0])
	}
}

func TestCursorUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := store.GetCursor(ctx, "mints"); err != nil || ok {
		t.Fatalf("expected no cursor, ok=%v err=%v", ok, err)
	}
	if err := store.UpsertCursor(ctx, "mints", 10, "0xabc"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertCursor(ctx, "mints", 12, "0xdef"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	h, hash, ok, err := store.GetCursor(ctx, "mints")
	if err != nil || !ok || h != 12 || hash != "0xdef" {
		t.Fatalf("cursor = %d %q ok=%v err=%v", h, hash, ok, err)
	}
	if err := store.UpsertCursor(ctx, "", 1, "x"); err == nil {
		t.Fatalf("expected empty source id to fail")
	}
}

func TestMintedContractsAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.InsertMint(ctx, Mint{TxHash: "0x1", Contract: "0xaaa", TokenID: "1", Minter: "0xm"})
	_ = store.InsertMint(ctx, Mint{TxHash: "0x2", Contract: "0xbbb", TokenID: "2", Minter: "0xm"})
	_ = store.InsertMint(ctx, Mint{TxHash: "0x3", Contract: "0xaaa", TokenID: "3", Minter: "0xm"})

	contracts, err := store.MintedContracts(ctx)
	if err != nil {
		t.Fatalf("minted contracts: %v", err)
	}
	if len(contracts) != 2 || contracts[0] != "0xaaa" || contracts[1] != "0xbbb" {
		t.Fatalf("unexpected contracts: %v", contracts)
	}

	c, ok, err := store.MintContractFor(ctx, "2")
	if err != nil || !ok || c != "0xbbb" {
		t.Fatalf("contract for 2 = %q ok=%v err=%v", c, ok, err)
	}
	if _, ok, err := store.MintContractFor(ctx, "99"); err != nil || ok {
		t.Fatalf("unknown token should not be found, ok=%v err=%v", ok, err)
	}
}

func TestMintLockTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := store.AcquireMintLock(ctx, "0xaa|course", now, time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	ok, err = store.AcquireMintLock(ctx, "0xaa|course", now, time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected lock to be held before expiry")
	}

	later := now.Add(2 * time.Second)
	ok, err = store.AcquireMintLock(ctx, "0xaa|course", later, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected expired lock to be replaced, ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseMintLock(ctx, "0xaa|course"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = store.AcquireMintLock(ctx, "0xaa|course", later, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
