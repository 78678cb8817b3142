package accountsdb_test

import (
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

// bigData returns a 2000-byte data blob filled with fill. The DBs in these
// tests come from openTestDB, whose storages are far larger than one such
// record.
func bigData(fill byte) []byte {
	d := make([]byte, 2000)
	for i := range d {
		d[i] = fill
	}
	return d
}

func Test_DB_ShrinkCandidates_Flags_A_Storage_With_Low_Alive_Ratio(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk1 := pubkeyWithFirstByte(1)
	pk2 := pubkeyWithFirstByte(2)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk1, Lamports: 1, Data: bigData(0xAA)}); err != nil {
		t.Fatalf("store pk1 v1: %v", err)
	}
	if err := db.Store(1, &accountsdb.Account{Pubkey: pk2, Lamports: 2, Data: bigData(0xBB)}); err != nil {
		t.Fatalf("store pk2: %v", err)
	}
	// Overwrites pk1 within the same slot; the original pk1 storage entry
	// now has zero alive accounts while remaining allocated.
	if err := db.Store(1, &accountsdb.Account{Pubkey: pk1, Lamports: 3, Data: bigData(0xCC)}); err != nil {
		t.Fatalf("store pk1 v2: %v", err)
	}

	candidates := db.ShrinkCandidates()
	found := false
	for _, s := range candidates {
		if s == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected slot 1 to be a shrink candidate, got %v", candidates)
	}
}

func Test_DB_Shrink_Repacks_Alive_Accounts_And_Preserves_Their_Latest_Values(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk1 := pubkeyWithFirstByte(1)
	pk2 := pubkeyWithFirstByte(2)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk1, Lamports: 1, Data: bigData(0xAA)}); err != nil {
		t.Fatalf("store pk1 v1: %v", err)
	}
	if err := db.Store(1, &accountsdb.Account{Pubkey: pk2, Lamports: 2, Data: bigData(0xBB)}); err != nil {
		t.Fatalf("store pk2: %v", err)
	}
	if err := db.Store(1, &accountsdb.Account{Pubkey: pk1, Lamports: 3, Data: bigData(0xCC)}); err != nil {
		t.Fatalf("store pk1 v2: %v", err)
	}
	db.AddRoot(1)

	if err := db.Shrink(1); err != nil {
		t.Fatalf("Shrink: %v", err)
	}

	got1, err := db.Load(nil, pk1, accountsdb.HintUnspecified)
	if err != nil {
		t.Fatalf("Load pk1 after shrink: %v", err)
	}
	if got1.Lamports != 3 || got1.Data[0] != 0xCC {
		t.Fatalf("expected pk1's latest version (lamports=3, fill=0xCC) to survive shrink, got lamports=%d fill=%x", got1.Lamports, got1.Data[0])
	}

	got2, err := db.Load(nil, pk2, accountsdb.HintUnspecified)
	if err != nil {
		t.Fatalf("Load pk2 after shrink: %v", err)
	}
	if got2.Lamports != 2 || got2.Data[0] != 0xBB {
		t.Fatalf("expected pk2 unchanged by shrink, got lamports=%d fill=%x", got2.Lamports, got2.Data[0])
	}
}

func Test_DB_ShrinkCandidates_Empty_When_Storages_Are_Dense(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk := pubkeyWithFirstByte(1)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk, Lamports: 1, Data: bigData(0xAA)}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	for _, s := range db.ShrinkCandidates() {
		if s == 1 {
			t.Fatalf("expected a single fully-alive storage to not be a shrink candidate")
		}
	}
}
