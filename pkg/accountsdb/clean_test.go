package accountsdb_test

import (
	"errors"
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func Test_DB_Clean_Purges_A_Rooted_Zero_Lamport_Account_With_No_Other_References(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk := pubkeyWithFirstByte(1)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk, Lamports: 10}); err != nil {
		t.Fatalf("Store slot 1: %v", err)
	}
	db.AddRoot(1)

	if err := db.Store(2, &accountsdb.Account{Pubkey: pk, Lamports: 0}); err != nil {
		t.Fatalf("Store slot 2: %v", err)
	}
	db.AddRoot(2)

	db.Clean(nil)

	_, err := db.Load(nil, pk, accountsdb.HintUnspecified)
	if !errors.Is(err, accountsdb.ErrNotFoundOnFork) {
		t.Fatalf("expected the fully-dead zero-lamport pubkey to be purged from the index, got %v", err)
	}
}

func Test_DB_Clean_Leaves_Live_Accounts_Loadable(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk := pubkeyWithFirstByte(1)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk, Lamports: 10}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	db.AddRoot(1)

	db.Clean(nil)

	got, err := db.Load(nil, pk, accountsdb.HintUnspecified)
	if err != nil {
		t.Fatalf("expected a live account to survive Clean, got %v", err)
	}
	if got.Lamports != 10 {
		t.Fatalf("expected Lamports==10 to survive unchanged, got %d", got.Lamports)
	}
}

func Test_DB_Clean_Keeps_Newest_Rooted_Version_Visible(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	pk := pubkeyWithFirstByte(1)

	if err := db.Store(1, &accountsdb.Account{Pubkey: pk, Lamports: 10}); err != nil {
		t.Fatalf("Store slot 1: %v", err)
	}
	db.AddRoot(1)
	if err := db.Store(2, &accountsdb.Account{Pubkey: pk, Lamports: 20}); err != nil {
		t.Fatalf("Store slot 2: %v", err)
	}
	db.AddRoot(2)

	maxClean := accountsdb.Slot(2)
	db.Clean(&maxClean)

	got, err := db.Load(nil, pk, accountsdb.HintUnspecified)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Lamports != 20 {
		t.Fatalf("expected the newest rooted version (lamports=20) to remain visible, got %d", got.Lamports)
	}
}
