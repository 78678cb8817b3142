package accountsdb_test

import (
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func pubkeyWithFirstByte(b byte) accountsdb.Pubkey {
	var pk accountsdb.Pubkey
	pk[0] = b
	return pk
}

func Test_AccountsIndex_Upsert_New_Then_Update_Same_Slot(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()
	pk := pubkeyWithFirstByte(1)

	var reclaims []accountsdb.SlotListEntry
	isNew := ix.Upsert(10, pk, accountsdb.AccountInfo{StorageID: 1, Offset: 0, Lamports: 5}, &reclaims)
	if !isNew {
		t.Fatalf("expected first Upsert for a pubkey to report isNew=true")
	}
	if len(reclaims) != 0 {
		t.Fatalf("expected no reclaims on first insert, got %d", len(reclaims))
	}

	isNew = ix.Upsert(10, pk, accountsdb.AccountInfo{StorageID: 2, Offset: 0, Lamports: 6}, &reclaims)
	if isNew {
		t.Fatalf("expected re-upsert at the same slot to report isNew=false")
	}
	if len(reclaims) != 1 || reclaims[0].Info.StorageID != 1 {
		t.Fatalf("expected the old (storage=1) entry to be reclaimed, got %+v", reclaims)
	}

	list, ok := ix.SlotList(pk)
	if !ok || len(list) != 1 || list[0].Info.StorageID != 2 {
		t.Fatalf("expected slot-list to contain only the updated entry, got %+v", list)
	}
}

func Test_AccountsIndex_Get_Resolves_By_Ancestors_Then_Root(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()
	pk := pubkeyWithFirstByte(2)

	var reclaims []accountsdb.SlotListEntry
	ix.Upsert(5, pk, accountsdb.AccountInfo{StorageID: 1, Lamports: 1}, &reclaims)
	ix.Upsert(10, pk, accountsdb.AccountInfo{StorageID: 2, Lamports: 2}, &reclaims)

	maxRoot := accountsdb.Slot(5)
	kind, entry := ix.Get(pk, map[accountsdb.Slot]struct{}{10: {}}, &maxRoot)
	if kind != accountsdb.ResultFound || entry.Slot != 10 {
		t.Fatalf("expected ancestor slot 10 to win even though maxRoot=5, got kind=%v entry=%+v", kind, entry)
	}

	kind, entry = ix.Get(pk, nil, &maxRoot)
	if kind != accountsdb.ResultFound || entry.Slot != 5 {
		t.Fatalf("expected rooted lookup to resolve to slot 5, got kind=%v entry=%+v", kind, entry)
	}
}

func Test_AccountsIndex_Get_Missing_Vs_NotFoundOnFork(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()
	pk := pubkeyWithFirstByte(3)

	maxRoot := accountsdb.Slot(0)
	kind, _ := ix.Get(pk, nil, &maxRoot)
	if kind != accountsdb.ResultMissing {
		t.Fatalf("expected ResultMissing for an untouched pubkey, got %v", kind)
	}

	var reclaims []accountsdb.SlotListEntry
	ix.Upsert(100, pk, accountsdb.AccountInfo{StorageID: 1}, &reclaims)

	kind, _ = ix.Get(pk, nil, &maxRoot)
	if kind != accountsdb.ResultNotFoundOnFork {
		t.Fatalf("expected ResultNotFoundOnFork when the only version is above maxRoot, got %v", kind)
	}
}

func Test_AccountsIndex_Range_Iterates_Ascending_And_Respects_End(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()
	var reclaims []accountsdb.SlotListEntry
	for _, b := range []byte{5, 1, 9, 3} {
		ix.Upsert(1, pubkeyWithFirstByte(b), accountsdb.AccountInfo{StorageID: 1}, &reclaims)
	}

	var seen []byte
	start := pubkeyWithFirstByte(0)
	end := pubkeyWithFirstByte(6)
	ix.Range(start, end, func(pk accountsdb.Pubkey, _ []accountsdb.SlotListEntry) bool {
		seen = append(seen, pk[0])
		return true
	})

	want := []byte{1, 3, 5}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("expected seen[%d]=%d, got %d", i, want[i], seen[i])
		}
	}
}

func Test_AccountsIndex_RegisterScanRoot_Tracks_Minimum(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()

	dereg1 := ix.RegisterScanRoot(10)
	dereg2 := ix.RegisterScanRoot(5)

	min, ok := ix.MinOngoingScanRoot()
	if !ok || min != 5 {
		t.Fatalf("expected min ongoing scan root 5, got %d ok=%v", min, ok)
	}

	dereg2()
	min, ok = ix.MinOngoingScanRoot()
	if !ok || min != 10 {
		t.Fatalf("expected min ongoing scan root 10 after deregistering 5, got %d ok=%v", min, ok)
	}

	dereg1()
	_, ok = ix.MinOngoingScanRoot()
	if ok {
		t.Fatalf("expected no ongoing scan roots after both deregistered")
	}
}

func Test_AccountsIndex_HandleDeadKeys_Only_Removes_Empty_SlotLists(t *testing.T) {
	t.Parallel()

	ix := accountsdb.NewAccountsIndex()
	empty := pubkeyWithFirstByte(1)
	nonEmpty := pubkeyWithFirstByte(2)

	var reclaims []accountsdb.SlotListEntry
	ix.Upsert(1, nonEmpty, accountsdb.AccountInfo{StorageID: 1}, &reclaims)
	ix.Upsert(1, empty, accountsdb.AccountInfo{StorageID: 1}, &reclaims)
	ix.PurgeExact(empty, map[accountsdb.Slot]struct{}{1: {}}, &reclaims)

	var removed []accountsdb.Pubkey
	ix.HandleDeadKeys([]accountsdb.Pubkey{empty, nonEmpty}, func(pk accountsdb.Pubkey) {
		removed = append(removed, pk)
	})

	if len(removed) != 1 || removed[0] != empty {
		t.Fatalf("expected only the emptied pubkey to be reported removed, got %+v", removed)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected index to retain exactly the non-empty pubkey, Len()=%d", ix.Len())
	}
}
