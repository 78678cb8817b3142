package accountsdb_test

import (
	"path/filepath"
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func newTestStorageEntry(t *testing.T, slot accountsdb.Slot, id accountsdb.StorageID) *accountsdb.StorageEntry {
	t.Helper()
	vec, err := accountsdb.CreateAppendVec(filepath.Join(t.TempDir(), "vec.bin"), 4096)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	t.Cleanup(func() { vec.Close() })
	return accountsdb.NewStorageEntry(slot, id, vec)
}

func Test_StorageEntry_TryAvailable_Transitions_Once(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	if e.Status() != accountsdb.StorageAvailable {
		t.Fatalf("expected a new entry to start Available, got %v", e.Status())
	}
	if !e.TryAvailable() {
		t.Fatalf("expected first TryAvailable to succeed")
	}
	if e.Status() != accountsdb.StorageCandidate {
		t.Fatalf("expected status Candidate after TryAvailable, got %v", e.Status())
	}
	if e.TryAvailable() {
		t.Fatalf("expected second TryAvailable to fail (already Candidate)")
	}
}

func Test_StorageEntry_AddAccount_Then_RemoveAccount_Tracks_Count_And_Bytes(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	e.AddAccount(100)
	e.AddAccount(50)

	if e.Count() != 2 {
		t.Fatalf("expected Count()==2, got %d", e.Count())
	}
	if e.AliveBytes() != 150 {
		t.Fatalf("expected AliveBytes()==150, got %d", e.AliveBytes())
	}
	if e.ApproxStoredCount() != 2 {
		t.Fatalf("expected ApproxStoredCount()==2, got %d", e.ApproxStoredCount())
	}

	e.RemoveAccount(100, false)
	if e.Count() != 1 || e.AliveBytes() != 50 {
		t.Fatalf("expected Count()==1 AliveBytes()==50, got Count()=%d AliveBytes()=%d", e.Count(), e.AliveBytes())
	}
	// ApproxStoredCount is monotonic and must not decrease on removal.
	if e.ApproxStoredCount() != 2 {
		t.Fatalf("expected ApproxStoredCount() to stay at 2 after removal, got %d", e.ApproxStoredCount())
	}
}

func Test_StorageEntry_RemoveAccount_Panics_On_Double_Remove(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	e.AddAccount(10)
	e.RemoveAccount(10, false)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected RemoveAccount to panic when count is already zero")
		}
	}()
	e.RemoveAccount(10, false)
}

func Test_StorageEntry_RemoveAccount_Resets_When_Empty_And_Full_If_Requested(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	e.AddAccount(10)
	e.SetStatus(accountsdb.StorageFull)

	e.RemoveAccount(10, true)
	if e.Status() != accountsdb.StorageAvailable {
		t.Fatalf("expected entry to return to Available after emptying a Full entry, got %v", e.Status())
	}
	if e.AliveBytes() != 0 {
		t.Fatalf("expected AliveBytes() reset to 0, got %d", e.AliveBytes())
	}
}

func Test_StorageEntry_RemoveAccount_Does_Not_Reset_When_Not_Requested(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	e.AddAccount(10)
	e.SetStatus(accountsdb.StorageFull)

	e.RemoveAccount(10, false)
	if e.Status() != accountsdb.StorageFull {
		t.Fatalf("expected entry to remain Full when resetIfEmptyAndFull=false, got %v", e.Status())
	}
}

func Test_StorageEntry_SetStatus_Full_On_Empty_Entry_Immediately_Resets(t *testing.T) {
	t.Parallel()

	e := newTestStorageEntry(t, 1, 1)
	e.SetStatus(accountsdb.StorageFull)

	if e.Status() != accountsdb.StorageAvailable {
		t.Fatalf("expected setting Full on an empty entry to immediately revert to Available, got %v", e.Status())
	}
}

func Test_StorageStatus_String(t *testing.T) {
	t.Parallel()

	cases := map[accountsdb.StorageStatus]string{
		accountsdb.StorageAvailable: "available",
		accountsdb.StorageCandidate: "candidate",
		accountsdb.StorageFull:      "full",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("status %d: expected %q, got %q", status, want, got)
		}
	}
}
