package accountsdb_test

import (
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func Test_RootsTracker_AddRoot_Then_ContainsRoot_And_MaxRoot(t *testing.T) {
	t.Parallel()

	rt := accountsdb.NewRootsTracker()
	rt.AddRoot(5, true)
	rt.AddRoot(10, true)

	if !rt.ContainsRoot(5) || !rt.ContainsRoot(10) {
		t.Fatalf("expected both 5 and 10 to be roots")
	}
	if rt.ContainsRoot(6) {
		t.Fatalf("expected 6 to not be a root")
	}
	if rt.MaxRoot() != 10 {
		t.Fatalf("expected MaxRoot()==10, got %d", rt.MaxRoot())
	}
	if rt.Len() != 2 {
		t.Fatalf("expected Len()==2, got %d", rt.Len())
	}
}

func Test_RootsTracker_AddRoot_Panics_On_Regression(t *testing.T) {
	t.Parallel()

	rt := accountsdb.NewRootsTracker()
	rt.AddRoot(10, true)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected AddRoot with a slot older than MaxRoot to panic")
		}
	}()
	rt.AddRoot(5, true)
}

func Test_RootsTracker_RemoveRoot_Drops_From_Every_Set(t *testing.T) {
	t.Parallel()

	rt := accountsdb.NewRootsTracker()
	rt.AddRoot(5, true)

	rt.RemoveRoot(5)
	if rt.ContainsRoot(5) {
		t.Fatalf("expected 5 to no longer be a root after RemoveRoot")
	}
	if rt.Len() != 0 {
		t.Fatalf("expected Len()==0 after removing the only root, got %d", rt.Len())
	}
}

func Test_RootsTracker_ResetUncleaned_Moves_Eligible_Roots_And_Returns_Previous(t *testing.T) {
	t.Parallel()

	rt := accountsdb.NewRootsTracker()
	rt.AddRoot(1, true)
	rt.AddRoot(2, true)
	rt.AddRoot(10, true)

	// First pass: nothing is "previous" yet, so the returned set is empty,
	// and slots <= 5 move into the tracker's internal previous set.
	first := rt.ResetUncleaned(5)
	if len(first) != 0 {
		t.Fatalf("expected the first ResetUncleaned call to return an empty set, got %v", first)
	}

	// Second pass consumes what the first pass staged.
	second := rt.ResetUncleaned(100)
	if _, ok := second[1]; !ok {
		t.Errorf("expected slot 1 to be in the consumed set")
	}
	if _, ok := second[2]; !ok {
		t.Errorf("expected slot 2 to be in the consumed set")
	}
	if _, ok := second[10]; ok {
		t.Errorf("expected slot 10 (above the first pass's maxClean=5) to not appear in the second pass's previous set yet")
	}
}

func Test_RootsTracker_MarkFlushedUncleaned_Makes_Slot_Eligible_For_Next_Reset(t *testing.T) {
	t.Parallel()

	rt := accountsdb.NewRootsTracker()
	rt.AddRoot(7, false) // not marked uncleaned yet, as in the write-cache-deferred path

	rt.MarkFlushedUncleaned(7)
	rt.ResetUncleaned(7)
	consumed := rt.ResetUncleaned(7)
	if _, ok := consumed[7]; !ok {
		t.Fatalf("expected slot 7 to surface once MarkFlushedUncleaned made it eligible")
	}
}
