package accountsdb_test

import (
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func Test_RollingBitField_Panics_On_NonPowerOfTwo_Width(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for non-power-of-two maxWidth")
		}
	}()
	accountsdb.NewRollingBitField(17)
}

func Test_RollingBitField_Basic_Insert_Contains_Remove(t *testing.T) {
	t.Parallel()

	r := accountsdb.NewRollingBitField(16)

	r.Insert(5)
	if !r.Contains(5) {
		t.Fatalf("expected 5 to be a member after Insert")
	}
	if r.Len() != 1 {
		t.Fatalf("expected Len()==1, got %d", r.Len())
	}

	r.Remove(5)
	if r.Contains(5) {
		t.Fatalf("expected 5 to be gone after Remove")
	}
	if r.Len() != 0 {
		t.Fatalf("expected Len()==0, got %d", r.Len())
	}
}

// Test_RollingBitField_Overflow_Preserves_InWindow_Key reproduces the window
// overflow scenario: a value far ahead of the current window must not cause
// the window's new minimum to skip past a key that is still being inserted.
func Test_RollingBitField_Overflow_Preserves_InWindow_Key(t *testing.T) {
	t.Parallel()

	r := accountsdb.NewRollingBitField(16)

	r.Insert(100)
	r.Insert(101)
	r.Insert(1000)

	if !r.Contains(100) {
		t.Errorf("expected 100 to remain a member (migrated to excess)")
	}
	if !r.Contains(101) {
		t.Errorf("expected 101 to remain a member (migrated to excess)")
	}
	if !r.Contains(1000) {
		t.Errorf("expected 1000 to be a member of the new window")
	}
	if got := r.Len(); got != 3 {
		t.Errorf("expected Len()==3, got %d", got)
	}
}

func Test_RollingBitField_GetAll_Returns_Ascending(t *testing.T) {
	t.Parallel()

	r := accountsdb.NewRollingBitField(16)
	inserted := []uint64{50, 7, 1000, 999, 8}
	for _, k := range inserted {
		r.Insert(k)
	}

	got := r.GetAll()
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("GetAll not ascending: %v", got)
		}
	}
	if len(got) != len(inserted) {
		t.Fatalf("expected %d members, got %d: %v", len(inserted), len(got), got)
	}
}

func Test_RollingBitField_Remove_BelowWindow_Removes_From_Excess(t *testing.T) {
	t.Parallel()

	r := accountsdb.NewRollingBitField(16)
	r.Insert(100)
	r.Insert(1000) // pushes 100 into excess

	if !r.Contains(100) {
		t.Fatalf("precondition: 100 should still be a member")
	}

	r.Remove(100)
	if r.Contains(100) {
		t.Fatalf("expected 100 removed from excess")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("expected Len()==1 after removing excess member, got %d", got)
	}
}
