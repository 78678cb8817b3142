package accountsdb

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StorageStatus is the lifecycle state of a StorageEntry.
type StorageStatus int

const (
	// StorageAvailable means the entry may be selected for new writes.
	StorageAvailable StorageStatus = iota
	// StorageCandidate means a writer has claimed the entry via TryAvailable
	// and is actively appending to it.
	StorageCandidate
	// StorageFull means the entry's AppendVec has no remaining capacity.
	StorageFull
)

func (s StorageStatus) String() string {
	switch s {
	case StorageAvailable:
		return "available"
	case StorageCandidate:
		return "candidate"
	case StorageFull:
		return "full"
	default:
		return "unknown"
	}
}

// StorageEntry wraps an AppendVec with lifecycle state, a live-account
// count, and an alive-byte counter. Reference-counted in the sense that
// AccountStorage hands out *StorageEntry pointers directly and relies on
// the Go garbage collector plus the count field (not a separate refcount)
// to know when the underlying storage may be reset or recycled: a non-zero
// count means some index slot-list entry still points at it.
type StorageEntry struct {
	Slot      Slot
	ID        StorageID
	AppendVec *AppendVec

	mu     sync.Mutex
	count  int
	status StorageStatus

	aliveBytes        atomic.Int64
	approxStoredCount atomic.Int64 // monotonic, never decremented; shrink heuristic only
}

// NewStorageEntry wraps vec in a fresh, Available StorageEntry for
// (slot, id).
func NewStorageEntry(slot Slot, id StorageID, vec *AppendVec) *StorageEntry {
	return &StorageEntry{
		Slot:      slot,
		ID:        id,
		AppendVec: vec,
		status:    StorageAvailable,
	}
}

// TryAvailable atomically transitions Available -> Candidate. Returns false
// if the entry was not Available.
func (e *StorageEntry) TryAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StorageAvailable {
		return false
	}
	e.status = StorageCandidate
	return true
}

// Status returns the current lifecycle state.
func (e *StorageEntry) Status() StorageStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Count returns the number of live accounts currently attributed to this
// entry.
func (e *StorageEntry) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// AliveBytes returns the number of bytes attributed to currently-live
// accounts.
func (e *StorageEntry) AliveBytes() int64 {
	return e.aliveBytes.Load()
}

// ApproxStoredCount returns the monotonic (never-decremented) count of
// accounts ever written to this entry — a shrink heuristic, not a liveness
// count.
func (e *StorageEntry) ApproxStoredCount() int64 {
	return e.approxStoredCount.Load()
}

// AddAccount records a newly-appended account of storedSize bytes.
func (e *StorageEntry) AddAccount(storedSize int) {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
	e.aliveBytes.Add(int64(storedSize))
	e.approxStoredCount.Add(1)
}

// RemoveAccount decrements the live count and alive-byte total for an
// account of storedSize bytes that is no longer referenced. If the count
// reaches zero, the entry was Full, and resetIfEmptyAndFull is set, the
// backing AppendVec is reset and the entry returns to Available.
//
// Calling RemoveAccount more times than AddAccount was called is always a
// programming error (the index and storage have diverged) and panics.
func (e *StorageEntry) RemoveAccount(storedSize int, resetIfEmptyAndFull bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count <= 0 {
		panic(fmt.Sprintf("accountsdb: %v: %v", ErrDoubleRemove, e.ID))
	}

	e.count--
	e.aliveBytes.Add(-int64(storedSize))

	if e.count == 0 && e.status == StorageFull && resetIfEmptyAndFull {
		e.AppendVec.Reset()
		e.aliveBytes.Store(0)
		e.status = StorageAvailable
	}
}

// SetStatus transitions the entry's status. Transitioning to Full when the
// entry is already empty (count == 0) immediately resets it to Available
// instead, since an empty Full entry would otherwise sit idle until the
// next RemoveAccount happens to observe it.
func (e *StorageEntry) SetStatus(status StorageStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if status == StorageFull && e.count == 0 {
		e.AppendVec.Reset()
		e.aliveBytes.Store(0)
		e.status = StorageAvailable
		return
	}
	e.status = status
}
