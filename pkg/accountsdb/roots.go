package accountsdb

import "sync"

// rootsWindow bounds the RollingBitField backing RootsTracker. 1<<22 slots
// (~4M) keeps the bit array under half a megabyte while covering far more
// than a validator's typical live-fork depth; older roots fall into the
// excess overflow set rather than being rejected.
const rootsWindow = 1 << 22

// RootsTracker owns the set of committed (rooted) slots plus the bookkeeping
// Clean uses to know which slots still need a cleaning pass.
type RootsTracker struct {
	mu sync.RWMutex

	roots *RollingBitField

	uncleanedRoots         map[Slot]struct{}
	previousUncleanedRoots map[Slot]struct{}

	maxRoot Slot
}

// NewRootsTracker creates an empty RootsTracker.
func NewRootsTracker() *RootsTracker {
	return &RootsTracker{
		roots:                  NewRollingBitField(rootsWindow),
		uncleanedRoots:         make(map[Slot]struct{}),
		previousUncleanedRoots: make(map[Slot]struct{}),
	}
}

// AddRoot records S as a committed root. S must be >= the current MaxRoot.
// markUncleaned is false when write-caching defers a slot's entry into
// uncleanedRoots until it is actually flushed to storage (see
// DB.Flush).
func (t *RootsTracker) AddRoot(s Slot, markUncleaned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s < t.maxRoot {
		panic("accountsdb: AddRoot called with a slot older than the current max root")
	}

	t.roots.Insert(uint64(s))
	t.maxRoot = s
	if markUncleaned {
		t.uncleanedRoots[s] = struct{}{}
	}
}

// MarkFlushedUncleaned adds s to uncleanedRoots. Used when write-caching is
// enabled: a root is only eligible for cleaning once its cache contents have
// actually been flushed to storage.
func (t *RootsTracker) MarkFlushedUncleaned(s Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uncleanedRoots[s] = struct{}{}
}

// ContainsRoot reports whether s has been committed as a root.
func (t *RootsTracker) ContainsRoot(s Slot) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots.Contains(uint64(s))
}

// MaxRoot returns the highest committed root.
func (t *RootsTracker) MaxRoot() Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxRoot
}

// Len returns the number of tracked roots.
func (t *RootsTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots.Len()
}

// RemoveRoot drops s from the root set. Only valid once s has become a dead
// slot (all its storages have zero alive count); callers must not call this
// for a slot that might still be read.
func (t *RootsTracker) RemoveRoot(s Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots.Remove(uint64(s))
	delete(t.uncleanedRoots, s)
	delete(t.previousUncleanedRoots, s)
}

// ResetUncleaned moves every uncleaned root <= maxClean into
// previousUncleanedRoots and returns the *old* previousUncleanedRoots set
// (the one Clean should consume this pass), replacing it with a fresh one.
func (t *RootsTracker) ResetUncleaned(maxClean Slot) map[Slot]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.previousUncleanedRoots
	next := make(map[Slot]struct{})

	for s := range t.uncleanedRoots {
		if s <= maxClean {
			next[s] = struct{}{}
			delete(t.uncleanedRoots, s)
		}
	}

	t.previousUncleanedRoots = next
	return old
}
