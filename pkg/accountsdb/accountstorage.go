package accountsdb

import "sync"

// slotBucket is one slot's set of storage entries, independently locked so
// that writers to other slots are never blocked. Mirrors the teacher's
// per-file-identity registry entries, each guarded by their own rwlock
// rather than a single package-wide lock.
type slotBucket struct {
	mu      sync.RWMutex
	entries map[StorageID]*StorageEntry
}

// AccountStorage maps slot -> set of storage entries keyed by storage-id.
// Safe for concurrent use; lookups in one slot never block writers to a
// different slot.
type AccountStorage struct {
	buckets sync.Map // Slot -> *slotBucket
}

// NewAccountStorage creates an empty AccountStorage.
func NewAccountStorage() *AccountStorage {
	return &AccountStorage{}
}

func (s *AccountStorage) bucket(slot Slot) *slotBucket {
	if b, ok := s.buckets.Load(slot); ok {
		return b.(*slotBucket)
	}
	b := &slotBucket{entries: make(map[StorageID]*StorageEntry)}
	actual, _ := s.buckets.LoadOrStore(slot, b)
	return actual.(*slotBucket)
}

// Insert adds entry to its slot's bucket. First-writer-wins if an entry
// with the same StorageID already exists.
func (s *AccountStorage) Insert(entry *StorageEntry) {
	b := s.bucket(entry.Slot)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[entry.ID]; !exists {
		b.entries[entry.ID] = entry
	}
}

// Get returns the storage entry for (slot, id), if present.
func (s *AccountStorage) Get(slot Slot, id StorageID) (*StorageEntry, bool) {
	v, ok := s.buckets.Load(slot)
	if !ok {
		return nil, false
	}
	b := v.(*slotBucket)
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	return e, ok
}

// ForEachInSlot calls fn for every storage entry in slot's bucket. fn must
// not call back into AccountStorage for the same slot.
func (s *AccountStorage) ForEachInSlot(slot Slot, fn func(*StorageEntry)) {
	v, ok := s.buckets.Load(slot)
	if !ok {
		return
	}
	b := v.(*slotBucket)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		fn(e)
	}
}

// SlotEntries returns a snapshot slice of the storage entries for slot.
func (s *AccountStorage) SlotEntries(slot Slot) []*StorageEntry {
	var out []*StorageEntry
	s.ForEachInSlot(slot, func(e *StorageEntry) { out = append(out, e) })
	return out
}

// RemoveFromSlot deletes a single (slot, id) entry from its bucket and
// returns it (the caller is responsible for closing its AppendVec outside
// of any lock, so the mmap teardown never happens while s's internal lock
// is held).
func (s *AccountStorage) RemoveFromSlot(slot Slot, id StorageID) (*StorageEntry, bool) {
	v, ok := s.buckets.Load(slot)
	if !ok {
		return nil, false
	}
	b := v.(*slotBucket)
	b.mu.Lock()
	e, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	b.mu.Unlock()
	return e, ok
}

// RemoveSlot removes an entire slot's bucket in a single map operation and
// returns its entries. The caller drops/closes them outside of any lock
// held by AccountStorage.
func (s *AccountStorage) RemoveSlot(slot Slot) []*StorageEntry {
	v, ok := s.buckets.LoadAndDelete(slot)
	if !ok {
		return nil
	}
	b := v.(*slotBucket)
	b.mu.Lock()
	out := make([]*StorageEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.mu.Unlock()
	return out
}

// HasSlot reports whether slot currently has a bucket (possibly empty).
func (s *AccountStorage) HasSlot(slot Slot) bool {
	_, ok := s.buckets.Load(slot)
	return ok
}

// Slots returns a snapshot of every slot with at least one storage entry
// bucket, in no particular order.
func (s *AccountStorage) Slots() []Slot {
	var out []Slot
	s.buckets.Range(func(key, _ any) bool {
		out = append(out, key.(Slot))
		return true
	})
	return out
}

// AllDead reports whether every storage entry in slot's bucket currently
// has a zero live count — i.e. the slot as a whole is a dead slot.
func (s *AccountStorage) AllDead(slot Slot) bool {
	v, ok := s.buckets.Load(slot)
	if !ok {
		return false
	}
	b := v.(*slotBucket)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return false
	}
	for _, e := range b.entries {
		if e.Count() > 0 {
			return false
		}
	}
	return true
}
