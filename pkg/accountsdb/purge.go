package accountsdb

import (
	"sync"
	"time"
)

// PurgeKind selects how Purge removes a slot range from the store (§4.10).
type PurgeKind int

const (
	// PurgeExact walks each slot's entries directly and issues point
	// deletes.
	PurgeExact PurgeKind = iota
	// PurgePrimaryIndex toggles the active transaction-status index when
	// the purged range covers its max-slot, then deletes by range once the
	// frozen index is no longer referenced.
	PurgePrimaryIndex
	// PurgeCompactionFilter takes no explicit deletion action; it only
	// advances the oldest-alive sentinel a background compaction filter
	// consults.
	PurgeCompactionFilter
)

// TransactionStatusIndex tracks the two-generation "active/frozen" index
// used by PurgePrimaryIndex (§4.10, §8 scenario 4).
type TransactionStatusIndex struct {
	mu      sync.Mutex
	active  int
	maxSlot [2]Slot
	gen     [2]int // monotonically increasing "primary index" generation label per slot; scenario 4's "sentinel buffer entry with primary index 2"
}

// NewTransactionStatusIndex creates a status index starting at generation 0
// active.
func NewTransactionStatusIndex() *TransactionStatusIndex {
	return &TransactionStatusIndex{gen: [2]int{0, 1}}
}

// Record notes that a transaction status was written at slot under the
// currently active index.
func (t *TransactionStatusIndex) Record(slot Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot > t.maxSlot[t.active] {
		t.maxSlot[t.active] = slot
	}
}

// toggle rotates the active index, assigning the next generation label to
// the newly-active slot.
func (t *TransactionStatusIndex) toggle() {
	next := 1 - t.active
	t.gen[next] = t.gen[0] + t.gen[1] + 1
	t.active = next
	t.maxSlot[next] = 0
}

// ActiveGeneration returns the generation label of the currently active
// index, the one new writes land under.
func (t *TransactionStatusIndex) ActiveGeneration() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen[t.active]
}

// PurgeResult summarizes what a Purge call did, mainly for tests and
// telemetry.
type PurgeResult struct {
	SlotsRemoved      []Slot
	IndexToggled      bool
	MaxExpiredSlotSet bool
}

// Purge removes [fromSlot, toSlot] from the store under kind. The range is
// removed one slot at a time: for each slot its storages are removed via
// AccountStorage.RemoveSlot, then its root, then its index entries. No lock
// spans the whole range or the steps for one slot, so a concurrent reader
// can observe a partly purged range.
func (db *DB) Purge(fromSlot, toSlot Slot, kind PurgeKind, statusIndex *TransactionStatusIndex) PurgeResult {
	start := time.Now()
	defer func() {
		if db.metrics != nil {
			db.metrics.purgeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	var result PurgeResult

	switch kind {
	case PurgeExact:
		result.SlotsRemoved = db.purgeExactRange(fromSlot, toSlot)

	case PurgePrimaryIndex:
		if statusIndex != nil {
			statusIndex.mu.Lock()
			covers := statusIndex.maxSlot[statusIndex.active] >= fromSlot &&
				statusIndex.maxSlot[statusIndex.active] <= toSlot
			if covers {
				statusIndex.toggle()
				result.IndexToggled = true
			}
			statusIndex.mu.Unlock()
		}
		result.SlotsRemoved = db.purgeExactRange(fromSlot, toSlot)

	case PurgeCompactionFilter:
		// Operational rule: only ever called when purging chronologically
		// older slots, since the sentinel is monotonically advancing.
		db.setMaxExpiredSlot(toSlot + 1)
		result.MaxExpiredSlotSet = true
	}

	return result
}

func (db *DB) purgeExactRange(fromSlot, toSlot Slot) []Slot {
	var removed []Slot
	for _, slot := range db.storage.Slots() {
		if slot < fromSlot || slot > toSlot {
			continue
		}

		for _, e := range db.storage.RemoveSlot(slot) {
			_ = e.AppendVec.Close()
		}
		db.roots.RemoveRoot(slot)

		// Drop every index slot-list entry pointing at this slot and any
		// secondary index presence that becomes dead as a result.
		db.purgeIndexEntriesForSlot(slot)

		removed = append(removed, slot)
	}
	return removed
}

// purgeIndexEntriesForSlot walks the primary index and removes every
// slot-list entry for slot, handling dead keys and secondary-index cleanup.
// A linear index walk is acceptable here: Purge is an operator-invoked,
// infrequent bulk operation, not a hot path.
func (db *DB) purgeIndexEntriesForSlot(slot Slot) {
	var deadKeys []Pubkey
	slots := map[Slot]struct{}{slot: {}}

	zero := Pubkey{}
	var max Pubkey
	for i := range max {
		max[i] = 0xFF
	}

	var toCheck []Pubkey
	db.index.RangeInclusive(zero, max, func(pk Pubkey, list []SlotListEntry) bool {
		for _, e := range list {
			if e.Slot == slot {
				toCheck = append(toCheck, pk)
				break
			}
		}
		return true
	})

	for _, pk := range toCheck {
		var reclaims []SlotListEntry
		empty := db.index.PurgeExact(pk, slots, &reclaims)
		db.applyReclaims(reclaims, true)
		db.cache.ReadOnlyInvalidate(pk)
		if empty {
			deadKeys = append(deadKeys, pk)
		}
	}

	db.index.HandleDeadKeys(deadKeys, func(pk Pubkey) {
		if db.opts.EnableSecondaryIndexes {
			db.secondary.RemoveDead(pk)
		}
		db.cache.ReadOnlyInvalidate(pk)
	})
}

func (db *DB) setMaxExpiredSlot(s Slot) {
	db.frozenMu.Lock()
	defer db.frozenMu.Unlock()
	// Reuses the frozen-accounts mutex purely for convenience of having a
	// single small lock; maxExpiredSlot is logically independent state.
	db.maxExpiredSlot = s
}
