package accountsdb

import "iter"

// ScanKind selects whether Scan runs checked or unchecked (§4.11); range
// and indexed scans are the separate methods RangeScan and IndexedScan.
type ScanKind int

const (
	// ScanChecked registers maxRoot in the ongoing-scan tracker so Clean
	// cannot purge roots this scan still depends on, and deregisters when
	// the returned iterator is exhausted or abandoned.
	ScanChecked ScanKind = iota
	// ScanUnchecked performs the same traversal with no registration;
	// intended for telemetry/rent paths tolerant of a concurrent clean.
	ScanUnchecked
)

// Scan returns every account visible at (ancestors, maxRoot), using kind's
// registration discipline.
func (db *DB) Scan(ancestors map[Slot]struct{}, maxRoot Slot, kind ScanKind) iter.Seq[*Account] {
	return func(yield func(*Account) bool) {
		var deregister func()
		if kind == ScanChecked {
			deregister = db.index.RegisterScanRoot(maxRoot)
			defer deregister()

			// If maxRoot itself isn't among the caller's ancestors, the
			// scan degrades to a rooted scan: either the caller's fork is
			// not a descendant of maxRoot, or the caller's slot is an
			// ancestor of maxRoot, and in both cases substituting empty
			// ancestors is safe (§4.6).
			if _, ok := ancestors[maxRoot]; !ok {
				ancestors = nil
			}
		}

		zero := Pubkey{}
		var max Pubkey
		for i := range max {
			max[i] = 0xFF
		}

		cont := true
		db.index.RangeInclusive(zero, max, func(pk Pubkey, list []SlotListEntry) bool {
			entry, found := LatestSlot(list, ancestors, &maxRoot)
			if !found {
				return true
			}
			a, err := db.materialize(pk, entry)
			if err != nil {
				return true
			}
			if !yield(a) {
				cont = false
				return false
			}
			return true
		})
		_ = cont
	}
}

// RangeScan is like ScanUnchecked but constrained to pubkeys in [start,
// end), using the index's native B-tree range iteration rather than a full
// traversal.
func (db *DB) RangeScan(start, end Pubkey, ancestors map[Slot]struct{}, maxRoot Slot) iter.Seq[*Account] {
	return func(yield func(*Account) bool) {
		db.index.Range(start, end, func(pk Pubkey, list []SlotListEntry) bool {
			entry, found := LatestSlot(list, ancestors, &maxRoot)
			if !found {
				return true
			}
			a, err := db.materialize(pk, entry)
			if err != nil {
				return true
			}
			return yield(a)
		})
	}
}

// IndexedScan yields every account currently filed under (kind, key) in the
// secondary index. If the index's coverage for key is incomplete (the
// operator excluded it), IndexedScan transparently falls back to a full
// Scan, since the secondary index is then provably unable to answer the
// query completely.
func (db *DB) IndexedScan(kind SecondaryIndexKind, key Pubkey, ancestors map[Slot]struct{}, maxRoot Slot) iter.Seq[*Account] {
	if !db.secondary.IsComplete(kind, key) {
		return db.Scan(ancestors, maxRoot, ScanUnchecked)
	}

	return func(yield func(*Account) bool) {
		for _, pk := range db.secondary.Lookup(kind, key) {
			kindRes, entry := db.index.Get(pk, ancestors, &maxRoot)
			if kindRes != ResultFound {
				continue
			}
			a, err := db.materialize(pk, entry)
			if err != nil {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// materialize loads the account an index entry points to, via cache or
// storage (the §4.12 "account accessor" without the retry loop, since a
// scan snapshot already froze which entry to look at).
func (db *DB) materialize(pk Pubkey, entry SlotListEntry) (*Account, error) {
	if entry.Info.IsCached() {
		if a, ok := db.cache.Load(pk, entry.Slot); ok {
			return a, nil
		}
		return nil, ErrNotFoundOnFork
	}

	if a, ok := db.cache.ReadOnlyGet(pk, entry.Slot); ok {
		return a, nil
	}

	se, ok := db.storage.Get(entry.Slot, entry.Info.StorageID)
	if !ok {
		return nil, ErrNotFoundOnFork
	}
	a, _, err := se.AppendVec.GetAccount(entry.Info.Offset)
	if err != nil {
		return nil, err
	}
	a.Slot = entry.Slot
	db.cache.ReadOnlyPut(pk, entry.Slot, a)
	return a, nil
}
