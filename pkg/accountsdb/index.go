package accountsdb

import (
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
)

// SlotListEntry is one (slot, location) version of a pubkey in the primary
// index.
type SlotListEntry struct {
	Slot Slot
	Info AccountInfo
}

// indexEntry is the primary index's value: a reference count plus the
// ordered (by insertion, not sorted) list of versions for one pubkey.
type indexEntry struct {
	pubkey   Pubkey
	refcount atomic.Uint64

	mu       sync.RWMutex
	slotList []SlotListEntry
}

func newIndexEntry(pubkey Pubkey) *indexEntry {
	return &indexEntry{pubkey: pubkey}
}

func lessEntry(a, b *indexEntry) bool {
	return a.pubkey.Less(b.pubkey)
}

// Hint controls how strict Load's retry logic is about races with
// concurrent flush/clean/shrink.
type Hint int

const (
	// HintUnspecified covers RPC and miscellaneous callers; races are
	// tolerated and retried with relaxed assertions.
	HintUnspecified Hint = iota
	// HintFixedMaxRoot is used by callers (e.g. transaction replay) that
	// guarantee no root advance during the load; inconsistencies are
	// treated as logic errors and panic.
	HintFixedMaxRoot
)

// ScanResultKind distinguishes the three outcomes of AccountsIndex.Get.
type ScanResultKind int

const (
	// ResultFound means a visible slot-list entry exists.
	ResultFound ScanResultKind = iota
	// ResultNotFoundOnFork means the pubkey exists in the index but has no
	// version visible from the given ancestors/maxRoot bound.
	ResultNotFoundOnFork
	// ResultMissing means the pubkey is not present in the index at all.
	ResultMissing
)

// AccountsIndex is the primary pubkey -> slot-list index (C6). Backed by an
// ordered B-tree so range scans (C13) can iterate by pubkey without sorting
// on every call.
type AccountsIndex struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*indexEntry]

	scanMu           sync.Mutex
	ongoingScanRoots map[Slot]int
}

// NewAccountsIndex creates an empty AccountsIndex.
func NewAccountsIndex() *AccountsIndex {
	return &AccountsIndex{
		tree:             btree.NewBTreeG(lessEntry),
		ongoingScanRoots: make(map[Slot]int),
	}
}

func (ix *AccountsIndex) lookupOrCreate(pubkey Pubkey) (*indexEntry, bool) {
	probe := &indexEntry{pubkey: pubkey}

	ix.mu.RLock()
	if e, ok := ix.tree.Get(probe); ok {
		ix.mu.RUnlock()
		return e, false
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if e, ok := ix.tree.Get(probe); ok {
		return e, false
	}
	e := newIndexEntry(pubkey)
	ix.tree.Set(e)
	return e, true
}

// Upsert records (slot, info) for pubkey, returning whether a brand new
// pubkey was inserted into the index. Any prior (slot, *) entry for the
// same slot is swapped out and appended to reclaims rather than discarded,
// so the caller can release the old storage reference.
func (ix *AccountsIndex) Upsert(slot Slot, pubkey Pubkey, info AccountInfo, reclaims *[]SlotListEntry) (newPubkey bool) {
	e, created := ix.lookupOrCreate(pubkey)

	e.mu.Lock()
	defer e.mu.Unlock()

	replacedCacheOrNothing := true
	for i := range e.slotList {
		if e.slotList[i].Slot == slot {
			old := e.slotList[i]
			*reclaims = append(*reclaims, old)
			e.slotList[i] = SlotListEntry{Slot: slot, Info: info}
			replacedCacheOrNothing = old.Info.IsCached()
			if !info.IsCached() && replacedCacheOrNothing {
				e.refcount.Add(1)
			}
			return false
		}
	}

	e.slotList = append(e.slotList, SlotListEntry{Slot: slot, Info: info})
	if !info.IsCached() {
		e.refcount.Add(1)
	}

	return created
}

// InsertNewIfMissing is the bulk path used during snapshot reconstruction:
// it pre-builds entries outside any write lock, then takes the index write
// lock once to insert-or-merge every item. Per-item refcount treatment
// matches Upsert; a replaced same-slot entry is overwritten without being
// reported as a reclaim.
func (ix *AccountsIndex) InsertNewIfMissing(slot Slot, items map[Pubkey]AccountInfo) {
	prebuilt := make(map[Pubkey]*indexEntry, len(items))
	for pubkey := range items {
		prebuilt[pubkey] = newIndexEntry(pubkey)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for pubkey, info := range items {
		probe := &indexEntry{pubkey: pubkey}
		e, ok := ix.tree.Get(probe)
		if !ok {
			e = prebuilt[pubkey]
			ix.tree.Set(e)
		}

		e.mu.Lock()
		found := false
		for i := range e.slotList {
			if e.slotList[i].Slot == slot {
				if e.slotList[i].Info.IsCached() && !info.IsCached() {
					e.refcount.Add(1)
				}
				e.slotList[i] = SlotListEntry{Slot: slot, Info: info}
				found = true
				break
			}
		}
		if !found {
			e.slotList = append(e.slotList, SlotListEntry{Slot: slot, Info: info})
			if !info.IsCached() {
				e.refcount.Add(1)
			}
		}
		e.mu.Unlock()
	}
}

// Get looks up pubkey and reports Found/NotFoundOnFork/Missing along with
// the resolved slot-list entry when Found.
func (ix *AccountsIndex) Get(pubkey Pubkey, ancestors map[Slot]struct{}, maxRoot *Slot) (ScanResultKind, SlotListEntry) {
	ix.mu.RLock()
	e, ok := ix.tree.Get(&indexEntry{pubkey: pubkey})
	ix.mu.RUnlock()
	if !ok {
		return ResultMissing, SlotListEntry{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, found := LatestSlot(e.slotList, ancestors, maxRoot)
	if !found {
		return ResultNotFoundOnFork, SlotListEntry{}
	}
	return ResultFound, entry
}

// LatestSlot picks the entry in slotList with the maximal slot that either
// lies in ancestors, or is at or below maxRoot. It does not consult the
// roots set: any slot at or below maxRoot counts as visible, rooted or not.
// Among visible entries the one with the greatest slot wins, whether it was
// made visible by ancestors or by maxRoot.
func LatestSlot(slotList []SlotListEntry, ancestors map[Slot]struct{}, maxRoot *Slot) (SlotListEntry, bool) {
	var best SlotListEntry
	have := false

	for _, e := range slotList {
		visible := false
		if ancestors != nil {
			if _, ok := ancestors[e.Slot]; ok {
				visible = true
			}
		}
		if !visible && maxRoot != nil && e.Slot <= *maxRoot {
			visible = true
		}
		if !visible {
			continue
		}
		if !have || e.Slot > best.Slot {
			best = e
			have = true
		}
	}
	return best, have
}

// PurgeExact retains only slot-list entries whose slot is not in slots,
// appending the removed ones to reclaims. Returns true if the slot-list
// became empty.
func (ix *AccountsIndex) PurgeExact(pubkey Pubkey, slots map[Slot]struct{}, reclaims *[]SlotListEntry) bool {
	ix.mu.RLock()
	e, ok := ix.tree.Get(&indexEntry{pubkey: pubkey})
	ix.mu.RUnlock()
	if !ok {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.slotList[:0]
	for _, entry := range e.slotList {
		if _, purge := slots[entry.Slot]; purge {
			*reclaims = append(*reclaims, entry)
			if !entry.Info.IsCached() {
				e.refcount.Add(^uint64(0)) // -1
			}
			continue
		}
		kept = append(kept, entry)
	}
	e.slotList = kept
	return len(e.slotList) == 0
}

// PurgeOlderRootEntries removes entries older than the newest root <=
// maxCleanRoot, except the newest root entry itself, appending removed
// entries to reclaims. Cache-virtual entries are left untouched (they are
// not storage references and clean does not need to reclaim them this way).
func PurgeOlderRootEntries(slotList []SlotListEntry, reclaims *[]SlotListEntry, maxCleanRoot *Slot, isRoot func(Slot) bool) []SlotListEntry {
	if maxCleanRoot == nil {
		return slotList
	}

	var newestRoot Slot
	haveRoot := false
	for _, e := range slotList {
		if e.Slot <= *maxCleanRoot && isRoot(e.Slot) {
			if !haveRoot || e.Slot > newestRoot {
				newestRoot = e.Slot
				haveRoot = true
			}
		}
	}
	if !haveRoot {
		return slotList
	}

	kept := make([]SlotListEntry, 0, len(slotList))
	for _, e := range slotList {
		if e.Slot < *maxCleanRoot && e.Slot != newestRoot && !e.Info.IsCached() {
			*reclaims = append(*reclaims, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// CleanRootedEntries applies PurgeOlderRootEntries to pubkey's slot-list; if
// the slot-list becomes empty, the pubkey is removed from the index under a
// re-checked write lock (double-checking under the lock guards against a
// race with a concurrent Upsert).
func (ix *AccountsIndex) CleanRootedEntries(pubkey Pubkey, reclaims *[]SlotListEntry, maxCleanRoot *Slot, isRoot func(Slot) bool) {
	ix.mu.RLock()
	e, ok := ix.tree.Get(&indexEntry{pubkey: pubkey})
	ix.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.slotList = PurgeOlderRootEntries(e.slotList, reclaims, maxCleanRoot, isRoot)
	empty := len(e.slotList) == 0
	e.mu.Unlock()

	if !empty {
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.tree.Get(&indexEntry{pubkey: pubkey}); ok {
		cur.mu.RLock()
		stillEmpty := len(cur.slotList) == 0
		cur.mu.RUnlock()
		if stillEmpty {
			ix.tree.Delete(cur)
		}
	}
}

// HandleDeadKeys removes every key in keys whose slot-list is currently
// empty, invoking onRemoved for secondary-index cleanup (C7) before the
// primary entry disappears.
func (ix *AccountsIndex) HandleDeadKeys(keys []Pubkey, onRemoved func(Pubkey)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, k := range keys {
		e, ok := ix.tree.Get(&indexEntry{pubkey: k})
		if !ok {
			continue
		}
		e.mu.RLock()
		empty := len(e.slotList) == 0
		e.mu.RUnlock()
		if empty {
			ix.tree.Delete(e)
			if onRemoved != nil {
				onRemoved(k)
			}
		}
	}
}

// RefCount returns the current reference count for pubkey (0 if absent).
func (ix *AccountsIndex) RefCount(pubkey Pubkey) uint64 {
	ix.mu.RLock()
	e, ok := ix.tree.Get(&indexEntry{pubkey: pubkey})
	ix.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.refcount.Load()
}

// SlotList returns a copy of pubkey's current slot-list.
func (ix *AccountsIndex) SlotList(pubkey Pubkey) ([]SlotListEntry, bool) {
	ix.mu.RLock()
	e, ok := ix.tree.Get(&indexEntry{pubkey: pubkey})
	ix.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SlotListEntry, len(e.slotList))
	copy(out, e.slotList)
	return out, true
}

// Len returns the number of pubkeys currently tracked.
func (ix *AccountsIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// RegisterScanRoot records maxRoot as an in-progress fork-consistent scan
// bound. Clean must not purge roots at or below the minimum currently
// registered bound. Returns a deregister func the caller must invoke when
// the scan completes.
func (ix *AccountsIndex) RegisterScanRoot(maxRoot Slot) (deregister func()) {
	ix.scanMu.Lock()
	ix.ongoingScanRoots[maxRoot]++
	ix.scanMu.Unlock()

	return func() {
		ix.scanMu.Lock()
		defer ix.scanMu.Unlock()
		ix.ongoingScanRoots[maxRoot]--
		if ix.ongoingScanRoots[maxRoot] <= 0 {
			delete(ix.ongoingScanRoots, maxRoot)
		}
	}
}

// MinOngoingScanRoot returns the lowest maxRoot bound currently registered
// by an in-flight checked scan, and whether any scan is in flight.
func (ix *AccountsIndex) MinOngoingScanRoot() (Slot, bool) {
	ix.scanMu.Lock()
	defer ix.scanMu.Unlock()

	var min Slot
	have := false
	for s := range ix.ongoingScanRoots {
		if !have || s < min {
			min = s
			have = true
		}
	}
	return min, have
}

// Range calls fn for every pubkey in [start, end) in ascending key order,
// stopping early if fn returns false. end itself is excluded: callers that
// mean "everything" should use RangeInclusive instead of passing the
// all-0xFF pubkey as end. Used by C13's range scan.
func (ix *AccountsIndex) Range(start, end Pubkey, fn func(Pubkey, []SlotListEntry) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ix.tree.Ascend(&indexEntry{pubkey: start}, func(e *indexEntry) bool {
		if !e.pubkey.Less(end) {
			return false
		}
		e.mu.RLock()
		list := make([]SlotListEntry, len(e.slotList))
		copy(list, e.slotList)
		e.mu.RUnlock()
		return fn(e.pubkey, list)
	})
}

// RangeInclusive calls fn for every pubkey in [start, end], including end,
// in ascending key order, stopping early if fn returns false. Callers
// scanning "everything" via [zero-pubkey, all-0xFF-pubkey] must use this
// instead of Range, which would silently exclude a pubkey exactly equal to
// end.
func (ix *AccountsIndex) RangeInclusive(start, end Pubkey, fn func(Pubkey, []SlotListEntry) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ix.tree.Ascend(&indexEntry{pubkey: start}, func(e *indexEntry) bool {
		if end.Less(e.pubkey) {
			return false
		}
		e.mu.RLock()
		list := make([]SlotListEntry, len(e.slotList))
		copy(list, e.slotList)
		e.mu.RUnlock()
		return fn(e.pubkey, list)
	})
}
