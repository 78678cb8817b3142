package accountsdb

import (
	"runtime"
	"sync"
	"time"
)

// cleanCandidate is a pubkey flagged for clean's scan pass, together with
// which reason flagged it (zero-lamport vs having an uncleaned-root
// entry); a pubkey may be flagged for both reasons simultaneously.
type cleanCandidate struct {
	pubkey           Pubkey
	zeroLamport      bool
	hasUncleanedRoot bool
	slotList         []SlotListEntry
	refcount         uint64
}

// Clean reconciles the index with storage: it removes index entries and
// storage bytes for account versions no newer-rooted or still-live reader
// can observe (§4.8). maxCleanRoot, if non-nil, bounds how far clean may
// advance; it is further clamped to the minimum ongoing fork-consistent
// scan root.
func (db *DB) Clean(maxCleanRoot *Slot) {
	start := time.Now()
	defer func() {
		if db.metrics != nil {
			db.metrics.cleanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	db.cleanShrinkMu.Lock()
	defer db.cleanShrinkMu.Unlock()

	effective := db.effectiveMaxCleanRoot(maxCleanRoot)

	candidates := db.buildCleanCandidates(effective)
	if len(candidates) == 0 {
		return
	}

	db.scanCleanCandidates(candidates, effective)

	// Step 3-4: reclaim older-than-root entries for candidates that carry
	// an uncleaned-root entry.
	for i := range candidates {
		c := &candidates[i]
		if !c.hasUncleanedRoot {
			continue
		}
		var reclaims []SlotListEntry
		db.index.CleanRootedEntries(c.pubkey, &reclaims, effective, db.roots.ContainsRoot)
		db.applyReclaims(reclaims, false) // resetAccounts=false: §4.8 step 4
	}

	// Step 5-7: hypothetical zero-lamport purge with dependency resolution.
	zeroCandidates := make([]*cleanCandidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].zeroLamport {
			zeroCandidates = append(zeroCandidates, &candidates[i])
		}
	}
	deletable := db.calcDeleteDependencies(zeroCandidates)

	// Step 8: purge exact the surviving zero-lamport candidates.
	var deadKeys []Pubkey
	for _, c := range deletable {
		slots := make(map[Slot]struct{}, len(c.slotList))
		for _, e := range c.slotList {
			slots[e.Slot] = struct{}{}
		}
		var reclaims []SlotListEntry
		empty := db.index.PurgeExact(c.pubkey, slots, &reclaims)
		db.applyReclaims(reclaims, false)
		if empty {
			deadKeys = append(deadKeys, c.pubkey)
		}
	}
	db.index.HandleDeadKeys(deadKeys, func(pk Pubkey) {
		if db.opts.EnableSecondaryIndexes {
			db.secondary.RemoveDead(pk)
		}
		db.cache.ReadOnlyInvalidate(pk)
		db.zeroLamportSet.Delete(pk)
	})

	// Step 9: retire dead slots.
	db.reapDeadSlots()
}

// effectiveMaxCleanRoot clamps requested to the minimum ongoing scan root,
// per §4.8's "Effective max_clean_root = min(requested, min ongoing scan
// root)".
func (db *DB) effectiveMaxCleanRoot(requested *Slot) *Slot {
	min, ok := db.index.MinOngoingScanRoot()
	if !ok {
		return requested
	}
	if requested == nil || min < *requested {
		return &min
	}
	return requested
}

// buildCleanCandidates unions zero-lamport-flagged pubkeys with dirty
// pubkeys drawn from uncleaned roots <= maxCleanRoot (§4.8 step 1).
func (db *DB) buildCleanCandidates(maxCleanRoot *Slot) []cleanCandidate {
	seen := make(map[Pubkey]*cleanCandidate)

	db.zeroLamportSet.Range(func(key, _ any) bool {
		pk := key.(Pubkey)
		seen[pk] = &cleanCandidate{pubkey: pk, zeroLamport: true}
		return true
	})

	if maxCleanRoot != nil {
		prevUncleaned := db.roots.ResetUncleaned(*maxCleanRoot)
		for slot := range prevUncleaned {
			for _, pk := range db.dirtyPubkeysForSlot(slot) {
				c, ok := seen[pk]
				if !ok {
					c = &cleanCandidate{pubkey: pk}
					seen[pk] = c
				}
				c.hasUncleanedRoot = true
			}
		}
	}

	out := make([]cleanCandidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, *c)
	}
	return out
}

// dirtyPubkeysForSlot enumerates every pubkey with a slot-list entry
// pointing at slot, by walking that slot's storage entries. This avoids
// maintaining a separate "dirty pubkeys per slot" side index at the cost of
// a linear scan of the slot's own storage, which is small relative to the
// whole keyspace.
func (db *DB) dirtyPubkeysForSlot(slot Slot) []Pubkey {
	var out []Pubkey
	for _, e := range db.storage.SlotEntries(slot) {
		for acc := range e.AppendVec.Accounts(0) {
			out = append(out, acc.Pubkey)
		}
	}
	return out
}

// scanCleanCandidates resolves each candidate's slot-list and refcount
// snapshot in parallel chunks (§4.8 step 2), classifying each as a
// zero-lamport or old-account candidate (or both).
func (db *DB) scanCleanCandidates(candidates []cleanCandidate, maxCleanRoot *Slot) {
	workers := max(1, runtime.GOMAXPROCS(0))
	chunks := chunkIndices(len(candidates), workers)

	// With no maxCleanRoot, the zero-lamport test looks at every version up
	// to the current max root.
	zeroLamportBound := maxCleanRoot
	if zeroLamportBound == nil {
		mr := db.roots.MaxRoot()
		zeroLamportBound = &mr
	}

	var wg sync.WaitGroup
	for _, chunk := range chunks {
		chunk := chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := chunk.start; i < chunk.end; i++ {
				c := &candidates[i]
				list, ok := db.index.SlotList(c.pubkey)
				if !ok {
					continue
				}
				c.slotList = list
				c.refcount = db.index.RefCount(c.pubkey)

				latest, found := LatestSlot(list, nil, zeroLamportBound)
				c.zeroLamport = found && latest.Info.IsZeroLamport()

				for _, e := range list {
					if maxCleanRoot != nil && e.Slot <= *maxCleanRoot && db.roots.ContainsRoot(e.Slot) {
						c.hasUncleanedRoot = c.hasUncleanedRoot || true
					}
				}
			}
		}()
	}
	wg.Wait()
}

type indexRange struct{ start, end int }

func chunkIndices(n, workers int) []indexRange {
	if n == 0 {
		return nil
	}
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	var out []indexRange
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, indexRange{start, end})
	}
	return out
}

// calcDeleteDependencies implements §4.8 steps 5-7: compute, for each
// zero-lamport candidate, whether every storage it references would reach
// a provisional alive-count of zero if the candidate were purged. A
// candidate whose index doesn't fully account for its storage references
// (slotList length != refcount), or any of whose storages still has a
// live, non-candidate account after the hypothetical purge, is marked
// "keep" and excluded — and its storages' provisional counts are restored,
// which can in turn flip other candidates to "keep" (propagated to a
// fixpoint).
func (db *DB) calcDeleteDependencies(candidates []*cleanCandidate) []*cleanCandidate {
	type storageKey struct {
		slot Slot
		id   StorageID
	}

	provisional := make(map[storageKey]int64)
	refBy := make(map[storageKey][]*cleanCandidate)

	for _, c := range candidates {
		for _, e := range c.slotList {
			if e.Info.IsCached() {
				continue
			}
			k := storageKey{e.Slot, e.Info.StorageID}
			refBy[k] = append(refBy[k], c)
		}
	}

	// Seed each storage's provisional count as if every candidate
	// referencing it purges simultaneously, not one at a time: otherwise
	// two zero-lamport candidates sharing a storage with no other live
	// reference each see the other's still-unsubtracted ref and both get
	// wrongly kept.
	for k, refs := range refBy {
		if entry, ok := db.storage.Get(k.slot, k.id); ok {
			provisional[k] = entry.Count() - int64(len(refs))
		}
	}

	keep := make(map[*cleanCandidate]bool)
	markKeep := func(c *cleanCandidate) {
		if keep[c] {
			return
		}
		keep[c] = true
		for _, e := range c.slotList {
			if e.Info.IsCached() {
				continue
			}
			provisional[storageKey{e.Slot, e.Info.StorageID}]++
		}
	}

	for _, c := range candidates {
		if uint64(len(c.slotList)) != c.refcount {
			markKeep(c)
		}
	}

	changed := true
	for changed {
		changed = false
		for _, c := range candidates {
			if keep[c] {
				continue
			}
			for _, e := range c.slotList {
				if e.Info.IsCached() {
					continue
				}
				k := storageKey{e.Slot, e.Info.StorageID}
				// The seeding above already subtracted this candidate's own
				// (hypothetically purged) reference; anything left is kept
				// alive by a non-candidate or a kept candidate.
				if provisional[k] > 0 {
					markKeep(c)
					changed = true
					break
				}
			}
		}
	}

	out := make([]*cleanCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !keep[c] {
			out = append(out, c)
		}
	}
	return out
}

// reapDeadSlots removes every slot whose storage entries have all reached
// a zero live count, retiring their storage to the recycle pool.
func (db *DB) reapDeadSlots() {
	for _, slot := range db.storage.Slots() {
		if !db.storage.AllDead(slot) {
			continue
		}
		for _, e := range db.storage.RemoveSlot(slot) {
			db.recycle.Offer(e)
		}
		if db.opts.EnableSecondaryIndexes {
			// Secondary index presence for pubkeys in a dead slot was
			// already dropped via HandleDeadKeys as their primary entries
			// died; nothing further to do here.
			_ = slot
		}
	}
}
