package accountsdb

import "time"

// ShrinkCandidates returns every slot holding at least one storage whose
// aligned alive-byte ratio (alive bytes over bytes written) falls below the
// configured shrink threshold (§4.9).
func (db *DB) ShrinkCandidates() []Slot {
	var out []Slot
	for _, slot := range db.storage.Slots() {
		for _, e := range db.storage.SlotEntries(slot) {
			total := e.AppendVec.Len()
			if total == 0 {
				continue
			}
			ratio := float64(align8int64(e.AliveBytes())) / float64(total)
			if ratio < db.opts.ShrinkRatio {
				out = append(out, slot)
				break
			}
		}
	}
	return out
}

func align8int64(x int64) int64 {
	return (x + 7) &^ 7
}

// Shrink rewrites slot's sparsely populated storages into a single new,
// tightly packed storage, dropping any record shadowed by a newer write in
// the same slot (§4.9). Shadowed records are not unreffed here: neither the
// index refcount nor any storage count is changed for them. Shrink never runs concurrently with Clean on
// overlapping slots; both share db.cleanShrinkMu.
func (db *DB) Shrink(slot Slot) error {
	start := time.Now()
	defer func() {
		if db.metrics != nil {
			db.metrics.shrinkDuration.Observe(time.Since(start).Seconds())
		}
	}()

	db.cleanShrinkMu.Lock()
	defer db.cleanShrinkMu.Unlock()

	entries := db.storage.SlotEntries(slot)
	if len(entries) == 0 {
		return nil
	}

	// Step 1: bucket records by pubkey, keeping the maximum write-version.
	type located struct {
		acc    *Account
		entry  *StorageEntry
		offset int64
	}
	latest := make(map[Pubkey]located)

	for _, e := range entries {
		offset := int64(0)
		for acc := range e.AppendVec.Accounts(0) {
			acc.Slot = slot
			if cur, ok := latest[acc.Pubkey]; !ok || acc.WriteVersion > cur.acc.WriteVersion {
				latest[acc.Pubkey] = located{acc: acc, entry: e, offset: offset}
			}
			offset += int64(acc.StoredSize)
		}
	}

	// Step 2: keep only records whose (storageID, offset) still matches the
	// index's current pointer; skip the rest.
	var alive []located
	var aliveBytes int64
	for pk, loc := range latest {
		list, ok := db.index.SlotList(pk)
		if !ok {
			continue
		}
		entry, found := findSlotEntry(list, slot)
		if !found || entry.Info.StorageID != loc.entry.ID || entry.Info.Offset != loc.offset {
			// Shadowed by a newer write in this slot (or purged outright):
			// whichever Upsert or PurgeExact call superseded this bucketed
			// record already reclaimed its storage ref synchronously at the
			// time. entry, when found, is the index's own live pointer —
			// decrementing its storage here would corrupt a still-referenced
			// entry, not the stale one this branch is looking at. Nothing to
			// release.
			continue
		}
		alive = append(alive, loc)
		aliveBytes += int64(loc.acc.StoredSize)
	}

	if aliveBytes == 0 {
		// Step 3 (zero case): the slot becomes dead; reapDeadSlots handles
		// the actual teardown once every entry's count has reached zero.
		// Shrink itself changes no counts here.
		return nil
	}

	// Step 3 (non-zero case): allocate a new storage and append every alive
	// record, recording their original hashes and write-versions.
	newEntry, err := db.newStorageEntry(slot)
	if err != nil {
		return err
	}

	records := make([]*Account, len(alive))
	for i, loc := range alive {
		records[i] = loc.acc
	}
	offsets, ok := newEntry.AppendVec.Append(records)
	if !ok {
		return ErrNoCapacity
	}

	for i, loc := range alive {
		info := AccountInfo{StorageID: newEntry.ID, Offset: offsets[i], StoredSize: loc.acc.StoredSize, Lamports: loc.acc.Lamports}
		var reclaims []SlotListEntry
		newEntry.AddAccount(int64(loc.acc.StoredSize))
		db.index.Upsert(slot, loc.acc.Pubkey, info, &reclaims)
		// The only reclaim here is the old (slot, loc.entry.ID, loc.offset)
		// pointer; applyReclaims looks up storage by the reclaimed info, so
		// it releases that record against the old entry.
		db.applyReclaims(reclaims, false)
	}
	newEntry.SetStatus(StorageFull)

	// Step 3c/4: entries now fully unreffed are dead; offer them to the
	// recycle pool (or drop) instead of leaving them in the slot bucket.
	for _, e := range entries {
		if e.Count() == 0 {
			if removed, ok := db.storage.RemoveFromSlot(slot, e.ID); ok {
				db.recycle.Offer(removed)
			}
		}
	}

	return nil
}

func findSlotEntry(list []SlotListEntry, slot Slot) (SlotListEntry, bool) {
	for _, e := range list {
		if e.Slot == slot {
			return e, true
		}
	}
	return SlotListEntry{}, false
}
