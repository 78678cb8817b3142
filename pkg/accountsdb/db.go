package accountsdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DB is the AccountsDb façade (C10): it orchestrates store/load/scan,
// flush, clean, and shrink, and owns every other component.
type DB struct {
	opts Options
	log  *zap.Logger

	storage   *AccountStorage
	index     *AccountsIndex
	secondary *SecondaryIndex
	cache     *AccountsCache
	recycle   *RecycleStores
	roots     *RootsTracker

	metrics *metricsSet

	writeVersion   atomic.Uint64
	nextStorageID  atomic.Uint64
	zeroLamportSet sync.Map // Pubkey -> struct{}, I6

	frozenMu       sync.Mutex
	frozen         map[Pubkey]uint64 // pubkey -> lamports at freeze time
	maxExpiredSlot Slot              // PurgeCompactionFilter's "oldest alive" sentinel

	cleanShrinkMu sync.Mutex // serializes Clean and Shrink on overlapping slots

	roCacheHits   atomic.Uint64
	roCacheMisses atomic.Uint64
}

// Open creates an empty DB under opts.Dir, creating the directory if
// needed. Storage files already in the directory are not loaded; Reconstruct
// does that. reg may be nil to skip Prometheus registration entirely.
func Open(opts Options, reg prometheus.Registerer) (*DB, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("accountsdb: create dir: %w", err)
	}

	cache, err := NewAccountsCache(opts.ReadOnlyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: create accounts cache: %w", err)
	}

	db := &DB{
		opts:      opts,
		log:       newLogger("db", opts),
		storage:   NewAccountStorage(),
		index:     NewAccountsIndex(),
		secondary: NewSecondaryIndex(),
		cache:     cache,
		recycle:   NewRecycleStores(opts.RecycleStoresMax),
		roots:     NewRootsTracker(),
		metrics:   newMetricsSet(reg),
		frozen:    make(map[Pubkey]uint64),
	}
	return db, nil
}

// Close releases every resource the DB holds, including mmap'd storage.
func (db *DB) Close() error {
	db.recycle.Stop()
	var firstErr error
	for _, slot := range db.storage.Slots() {
		for _, e := range db.storage.RemoveSlot(slot) {
			if err := e.AppendVec.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	_ = db.log.Sync()
	return firstErr
}

func (db *DB) storagePath(slot Slot, id StorageID) string {
	return filepath.Join(db.opts.Dir, fmt.Sprintf("%d.%d", slot, id))
}

// newStorageEntry creates a fresh StorageEntry for slot, preferring a
// recycled AppendVec of sufficient capacity over mapping a new file.
func (db *DB) newStorageEntry(slot Slot) (*StorageEntry, error) {
	id := StorageID(db.nextStorageID.Add(1))

	if recycled, ok := db.recycle.TakeAtLeast(db.opts.StorageCapacityBytes); ok {
		recycled.Slot = slot
		recycled.ID = id
		recycled.SetStatus(StorageAvailable)
		db.storage.Insert(recycled)
		return recycled, nil
	}

	vec, err := CreateAppendVec(db.storagePath(slot, id), db.opts.StorageCapacityBytes)
	if err != nil {
		return nil, err
	}
	entry := NewStorageEntry(slot, id, vec)
	db.storage.Insert(entry)
	return entry, nil
}

// acquireWritableEntry finds or creates an Available-turned-Candidate
// storage entry for slot with room for at least minBytes.
func (db *DB) acquireWritableEntry(slot Slot, minBytes int64) (*StorageEntry, error) {
	var found *StorageEntry
	db.storage.ForEachInSlot(slot, func(e *StorageEntry) {
		if found != nil {
			return
		}
		if e.Status() == StorageAvailable && e.AppendVec.Capacity()-e.AppendVec.Len() >= minBytes {
			if e.TryAvailable() {
				found = e
			}
		}
	})
	if found != nil {
		return found, nil
	}
	return db.newStorageEntry(slot)
}

// Store writes account at slot, computing its hash and write-version, and
// updates the primary (and, if enabled, secondary) index. If caching is
// enabled the write lands in the per-slot write cache; otherwise it is
// appended directly to storage.
//
// A store to a frozen pubkey that decreases lamports below the frozen value
// is a fatal FrozenAccountViolation (§7): this invariant protects the one
// guarantee external callers rely on absolutely, so it panics rather than
// returning an error. Only lamports are checked; changes to data, owner or
// executable of a frozen pubkey are not detected.
func (db *DB) Store(slot Slot, a *Account) error {
	if frozenLamports, ok := db.isFrozen(a.Pubkey); ok {
		if a.Lamports < frozenLamports {
			panic(fmt.Sprintf("%v: pubkey=%s", ErrFrozenAccountViolation, a.Pubkey))
		}
	}

	a.Slot = slot
	a.WriteVersion = db.writeVersion.Add(1)
	a.Hash = HashAccount(a.Lamports, slot, a.RentEpoch, a.Data, a.Executable, a.Owner, a.Pubkey)
	a.StoredSize = recordSize(len(a.Data))

	var info AccountInfo
	if db.opts.WriteCaching {
		db.cache.Store(a)
		info = AccountInfo{StorageID: CacheVirtual, Lamports: a.Lamports, StoredSize: a.StoredSize}
	} else {
		entry, err := db.acquireWritableEntry(slot, int64(a.StoredSize))
		if err != nil {
			return err
		}
		offsets, ok := entry.AppendVec.Append([]*Account{a})
		if !ok {
			entry.SetStatus(StorageFull)
			entry, err = db.newStorageEntry(slot)
			if err != nil {
				return err
			}
			offsets, ok = entry.AppendVec.Append([]*Account{a})
			if !ok {
				return fmt.Errorf("accountsdb: account larger than storage capacity: %w", ErrNoCapacity)
			}
		}
		entry.AddAccount(a.StoredSize)
		info = AccountInfo{StorageID: entry.ID, Offset: offsets[0], StoredSize: a.StoredSize, Lamports: a.Lamports}
	}

	var reclaims []SlotListEntry
	db.index.Upsert(slot, a.Pubkey, info, &reclaims)
	db.applyReclaims(reclaims, false)

	if db.opts.EnableSecondaryIndexes {
		db.secondary.IndexAccount(a, db.opts.TokenProgram)
	}

	if a.Lamports == 0 {
		db.zeroLamportSet.Store(a.Pubkey, struct{}{})
	}

	db.cache.ReadOnlyInvalidate(a.Pubkey)
	if db.metrics != nil {
		db.metrics.storesTotal.Inc()
	}
	return nil
}

// applyReclaims releases a storage entry's reference for each reclaimed
// slot-list entry that pointed into storage (cache-virtual reclaims need no
// release). resetAccounts controls whether an emptied-and-Full AppendVec
// resets immediately; Clean deliberately passes false (§4.8 step 4) because
// other in-flight readers may still need the bytes for hashing.
func (db *DB) applyReclaims(reclaims []SlotListEntry, resetAccounts bool) {
	for _, r := range reclaims {
		if r.Info.IsCached() {
			continue
		}
		entry, ok := db.storage.Get(r.Slot, r.Info.StorageID)
		if !ok {
			continue
		}
		entry.RemoveAccount(r.Info.StoredSize, resetAccounts)
	}
}

func (db *DB) isFrozen(pubkey Pubkey) (uint64, bool) {
	db.frozenMu.Lock()
	defer db.frozenMu.Unlock()
	l, ok := db.frozen[pubkey]
	return l, ok
}

// Freeze marks pubkey as frozen at its current lamports balance. Subsequent
// stores with strictly fewer lamports panic (§8 scenario 6).
func (db *DB) Freeze(pubkey Pubkey, lamports uint64) {
	db.frozenMu.Lock()
	defer db.frozenMu.Unlock()
	db.frozen[pubkey] = lamports
}

// AddRoot commits slot as a root. When write-caching is enabled, the slot
// is added to RootsTracker's uncleaned set only once Flush actually drains
// its cache (§4.5).
func (db *DB) AddRoot(slot Slot) {
	db.roots.AddRoot(slot, !db.opts.WriteCaching)
}

const maxLoadRetries = 100

// Load implements §4.12: resolve the latest visible version of pubkey,
// fetch it from cache or storage, and retry on races with flush/clean/
// shrink. hint controls how strictly an unexpected miss is treated.
func (db *DB) Load(ancestors map[Slot]struct{}, pubkey Pubkey, hint Hint) (*Account, error) {
	for attempt := 0; attempt < maxLoadRetries; attempt++ {
		maxRoot := db.roots.MaxRoot()
		kind, entry := db.index.Get(pubkey, ancestors, &maxRoot)
		switch kind {
		case ResultMissing, ResultNotFoundOnFork:
			if db.metrics != nil {
				db.metrics.loadsTotal.WithLabelValues("miss").Inc()
			}
			return nil, ErrNotFoundOnFork
		}

		if entry.Info.IsCached() {
			if a, ok := db.cache.Load(pubkey, entry.Slot); ok {
				db.recordLoadHit()
				return a, nil
			}
			// Race with flush: the cache entry moved to storage between the
			// index read and this load. Acceptable under any hint; retry.
			continue
		}

		if a, ok := db.cache.ReadOnlyGet(pubkey, entry.Slot); ok {
			db.roCacheHits.Add(1)
			db.recordLoadHit()
			return a, nil
		}

		storageEntry, ok := db.storage.Get(entry.Slot, entry.Info.StorageID)
		if !ok {
			if hint == HintFixedMaxRoot {
				panic(fmt.Sprintf("%v: storage missing for (slot=%d,storage=%d) under FixedMaxRoot", ErrStorageRaceRetryExceeded, entry.Slot, entry.Info.StorageID))
			}
			continue
		}

		a, _, err := storageEntry.AppendVec.GetAccount(entry.Info.Offset)
		if err != nil {
			continue
		}
		a.Slot = entry.Slot
		db.cache.ReadOnlyPut(pubkey, entry.Slot, a)
		db.roCacheMisses.Add(1)
		db.recordLoadHit()
		return a, nil
	}

	if db.metrics != nil {
		db.metrics.loadsTotal.WithLabelValues("retry_exceeded").Inc()
	}
	if hint == HintFixedMaxRoot {
		panic(ErrStorageRaceRetryExceeded)
	}
	return nil, ErrStorageRaceRetryExceeded
}

func (db *DB) recordLoadHit() {
	if db.metrics != nil {
		db.metrics.loadsTotal.WithLabelValues("hit").Inc()
	}
}

// SampleMetrics updates the point-in-time gauges (storage entry count,
// read-only cache hit ratio) that counters and histograms can't express on
// their own. Intended to be called periodically by a Scheduler, not on
// every operation.
func (db *DB) SampleMetrics() {
	if db.metrics == nil {
		return
	}

	var count float64
	for _, slot := range db.storage.Slots() {
		count += float64(len(db.storage.SlotEntries(slot)))
	}
	db.metrics.storageCount.Set(count)

	hits := db.roCacheHits.Load()
	misses := db.roCacheMisses.Load()
	if total := hits + misses; total > 0 {
		db.metrics.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// Flush appends slot's write-cache contents to storage, re-points the
// index, and removes the slot cache, in that order (§4.7's ordering
// invariant). A no-op if slot has no write cache (caching disabled, or
// already flushed).
func (db *DB) Flush(slot Slot) error {
	sc, ok := db.cache.SlotCache(slot)
	if !ok {
		return nil
	}
	sc.Freeze()

	for _, a := range sc.Snapshot() {
		entry, err := db.acquireWritableEntry(slot, int64(a.StoredSize))
		if err != nil {
			return err
		}
		offsets, appended := entry.AppendVec.Append([]*Account{a})
		if !appended {
			entry.SetStatus(StorageFull)
			entry, err = db.newStorageEntry(slot)
			if err != nil {
				return err
			}
			offsets, appended = entry.AppendVec.Append([]*Account{a})
			if !appended {
				return fmt.Errorf("accountsdb: account larger than storage capacity during flush: %w", ErrNoCapacity)
			}
		}
		entry.AddAccount(a.StoredSize)

		info := AccountInfo{StorageID: entry.ID, Offset: offsets[0], StoredSize: a.StoredSize, Lamports: a.Lamports}
		var reclaims []SlotListEntry
		db.index.Upsert(slot, a.Pubkey, info, &reclaims)
		db.applyReclaims(reclaims, false)
	}

	db.cache.RemoveSlot(slot)
	if db.roots.ContainsRoot(slot) {
		db.roots.MarkFlushedUncleaned(slot)
	}
	return nil
}

// VerifyBankHashAndLamports recomputes the sum of live lamports visible at
// (ancestors, maxRoot) across every pubkey known to the index and compares
// it to expectedTotal.
func (db *DB) VerifyBankHashAndLamports(ancestors map[Slot]struct{}, maxRoot Slot, expectedTotal uint64) error {
	var total uint64
	var rangeErr error

	zero := Pubkey{}
	var max Pubkey
	for i := range max {
		max[i] = 0xFF
	}

	db.index.RangeInclusive(zero, max, func(_ Pubkey, list []SlotListEntry) bool {
		entry, found := LatestSlot(list, ancestors, &maxRoot)
		if found {
			total += entry.Info.Lamports
		}
		return true
	})

	if rangeErr != nil {
		return rangeErr
	}
	if total != expectedTotal {
		return fmt.Errorf("%w: got %d want %d", ErrLamportsMismatch, total, expectedTotal)
	}
	return nil
}
