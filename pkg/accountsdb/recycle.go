package accountsdb

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// recycleTTL is how long a retired StorageEntry sits in the recycle pool
// before it is evicted and its AppendVec is dropped for good.
const recycleTTL = 30 * time.Minute

// RecycleStores is a TTL-bounded pool of retired StorageEntries available
// for reuse by the writer that needs a fresh storage of at least a given
// capacity, avoiding an mmap create/truncate/msync round trip on the hot
// path. Built on jellydator/ttlcache, which gives expiry-on-read-or-timer
// semantics directly instead of hand-rolling a sweep goroutine.
type RecycleStores struct {
	cache    *ttlcache.Cache[StorageID, *StorageEntry]
	maxCount int
}

// NewRecycleStores creates an empty pool capped at maxCount entries
// (entries beyond the cap are dropped rather than recycled, per §4.9 step
// 4).
func NewRecycleStores(maxCount int) *RecycleStores {
	cache := ttlcache.New[StorageID, *StorageEntry](
		ttlcache.WithTTL[StorageID, *StorageEntry](recycleTTL),
	)

	r := &RecycleStores{cache: cache, maxCount: maxCount}

	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[StorageID, *StorageEntry]) {
		if reason == ttlcache.EvictionReasonExpired {
			_ = item.Value().AppendVec.Close()
		}
	})

	go cache.Start()
	return r
}

// Stop shuts down the pool's background TTL sweeper. Entries still resident
// are not closed by Stop.
func (r *RecycleStores) Stop() {
	r.cache.Stop()
}

// Offer adds a retired entry to the pool, unless the pool is already at
// capacity, in which case the entry's AppendVec is closed immediately and
// the caller should treat it as dropped.
func (r *RecycleStores) Offer(entry *StorageEntry) {
	if r.cache.Len() >= r.maxCount {
		_ = entry.AppendVec.Close()
		return
	}
	r.cache.Set(entry.ID, entry, recycleTTL)
}

// TakeAtLeast removes and returns an entry whose AppendVec capacity is at
// least minCapacity, if one exists in the pool.
func (r *RecycleStores) TakeAtLeast(minCapacity int64) (*StorageEntry, bool) {
	var found *StorageEntry
	var foundID StorageID

	r.cache.Range(func(item *ttlcache.Item[StorageID, *StorageEntry]) bool {
		e := item.Value()
		if e.AppendVec.Capacity() >= minCapacity {
			found = e
			foundID = item.Key()
			return false
		}
		return true
	})

	if found == nil {
		return nil, false
	}
	r.cache.Delete(foundID)
	return found, true
}

// Len returns the number of entries currently pooled.
func (r *RecycleStores) Len() int {
	return r.cache.Len()
}
