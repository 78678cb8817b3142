package accountsdb

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// SlotCache is the per-slot write cache of not-yet-flushed accounts.
type SlotCache struct {
	mu     sync.RWMutex
	byKey  map[Pubkey]*Account
	frozen bool
}

func newSlotCache() *SlotCache {
	return &SlotCache{byKey: make(map[Pubkey]*Account)}
}

// Store records a's latest value in the cache (single-writer per slot, so
// no compare-and-swap is needed beyond the map's own lock).
func (c *SlotCache) Store(a *Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[a.Pubkey] = a
}

// Load returns the cached value for pubkey, if present.
func (c *SlotCache) Load(pubkey Pubkey) (*Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byKey[pubkey]
	return a, ok
}

// Freeze marks the slot as no longer accepting writes.
func (c *SlotCache) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (c *SlotCache) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// Snapshot returns every cached account, for flushing to storage.
func (c *SlotCache) Snapshot() []*Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Account, 0, len(c.byKey))
	for _, a := range c.byKey {
		out = append(out, a)
	}
	return out
}

// Len reports the number of distinct pubkeys currently cached.
func (c *SlotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// AccountsCache owns one SlotCache per not-yet-flushed slot plus the bounded
// read-only cache for hot rooted reads (C8).
type AccountsCache struct {
	mu     sync.RWMutex
	slots  map[Slot]*SlotCache

	readOnly *readOnlyCache
}

// NewAccountsCache creates an AccountsCache whose read-only cache holds up
// to readOnlyCapacity (pubkey, slot) -> account entries.
func NewAccountsCache(readOnlyCapacity int) (*AccountsCache, error) {
	ro, err := newReadOnlyCache(readOnlyCapacity)
	if err != nil {
		return nil, err
	}
	return &AccountsCache{
		slots:    make(map[Slot]*SlotCache),
		readOnly: ro,
	}, nil
}

// Store writes a into the write cache for a.Slot, creating the slot cache
// if necessary.
func (c *AccountsCache) Store(a *Account) {
	c.mu.Lock()
	sc, ok := c.slots[a.Slot]
	if !ok {
		sc = newSlotCache()
		c.slots[a.Slot] = sc
	}
	c.mu.Unlock()
	sc.Store(a)

	// Any store invalidates stale read-only entries for this pubkey; a
	// fresher version now exists and must not be served from staleness.
	c.readOnly.invalidate(a.Pubkey)
}

// Load returns the cached account for (pubkey, slot) from the write cache,
// if that slot still has an active write cache.
func (c *AccountsCache) Load(pubkey Pubkey, slot Slot) (*Account, bool) {
	c.mu.RLock()
	sc, ok := c.slots[slot]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sc.Load(pubkey)
}

// Freeze marks slot's write cache as no longer accepting writes.
func (c *AccountsCache) Freeze(slot Slot) {
	c.mu.RLock()
	sc, ok := c.slots[slot]
	c.mu.RUnlock()
	if ok {
		sc.Freeze()
	}
}

// RemoveSlot drops slot's write cache entirely. Flush calls this only after
// every account has been appended to storage and the index
// re-pointed — the ordering invariant readers' retry logic depends on.
func (c *AccountsCache) RemoveSlot(slot Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, slot)
}

// SlotCache returns the write cache for slot, if one exists.
func (c *AccountsCache) SlotCache(slot Slot) (*SlotCache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.slots[slot]
	return sc, ok
}

// ReadOnlyGet returns a cached account for (pubkey, slot) from the bounded
// read-only cache.
func (c *AccountsCache) ReadOnlyGet(pubkey Pubkey, slot Slot) (*Account, bool) {
	return c.readOnly.get(pubkey, slot)
}

// ReadOnlyPut records a successfully-loaded non-cache account in the
// read-only cache.
func (c *AccountsCache) ReadOnlyPut(pubkey Pubkey, slot Slot, a *Account) {
	c.readOnly.put(pubkey, slot, a)
}

// ReadOnlyInvalidate drops every read-only cache entry for pubkey,
// regardless of slot. Called on any store to that pubkey, and whenever a
// slot holding entries for it is purged.
func (c *AccountsCache) ReadOnlyInvalidate(pubkey Pubkey) {
	c.readOnly.invalidate(pubkey)
}

// readOnlyKey is the LRU key: (pubkey, slot).
type readOnlyKey struct {
	pubkey Pubkey
	slot   Slot
}

// readOnlyCache is a bounded-size (pubkey, slot) -> account cache built on
// hashicorp/golang-lru, which gives exact-size LRU eviction directly rather
// than hand-rolling a clock or segmented-LRU policy. Invalidation by bare
// pubkey (ignoring slot) additionally needs a reverse index, since the LRU
// itself is keyed by the full (pubkey, slot) pair.
type readOnlyCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[readOnlyKey, *Account]
	bySet map[Pubkey]map[Slot]struct{}
}

func newReadOnlyCache(capacity int) (*readOnlyCache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[readOnlyKey, *Account](capacity)
	if err != nil {
		return nil, err
	}
	return &readOnlyCache{lru: c, bySet: make(map[Pubkey]map[Slot]struct{})}, nil
}

func (r *readOnlyCache) get(pubkey Pubkey, slot Slot) (*Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Get(readOnlyKey{pubkey, slot})
}

func (r *readOnlyCache) put(pubkey Pubkey, slot Slot, a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Add(readOnlyKey{pubkey, slot}, a)
	set, ok := r.bySet[pubkey]
	if !ok {
		set = make(map[Slot]struct{})
		r.bySet[pubkey] = set
	}
	set[slot] = struct{}{}
}

func (r *readOnlyCache) invalidate(pubkey Pubkey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot := range r.bySet[pubkey] {
		r.lru.Remove(readOnlyKey{pubkey, slot})
	}
	delete(r.bySet, pubkey)
}
