package accountsdb

import "sync"

// SecondaryIndexKind identifies which secondary index a key belongs to.
type SecondaryIndexKind int

const (
	// SecondaryByProgramID indexes accounts by their owner program.
	SecondaryByProgramID SecondaryIndexKind = iota
	// SecondaryByMint indexes SPL token accounts by mint.
	SecondaryByMint
	// SecondaryByOwner indexes SPL token accounts by token owner.
	SecondaryByOwner
)

// secondaryKey uniquely identifies one (kind, key) bucket across all
// secondary indexes.
type secondaryKey struct {
	kind SecondaryIndexKind
	key  Pubkey
}

// SecondaryIndex maps (kind, key) -> set of pubkeys, plus the reverse
// mapping pubkey -> set of secondary keys it currently appears under. The
// reverse map is what makes removal consistent: when a primary index entry
// dies, every secondary bucket it was filed under must be found and
// cleaned without a full secondary-index scan.
type SecondaryIndex struct {
	mu       sync.RWMutex
	forward  map[secondaryKey]map[Pubkey]struct{}
	reverse  map[Pubkey]map[secondaryKey]struct{}
	excluded map[SecondaryIndexKind]map[Pubkey]struct{} // operator include/exclude list
}

// NewSecondaryIndex creates an empty SecondaryIndex.
func NewSecondaryIndex() *SecondaryIndex {
	return &SecondaryIndex{
		forward:  make(map[secondaryKey]map[Pubkey]struct{}),
		reverse:  make(map[Pubkey]map[secondaryKey]struct{}),
		excluded: make(map[SecondaryIndexKind]map[Pubkey]struct{}),
	}
}

// Insert files pubkey under (kind, key), unless key is excluded for kind.
func (s *SecondaryIndex) Insert(kind SecondaryIndexKind, key, pubkey Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, excluded := s.excluded[kind][key]; excluded {
		return
	}

	sk := secondaryKey{kind: kind, key: key}
	bucket, ok := s.forward[sk]
	if !ok {
		bucket = make(map[Pubkey]struct{})
		s.forward[sk] = bucket
	}
	bucket[pubkey] = struct{}{}

	rev, ok := s.reverse[pubkey]
	if !ok {
		rev = make(map[secondaryKey]struct{})
		s.reverse[pubkey] = rev
	}
	rev[sk] = struct{}{}
}

// IndexAccount inserts a into the program-id index and, if it is a
// token-typed account under tokenProgram, the mint and owner indexes too.
func (s *SecondaryIndex) IndexAccount(a *Account, tokenProgram Pubkey) {
	s.Insert(SecondaryByProgramID, a.Owner, a.Pubkey)
	if mint, owner, ok := a.SecondaryKeys(tokenProgram); ok {
		s.Insert(SecondaryByMint, mint, a.Pubkey)
		s.Insert(SecondaryByOwner, owner, a.Pubkey)
	}
}

// RemoveDead drops every secondary-index presence for pubkey (I5: secondary
// entries are removed exactly when the primary entry becomes dead).
func (s *SecondaryIndex) RemoveDead(pubkey Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.reverse[pubkey]
	if !ok {
		return
	}
	for sk := range keys {
		if bucket, ok := s.forward[sk]; ok {
			delete(bucket, pubkey)
			if len(bucket) == 0 {
				delete(s.forward, sk)
			}
		}
	}
	delete(s.reverse, pubkey)
}

// Lookup returns a snapshot of the pubkeys currently filed under (kind, key).
func (s *SecondaryIndex) Lookup(kind SecondaryIndexKind, key Pubkey) []Pubkey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.forward[secondaryKey{kind: kind, key: key}]
	if !ok {
		return nil
	}
	out := make([]Pubkey, 0, len(bucket))
	for pk := range bucket {
		out = append(out, pk)
	}
	return out
}

// SetExcluded marks key as excluded from kind's index for the purposes of
// IsComplete — an operator-configured include/exclude list, since excluded
// keys are never filed so any lookup against them is provably incomplete.
func (s *SecondaryIndex) SetExcluded(kind SecondaryIndexKind, key Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.excluded[kind]
	if !ok {
		bucket = make(map[Pubkey]struct{})
		s.excluded[kind] = bucket
	}
	bucket[key] = struct{}{}
}

// IsComplete reports whether a lookup of (kind, key) can be trusted as
// exhaustive. False means the caller must fall back to a full scan.
func (s *SecondaryIndex) IsComplete(kind SecondaryIndexKind, key Pubkey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bucket, ok := s.excluded[kind]; ok {
		if _, excluded := bucket[key]; excluded {
			return false
		}
	}
	return true
}
