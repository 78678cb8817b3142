package accountsdb

import "fmt"

// Slot is a logical time / fork identifier. Slots form a tree; a path of
// committed slots is rooted.
type Slot uint64

// PubkeySize is the fixed width of a Pubkey in bytes.
const PubkeySize = 32

// Pubkey is a fixed 32-byte account identifier.
type Pubkey [PubkeySize]byte

func (p Pubkey) String() string {
	return fmt.Sprintf("%x", p[:])
}

// Less reports whether p sorts before other, treating Pubkey as a big-endian
// 256-bit unsigned integer. Used as the ordering for the primary index's
// B-tree.
func (p Pubkey) Less(other Pubkey) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return false
}

// StorageID identifies a storage entry within a slot. CacheVirtual is a
// reserved sentinel meaning "the canonical location is the write cache, not
// storage".
type StorageID uint64

// CacheVirtual tags AccountInfo values whose canonical location is the
// write cache. Such entries do not contribute to a storage entry's
// reference count.
const CacheVirtual StorageID = ^StorageID(0)

// Account is the persisted account record.
type Account struct {
	Lamports     uint64
	Owner        Pubkey
	Executable   bool
	RentEpoch    uint64
	Data         []byte
	Hash         [32]byte
	WriteVersion uint64
	Pubkey       Pubkey
	Slot         Slot
	StoredSize   int
}

// AccountInfo is the index-side pointer to where an account version lives.
type AccountInfo struct {
	StorageID  StorageID
	Offset     int64
	StoredSize int
	Lamports   uint64
}

// IsCached reports whether this AccountInfo points into the write cache
// rather than a storage entry.
func (a AccountInfo) IsCached() bool {
	return a.StorageID == CacheVirtual
}

// IsZeroLamport reports whether the account this info describes has zero
// lamports, i.e. is logically deleted.
func (a AccountInfo) IsZeroLamport() bool {
	return a.Lamports == 0
}

// tokenAccountDataLen is the SPL token account data length used to decide
// whether an account's owner/data qualify it for mint/owner secondary
// indexing (see Account.SecondaryKeys).
const tokenAccountDataLen = 165

// SecondaryKeys returns the (mint, owner) secondary-index keys for a, and
// whether a qualifies as a token account under tokenProgram. Per the wire
// format: bytes [0:32) of Data are the mint key, bytes [32:64) are the
// owner key.
func (a *Account) SecondaryKeys(tokenProgram Pubkey) (mint, owner Pubkey, ok bool) {
	if a.Owner != tokenProgram || len(a.Data) != tokenAccountDataLen {
		return Pubkey{}, Pubkey{}, false
	}
	copy(mint[:], a.Data[0:32])
	copy(owner[:], a.Data[32:64])
	return mint, owner, true
}
