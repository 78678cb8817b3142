package accountsdb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/natefinch/atomic"
)

// StorageManifestEntry describes one live storage entry owned by a rooted
// slot, as recorded in a snapshot manifest.
type StorageManifestEntry struct {
	StorageID  StorageID
	Capacity   int64
	StoredSize int64
	Status     StorageStatus
}

// SlotManifest is the manifest's per-slot record.
type SlotManifest struct {
	Slot     Slot
	Storages []StorageManifestEntry
}

// BankHashInfo is the bank-hash summary for the snapshot slot.
type BankHashInfo struct {
	Hash         [32]byte
	SnapshotHash [32]byte
	Stats        BankHashStats
}

// BankHashStats are the verification totals carried alongside a bank hash.
type BankHashStats struct {
	NumUpdatedAccounts   uint64
	NumRemovedAccounts   uint64
	NumLamportsStored    uint64
	TotalDataLen         uint64
	NumExecutableAccounts uint64
}

// Manifest is the serialized snapshot form (§6): every live storage entry
// owned by a rooted slot at or below SnapshotSlot, the global counters
// needed to resume writing, and the bank-hash info for SnapshotSlot.
type Manifest struct {
	Slots           []SlotManifest
	WriteVersion    uint64
	NextStorageID   uint64
	SnapshotSlot    Slot
	BankHash        BankHashInfo
}

const manifestFileName = "manifest.cbor"

// WriteManifest serializes the DB's current state into opts.Dir/manifest.cbor,
// using an atomic temp-file-then-rename write (github.com/natefinch/atomic)
// so a reader never observes a half-written manifest.
func (db *DB) WriteManifest(snapshotSlot Slot, bankHash BankHashInfo) error {
	m := Manifest{
		WriteVersion:  db.writeVersion.Load(),
		NextStorageID: db.nextStorageID.Load(),
		SnapshotSlot:  snapshotSlot,
		BankHash:      bankHash,
	}

	for _, slot := range db.storage.Slots() {
		if slot > snapshotSlot || !db.roots.ContainsRoot(slot) {
			continue
		}
		sm := SlotManifest{Slot: slot}
		for _, e := range db.storage.SlotEntries(slot) {
			sm.Storages = append(sm.Storages, StorageManifestEntry{
				StorageID:  e.ID,
				Capacity:   e.AppendVec.Capacity(),
				StoredSize: e.AppendVec.Len(),
				Status:     e.Status(),
			})
		}
		m.Slots = append(m.Slots, sm)
	}

	buf, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("accountsdb: encode manifest: %w", err)
	}

	path := filepath.Join(db.opts.Dir, manifestFileName)
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("accountsdb: write manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes the manifest at dir/manifest.cbor.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFileName)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: read manifest: %w", err)
	}
	var m Manifest
	if err := cbor.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrCorruptedSnapshot, err)
	}
	return &m, nil
}

// Reconstruct rebuilds a DB from a manifest plus the accompanying AppendVec
// files already present in dir (named "<slot>.<storageID>", per §6). The
// primary index is rebuilt by scanning every record and keeping the
// maximum-write-version per pubkey; equal write-versions for the same
// pubkey among one slot's storages are a corruption signal, since write_version is
// a global monotonic counter and no two writes may share it.
func Reconstruct(dir string, m *Manifest, opts Options) (*DB, error) {
	opts.Dir = dir
	db, err := Open(opts, nil)
	if err != nil {
		return nil, err
	}

	db.writeVersion.Store(m.WriteVersion)
	db.nextStorageID.Store(m.NextStorageID)

	for _, sm := range m.Slots {
		items := make(map[Pubkey]AccountInfo)
		bestVersion := make(map[Pubkey]uint64)
		type bestLoc struct {
			entry *StorageEntry
			size  int
		}
		best := make(map[Pubkey]bestLoc)

		for _, se := range sm.Storages {
			path := filepath.Join(dir, fmt.Sprintf("%d.%d", sm.Slot, se.StorageID))
			vec, err := OpenAppendVec(path, se.Capacity, se.StoredSize)
			if err != nil {
				return nil, fmt.Errorf("accountsdb: reopen append vec %s: %w", path, err)
			}

			entry := NewStorageEntry(sm.Slot, se.StorageID, vec)
			entry.SetStatus(se.Status)
			db.storage.Insert(entry)

			offset := int64(0)
			for acc := range vec.Accounts(0) {
				if bv, ok := bestVersion[acc.Pubkey]; ok {
					if acc.WriteVersion == bv {
						return nil, fmt.Errorf("%w: duplicate write_version %d for pubkey %s in slot %d", ErrCorruptedSnapshot, acc.WriteVersion, acc.Pubkey, sm.Slot)
					}
					if acc.WriteVersion < bv {
						offset += int64(acc.StoredSize)
						continue
					}
					// acc supersedes the current best: release the
					// previously-best storage's reference before replacing
					// it, or that storage's alive-byte/count bookkeeping
					// stays inflated for a record no longer reachable.
					if prev, ok := best[acc.Pubkey]; ok {
						prev.entry.RemoveAccount(prev.size, false)
					}
				}
				bestVersion[acc.Pubkey] = acc.WriteVersion
				items[acc.Pubkey] = AccountInfo{
					StorageID:  se.StorageID,
					Offset:     offset,
					StoredSize: acc.StoredSize,
					Lamports:   acc.Lamports,
				}
				entry.AddAccount(acc.StoredSize)
				best[acc.Pubkey] = bestLoc{entry: entry, size: acc.StoredSize}
				offset += int64(acc.StoredSize)
			}
		}

		db.index.InsertNewIfMissing(sm.Slot, items)
		db.roots.AddRoot(sm.Slot, true)
	}

	return db, nil
}
