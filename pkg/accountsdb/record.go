package accountsdb

import (
	"encoding/binary"
	"fmt"
)

// On-disk record layout within an AppendVec:
//
//	StoredMeta:  write_version(8) data_len(8) pubkey(32)
//	AccountMeta: lamports(8) rent_epoch(8) owner(32) executable(1) pad(7)
//	data:        data_len bytes
//	hash:        32 bytes
//	padding:     align8
//
// All integers are little-endian, matching the teacher's header encoding
// convention (encoding/binary.LittleEndian field by field, not a single
// binary.Write of a struct).
const (
	storedMetaSize  = 8 + 8 + PubkeySize
	accountMetaSize = 8 + 8 + PubkeySize + 8 // executable + 7 bytes padding
	hashFieldSize   = 32
)

// recordHeaderSize is the fixed portion of a record, before the variable
// length data blob.
const recordHeaderSize = storedMetaSize + accountMetaSize

// recordSize returns the total on-disk size of a record with the given
// data length, 8-byte aligned.
func recordSize(dataLen int) int {
	return align8(recordHeaderSize + dataLen + hashFieldSize)
}

// align8 rounds x up to the next multiple of 8.
func align8(x int) int {
	return (x + 7) &^ 7
}

// encodeRecord serializes a into buf, which must be at least
// recordSize(len(a.Data)) bytes. Returns the number of bytes written
// (including trailing alignment padding).
func encodeRecord(buf []byte, a *Account) int {
	n := recordSize(len(a.Data))
	if len(buf) < n {
		panic("accountsdb: encodeRecord buffer too small")
	}
	for i := range buf[:n] {
		buf[i] = 0
	}

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], a.WriteVersion)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(a.Data)))
	off += 8
	copy(buf[off:], a.Pubkey[:])
	off += PubkeySize

	binary.LittleEndian.PutUint64(buf[off:], a.Lamports)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], a.RentEpoch)
	off += 8
	copy(buf[off:], a.Owner[:])
	off += PubkeySize
	if a.Executable {
		buf[off] = 1
	}
	off += 8 // executable + 7 bytes padding

	copy(buf[off:], a.Data)
	off += len(a.Data)

	copy(buf[off:], a.Hash[:])
	off += hashFieldSize

	return n
}

// decodeRecord parses a record starting at the beginning of buf. It returns
// the account, the number of bytes the record occupies on disk (including
// alignment padding), and an error if buf is too short or the embedded
// length is implausible.
func decodeRecord(buf []byte, slot Slot) (*Account, int, error) {
	if len(buf) < recordHeaderSize {
		return nil, 0, fmt.Errorf("accountsdb: record header truncated: %w", ErrCorruptedSnapshot)
	}

	off := 0
	writeVersion := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	dataLen := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	var pubkey Pubkey
	copy(pubkey[:], buf[off:off+PubkeySize])
	off += PubkeySize

	if dataLen > uint64(maxAccountDataLen) {
		return nil, 0, fmt.Errorf("accountsdb: implausible data_len %d: %w", dataLen, ErrCorruptedSnapshot)
	}

	total := recordSize(int(dataLen))
	if len(buf) < total {
		return nil, 0, fmt.Errorf("accountsdb: record body truncated: %w", ErrCorruptedSnapshot)
	}

	lamports := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	rentEpoch := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	var owner Pubkey
	copy(owner[:], buf[off:off+PubkeySize])
	off += PubkeySize
	executable := buf[off] != 0
	off += 8

	data := make([]byte, dataLen)
	copy(data, buf[off:off+int(dataLen)])
	off += int(dataLen)

	var hash [32]byte
	copy(hash[:], buf[off:off+hashFieldSize])

	return &Account{
		Lamports:     lamports,
		Owner:        owner,
		Executable:   executable,
		RentEpoch:    rentEpoch,
		Data:         data,
		Hash:         hash,
		WriteVersion: writeVersion,
		Pubkey:       pubkey,
		Slot:         slot,
		StoredSize:   total,
	}, total, nil
}

// maxAccountDataLen bounds a single account's data blob. Generous relative
// to real account sizes, chosen to reject obviously corrupt length fields
// without constraining legitimate large program accounts.
const maxAccountDataLen = 10 << 20
