package accountsdb

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// zeroHash is the hash assigned to every zero-lamport account, regardless of
// its other fields.
var zeroHash [32]byte

// HashAccount computes the bit-exact account hash: BLAKE3 over
// lamports(8 LE) || slot(8 LE) || rent_epoch(8 LE) || data ||
// (0x01 if executable else 0x00) || owner(32) || pubkey(32).
//
// A lamports == 0 account always hashes to the all-zero value, regardless of
// the other fields; callers must not rely on the hash to distinguish
// zero-lamport accounts from each other.
func HashAccount(lamports uint64, slot Slot, rentEpoch uint64, data []byte, executable bool, owner, pubkey Pubkey) [32]byte {
	if lamports == 0 {
		return zeroHash
	}

	buf := make([]byte, 0, 8+8+8+len(data)+1+PubkeySize+PubkeySize)
	buf = binary.LittleEndian.AppendUint64(buf, lamports)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(slot))
	buf = binary.LittleEndian.AppendUint64(buf, rentEpoch)
	buf = append(buf, data...)
	if executable {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
	}
	buf = append(buf, owner[:]...)
	buf = append(buf, pubkey[:]...)

	return blake3.Sum256(buf)
}

// VerifyAccountHash recomputes a.Hash from its other fields and reports
// whether it matches the stored value.
func VerifyAccountHash(a *Account) error {
	want := HashAccount(a.Lamports, a.Slot, a.RentEpoch, a.Data, a.Executable, a.Owner, a.Pubkey)
	if want != a.Hash {
		return ErrHashMismatch
	}
	return nil
}
