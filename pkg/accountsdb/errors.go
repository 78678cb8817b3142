package accountsdb

import "errors"

// Sentinel errors returned by the store. Wrap with fmt.Errorf("...: %w", ...)
// at call sites so errors.Is keeps working across the wrap.
var (
	// ErrNotFoundOnFork is returned by Load when the pubkey has no version
	// visible from the given ancestors/maxRoot bound.
	ErrNotFoundOnFork = errors.New("accountsdb: pubkey has no visible version on this fork")

	// ErrStorageRaceRetryExceeded is returned (Unspecified hint) or panicked
	// with (FixedMaxRoot hint) when Load cannot stabilize within the retry budget.
	ErrStorageRaceRetryExceeded = errors.New("accountsdb: load retry budget exceeded")

	// ErrHashMismatch indicates a recomputed account hash does not match the
	// stored hash.
	ErrHashMismatch = errors.New("accountsdb: account hash mismatch")

	// ErrBankHashMismatch indicates a recomputed bank hash does not match the
	// expected bank hash for a slot.
	ErrBankHashMismatch = errors.New("accountsdb: bank hash mismatch")

	// ErrMissingBankHash indicates verification was requested for a slot that
	// has no recorded bank hash.
	ErrMissingBankHash = errors.New("accountsdb: missing bank hash")

	// ErrLamportsMismatch indicates the sum of live lamports does not match
	// an expected total during verification.
	ErrLamportsMismatch = errors.New("accountsdb: lamports total mismatch")

	// ErrDoubleRemove indicates a storage entry's alive count would go
	// negative. This is always a programming error.
	ErrDoubleRemove = errors.New("accountsdb: double remove of account from storage entry")

	// ErrFrozenAccountViolation indicates a write to a frozen account
	// decreased lamports or mutated data, owner, or executable.
	ErrFrozenAccountViolation = errors.New("accountsdb: frozen account violation")

	// ErrCorruptedSnapshot indicates snapshot reconstruction found an
	// inconsistent (write_version, pubkey) tuple or a malformed manifest.
	ErrCorruptedSnapshot = errors.New("accountsdb: corrupted snapshot")

	// ErrNoCapacity is returned by DB.Store, DB.Flush and DB.Shrink when
	// records do not fit a fresh storage entry (AppendVec.Append itself
	// reports this with ok=false).
	ErrNoCapacity = errors.New("accountsdb: append vec has no remaining capacity")

	// ErrClosed is returned by operations on a closed AppendVec.
	ErrClosed = errors.New("accountsdb: use of closed handle")

	// ErrInvalidOptions is returned by a constructor when options fail
	// validation.
	ErrInvalidOptions = errors.New("accountsdb: invalid options")

	// ErrSlotNotRooted is returned when an operation requires a rooted slot
	// that has not been added to the roots tracker.
	ErrSlotNotRooted = errors.New("accountsdb: slot is not rooted")
)
