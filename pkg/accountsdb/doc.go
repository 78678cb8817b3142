// Package accountsdb implements a versioned, slot-indexed, append-only
// account store: the storage and indexing core behind a validator's ledger
// state.
//
// Accounts are keyed by a 32-byte Pubkey and qualified by a Slot (a
// monotonically advancing logical time / fork identifier) and a global
// write-version. Writers append new versions without blocking readers;
// readers observe the version visible on their fork or at or below a root
// bound. A background pipeline (Clean, Shrink, Purge) reconciles storage
// with the index once versions become unreachable.
//
// The store never blocks its hot path on I/O: storage reads are memory-map
// loads. A single writer may be active per slot; any number of readers may
// run concurrently with it and with each other.
package accountsdb
