package accountsdb

import (
	"fmt"

	"go.uber.org/zap"
)

// Options configure opening a DB, following the teacher's Options-struct
// plus eager-validation-in-the-constructor convention.
type Options struct {
	// Dir is the directory AppendVec files and the snapshot manifest live
	// under.
	Dir string

	// StorageCapacityBytes is the fixed capacity of each newly created
	// AppendVec.
	StorageCapacityBytes int64

	// ReadOnlyCacheSize bounds the number of (pubkey, slot) entries kept in
	// the hot read-only cache.
	ReadOnlyCacheSize int

	// RecycleStoresMax bounds the number of retired storage entries kept
	// available for reuse.
	RecycleStoresMax int

	// ShrinkRatio is the alive/total byte ratio below which a storage
	// becomes a shrink candidate. Zero selects the default of 0.80.
	ShrinkRatio float64

	// TokenProgram is the owner pubkey treated as the SPL token program for
	// secondary mint/owner indexing.
	TokenProgram Pubkey

	// EnableSecondaryIndexes turns on program-id/mint/owner indexing.
	EnableSecondaryIndexes bool

	// WriteCaching enables the per-slot write cache (C8); when false,
	// writes go straight to storage and roots are marked uncleaned
	// immediately rather than on flush.
	WriteCaching bool

	// Debug selects zap.NewDevelopment() loggers instead of
	// zap.NewProduction() ones.
	Debug bool

	// Logger, if set, overrides the constructed loggers entirely. Mainly
	// for tests that want to capture output.
	Logger *zap.Logger
}

// defaultShrinkRatio is the alive/total byte threshold below which §4.9
// selects a storage for shrinking.
const defaultShrinkRatio = 0.80

const minStorageCapacityBytes = 4096

// validate checks Options for internal consistency and fills in defaults,
// returning a sanitized copy.
func (o Options) validate() (Options, error) {
	if o.Dir == "" {
		return o, fmt.Errorf("accountsdb: Dir must not be empty: %w", ErrInvalidOptions)
	}
	if o.StorageCapacityBytes <= 0 {
		return o, fmt.Errorf("accountsdb: StorageCapacityBytes must be > 0: %w", ErrInvalidOptions)
	}
	if o.StorageCapacityBytes < minStorageCapacityBytes {
		return o, fmt.Errorf("accountsdb: StorageCapacityBytes %d below minimum %d: %w", o.StorageCapacityBytes, minStorageCapacityBytes, ErrInvalidOptions)
	}
	if o.ReadOnlyCacheSize <= 0 {
		o.ReadOnlyCacheSize = 100_000
	}
	if o.RecycleStoresMax <= 0 {
		o.RecycleStoresMax = 1024
	}
	if o.ShrinkRatio <= 0 || o.ShrinkRatio >= 1 {
		o.ShrinkRatio = defaultShrinkRatio
	}
	return o, nil
}

func newLogger(name string, opts Options) *zap.Logger {
	if opts.Logger != nil {
		return opts.Logger.Named(name)
	}

	var l *zap.Logger
	var err error
	if opts.Debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l.Named(name)
}
