package accountsdb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerOptions configures the background executor's ticker intervals.
// Zero values select the package defaults.
type SchedulerOptions struct {
	FlushInterval   time.Duration
	CleanInterval   time.Duration
	ShrinkInterval  time.Duration
	RecycleInterval time.Duration

	// RootsForFlush, if set, is called each flush tick to get the set of
	// slots due for flushing. A nil func disables the flush tick entirely.
	RootsForFlush func() []Slot
}

const (
	defaultFlushInterval   = 200 * time.Millisecond
	defaultCleanInterval   = 5 * time.Second
	defaultShrinkInterval  = 10 * time.Second
	defaultRecycleInterval = time.Minute
)

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.CleanInterval <= 0 {
		o.CleanInterval = defaultCleanInterval
	}
	if o.ShrinkInterval <= 0 {
		o.ShrinkInterval = defaultShrinkInterval
	}
	if o.RecycleInterval <= 0 {
		o.RecycleInterval = defaultRecycleInterval
	}
	return o
}

// Scheduler runs the background flush/clean/shrink maintenance loop that
// keeps a DB's storage bounded without requiring callers to drive clean and
// shrink explicitly, in the teacher's background-executor idiom: one
// goroutine for flush, one for clean and shrink together, and one for the
// recycle sweep, each on its own ticker, all stopped by cancelling a shared
// context.
type Scheduler struct {
	db   *DB
	opts SchedulerOptions
	log  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler for db. Call Start to begin running it.
func NewScheduler(db *DB, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		db:   db,
		opts: opts.withDefaults(),
		log:  db.log.Named("scheduler"),
	}
}

// Start launches the maintenance goroutines. Calling Start twice without an
// intervening Stop is a programming error and panics, matching the
// single-writer discipline the rest of this package assumes.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cancel != nil {
		panic("accountsdb: scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.runFlush(ctx)
	go s.runCleanShrink(ctx)
	go s.runRecycleSweep(ctx)
}

// Stop cancels the background goroutines and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func (s *Scheduler) runFlush(ctx context.Context) {
	defer s.wg.Done()
	if s.opts.RootsForFlush == nil {
		return
	}

	t := time.NewTicker(s.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, slot := range s.opts.RootsForFlush() {
				if err := s.db.Flush(slot); err != nil {
					s.log.Warn("flush failed", zap.Uint64("slot", uint64(slot)), zap.Error(err))
				}
			}
		}
	}
}

// runCleanShrink drives Clean and Shrink off separate tickers but in the
// same goroutine, since both already serialize on db.cleanShrinkMu and
// interleaving them here avoids two goroutines fighting over that lock.
func (s *Scheduler) runCleanShrink(ctx context.Context) {
	defer s.wg.Done()

	cleanTick := time.NewTicker(s.opts.CleanInterval)
	defer cleanTick.Stop()
	shrinkTick := time.NewTicker(s.opts.ShrinkInterval)
	defer shrinkTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanTick.C:
			s.db.Clean(nil)
		case <-shrinkTick.C:
			for _, slot := range s.db.ShrinkCandidates() {
				if err := s.db.Shrink(slot); err != nil {
					s.log.Warn("shrink failed", zap.Uint64("slot", uint64(slot)), zap.Error(err))
				}
			}
		}
	}
}

// runRecycleSweep periodically logs recycle-pool occupancy and samples the
// point-in-time gauges; ttlcache's own internal goroutine (started in
// NewRecycleStores) already handles eviction timing, so this tick exists
// only to surface a metrics snapshot.
func (s *Scheduler) runRecycleSweep(ctx context.Context) {
	defer s.wg.Done()

	t := time.NewTicker(s.opts.RecycleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.log.Debug("recycle pool occupancy", zap.Int("len", s.db.recycle.Len()))
			s.db.SampleMetrics()
		}
	}
}
