package accountsdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func Test_Scheduler_Start_Panics_On_Second_Start(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	s := accountsdb.NewScheduler(db, accountsdb.SchedulerOptions{})
	s.Start(context.Background())
	defer s.Stop()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a second Start to panic")
		}
	}()
	s.Start(context.Background())
}

func Test_Scheduler_Stop_Is_Safe_Before_Start(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, false)
	s := accountsdb.NewScheduler(db, accountsdb.SchedulerOptions{})
	s.Stop() // must not panic or block
}

func Test_Scheduler_Flush_Tick_Flushes_Roots_From_The_Callback(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, true) // write caching must be on for Flush to do anything
	pk := pubkeyWithFirstByte(1)
	if err := db.Store(1, &accountsdb.Account{Pubkey: pk, Lamports: 7}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	db.AddRoot(1)

	flushed := make(chan struct{}, 1)
	s := accountsdb.NewScheduler(db, accountsdb.SchedulerOptions{
		FlushInterval: 10 * time.Millisecond,
		RootsForFlush: func() []accountsdb.Slot {
			select {
			case flushed <- struct{}{}:
			default:
			}
			return []accountsdb.Slot{1}
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the flush tick to call RootsForFlush")
	}

	got, err := db.Load(nil, pk, accountsdb.HintUnspecified)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Lamports != 7 {
		t.Fatalf("expected Lamports==7, got %d", got.Lamports)
	}
}
