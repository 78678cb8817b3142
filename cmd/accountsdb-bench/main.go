// Command accountsdb-bench replays synthetic account writes against a store
// and reports store/load throughput, following the teacher's pflag-based
// flag-parsing convention.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func main() {
	var (
		dir        = flag.StringP("dir", "d", "", "store directory (default: a temp dir)")
		accounts   = flag.IntP("accounts", "n", 100_000, "number of distinct pubkeys to write")
		slots      = flag.IntP("slots", "s", 10, "number of slots to spread writes across")
		dataLen    = flag.IntP("data-len", "l", 128, "bytes of account data per write")
		cacheWrite = flag.Bool("cache", true, "enable the write cache")
		capacity   = flag.Int64P("storage-capacity", "c", 64<<20, "bytes per append-vec")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: accountsdb-bench [flags]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	root := *dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "accountsdb-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", root, err)
		os.Exit(1)
	}

	opts := accountsdb.Options{
		Dir:                  filepath.Clean(root),
		StorageCapacityBytes: *capacity,
		WriteCaching:         *cacheWrite,
	}

	db, err := accountsdb.Open(opts, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	pubkeys := make([]accountsdb.Pubkey, *accounts)
	for i := range pubkeys {
		if _, err := rand.Read(pubkeys[i][:]); err != nil {
			fmt.Fprintf(os.Stderr, "rand: %v\n", err)
			os.Exit(1)
		}
	}

	data := make([]byte, *dataLen)
	_, _ = rand.Read(data)

	storeStart := time.Now()
	for i, pk := range pubkeys {
		slot := accountsdb.Slot(i % *slots)
		err := db.Store(slot, &accountsdb.Account{
			Lamports: 1,
			Owner:    pk,
			Pubkey:   pk,
			Data:     data,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "store: %v\n", err)
			os.Exit(1)
		}
	}
	storeElapsed := time.Since(storeStart)

	for slot := 0; slot < *slots; slot++ {
		s := accountsdb.Slot(slot)
		if err := db.Flush(s); err != nil {
			fmt.Fprintf(os.Stderr, "flush: %v\n", err)
			os.Exit(1)
		}
		db.AddRoot(s)
	}

	loadStart := time.Now()
	var misses int
	for _, pk := range pubkeys {
		if _, err := db.Load(nil, pk, accountsdb.HintUnspecified); err != nil {
			misses++
		}
	}
	loadElapsed := time.Since(loadStart)

	fmt.Printf("accounts=%d slots=%d data_len=%d write_caching=%v\n", *accounts, *slots, *dataLen, *cacheWrite)
	fmt.Printf("store: %s total, %.0f accounts/sec\n", storeElapsed, float64(*accounts)/storeElapsed.Seconds())
	fmt.Printf("load:  %s total, %.0f accounts/sec, %d misses\n", loadElapsed, float64(*accounts)/loadElapsed.Seconds(), misses)
}
