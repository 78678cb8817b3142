package accountsdb_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/solmeta/accountsdb/pkg/accountsdb"
)

func Test_AppendVec_Append_Then_GetAccount_Roundtrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 1<<16)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	defer av.Close()

	var pk accountsdb.Pubkey
	pk[0] = 7
	acc := &accountsdb.Account{
		Lamports: 10,
		Owner:    pk,
		Pubkey:   pk,
		Data:     []byte("payload"),
	}

	offsets, ok := av.Append([]*accountsdb.Account{acc})
	if !ok {
		t.Fatalf("expected Append to succeed with ample capacity")
	}
	if len(offsets) != 2 {
		t.Fatalf("expected 2 offsets (start + end), got %d", len(offsets))
	}

	got, next, err := av.GetAccount(offsets[0])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Pubkey != acc.Pubkey || got.Lamports != acc.Lamports || string(got.Data) != string(acc.Data) {
		t.Fatalf("decoded account mismatch: got %+v", got)
	}
	if next != offsets[1] {
		t.Fatalf("expected next offset %d, got %d", offsets[1], next)
	}
}

func Test_AppendVec_Append_Reports_NoCapacity_When_Full(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 64)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	defer av.Close()

	big := &accountsdb.Account{Data: make([]byte, 256)}
	_, ok := av.Append([]*accountsdb.Account{big})
	if ok {
		t.Fatalf("expected Append to fail for a record larger than capacity")
	}
}

func Test_AppendVec_Accounts_Iterates_In_Order(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 1<<16)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	defer av.Close()

	var written []accountsdb.Pubkey
	for i := byte(0); i < 5; i++ {
		var pk accountsdb.Pubkey
		pk[0] = i
		written = append(written, pk)
		if _, ok := av.Append([]*accountsdb.Account{{Pubkey: pk, Lamports: uint64(i) + 1}}); !ok {
			t.Fatalf("Append %d failed", i)
		}
	}

	var seen []accountsdb.Pubkey
	for acc := range av.Accounts(0) {
		seen = append(seen, acc.Pubkey)
	}

	if len(seen) != len(written) {
		t.Fatalf("expected %d accounts, saw %d", len(written), len(seen))
	}
	for i := range written {
		if seen[i] != written[i] {
			t.Errorf("account %d: expected %s, got %s", i, written[i], seen[i])
		}
	}
}

func Test_AppendVec_Accounts_Stops_Early_When_Yield_Returns_False(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 1<<16)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	defer av.Close()

	for i := byte(0); i < 3; i++ {
		var pk accountsdb.Pubkey
		pk[0] = i
		if _, ok := av.Append([]*accountsdb.Account{{Pubkey: pk}}); !ok {
			t.Fatalf("Append %d failed", i)
		}
	}

	count := 0
	for range av.Accounts(0) {
		count++
		if count == 1 {
			break
		}
	}
	if count != 1 {
		t.Fatalf("expected iteration to stop after 1 account, got %d", count)
	}
}

func Test_AppendVec_Close_Is_Idempotent_With_ErrClosed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 4096)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}

	if err := av.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := av.Close(); !errors.Is(err, accountsdb.ErrClosed) {
		t.Fatalf("expected ErrClosed on second Close, got %v", err)
	}
}

func Test_AppendVec_Reset_Truncates_Logical_Length(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vec.bin")
	av, err := accountsdb.CreateAppendVec(path, 4096)
	if err != nil {
		t.Fatalf("CreateAppendVec: %v", err)
	}
	defer av.Close()

	if _, ok := av.Append([]*accountsdb.Account{{Data: []byte("x")}}); !ok {
		t.Fatalf("Append failed")
	}
	if av.Len() == 0 {
		t.Fatalf("expected non-zero length after append")
	}

	av.Reset()
	if av.Len() != 0 {
		t.Fatalf("expected Len()==0 after Reset, got %d", av.Len())
	}
}
