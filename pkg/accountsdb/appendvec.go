package accountsdb

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// AppendVec is a single memory-mapped file holding all account writes for
// one (slot, storage-id). Writes are append-only and single-writer;
// GetAccount/Accounts are safe for any number of concurrent readers.
//
// Unlike slotcache's SLC1 format, an AppendVec has no hash table: records
// are discovered purely by linear offset, which is all C10's load path and
// C11's clean/shrink passes need (the primary index, not the file, answers
// "where is pubkey p").
type AppendVec struct {
	path string
	file *os.File

	mu   sync.RWMutex // guards data/capacity/closed during (re)map
	data []byte
	cap  int64

	length atomic.Int64 // logical append length; monotonic within one Open, reset to 0 by Reset
	closed atomic.Bool
}

// CreateAppendVec creates a new, empty AppendVec file at path with the
// given capacity, following the teacher's temp-file-then-rename pattern for
// crash-safe creation.
func CreateAppendVec(path string, capacity int64) (*AppendVec, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("accountsdb: capacity must be > 0: %w", ErrInvalidOptions)
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, os.Getpid())
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: create append vec: %w", err)
	}
	if err := f.Truncate(capacity); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("accountsdb: truncate append vec: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("accountsdb: rename append vec into place: %w", err)
	}

	return mapAppendVec(path, f, capacity, 0)
}

// OpenAppendVec reopens an existing AppendVec file, e.g. during snapshot
// reconstruction. length is the logical number of bytes already written
// (the caller determines this by scanning, see Reconstruct).
func OpenAppendVec(path string, capacity, length int64) (*AppendVec, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: open append vec: %w", err)
	}
	return mapAppendVec(path, f, capacity, length)
}

func mapAppendVec(path string, f *os.File, capacity, length int64) (*AppendVec, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("accountsdb: mmap append vec: %w", err)
	}

	av := &AppendVec{
		path: path,
		file: f,
		data: data,
		cap:  capacity,
	}
	av.length.Store(length)
	return av, nil
}

// Append writes records contiguously starting at the current logical end.
// It returns the start offset of each record written plus a trailing
// end-offset. If the region cannot hold every record, it returns ok=false
// with the offsets of the records that fit followed by the offset where the
// first one that did not fit would start; the logical length is not
// advanced, so none of the batch is committed. ok=false is not an error: it
// signals "no capacity" to the caller, which reports ErrNoCapacity or
// retries on a new storage entry.
func (av *AppendVec) Append(records []*Account) (offsets []int64, ok bool) {
	av.mu.RLock()
	defer av.mu.RUnlock()

	if av.closed.Load() {
		return nil, false
	}

	cur := av.length.Load()
	offsets = make([]int64, 0, len(records)+1)

	for _, rec := range records {
		size := int64(recordSize(len(rec.Data)))
		if cur+size > av.cap {
			offsets = append(offsets, cur)
			return offsets, false
		}
		encodeRecord(av.data[cur:cur+size], rec)
		offsets = append(offsets, cur)
		cur += size
	}
	offsets = append(offsets, cur)
	av.length.Store(cur)
	return offsets, true
}

// GetAccount returns a decoded copy of the record at offset, plus
// the offset of the next record (useful for linear scans).
func (av *AppendVec) GetAccount(offset int64) (*Account, int64, error) {
	av.mu.RLock()
	defer av.mu.RUnlock()

	if av.closed.Load() {
		return nil, 0, ErrClosed
	}

	length := av.length.Load()
	if offset < 0 || offset >= length {
		return nil, 0, fmt.Errorf("accountsdb: offset %d out of range [0,%d): %w", offset, length, ErrCorruptedSnapshot)
	}

	acc, n, err := decodeRecord(av.data[offset:length], 0)
	if err != nil {
		return nil, 0, err
	}
	return acc, offset + int64(n), nil
}

// Accounts returns a finite, restartable iterator over every record from
// startOffset to the current logical end. Each yielded account has Slot
// left at the zero value; callers that need Slot (StorageEntry does) fill
// it in from their own (slot, storage-id) context.
func (av *AppendVec) Accounts(startOffset int64) iter.Seq[*Account] {
	return func(yield func(*Account) bool) {
		offset := startOffset
		for {
			av.mu.RLock()
			length := av.length.Load()
			closed := av.closed.Load()
			if closed || offset >= length {
				av.mu.RUnlock()
				return
			}
			acc, recLen, err := decodeRecord(av.data[offset:length], 0)
			av.mu.RUnlock()
			if err != nil {
				return
			}
			if !yield(acc) {
				return
			}
			offset += int64(recLen)
		}
	}
}

// Reset truncates the logical length to zero. The underlying memory is left
// as-is (future writes overwrite it); legal only when the caller guarantees
// no account in this AppendVec remains referenced (StorageEntry enforces
// this: only called when count has reached zero while Full).
func (av *AppendVec) Reset() {
	av.length.Store(0)
}

// Flush requests durability of the mapped bytes via msync.
func (av *AppendVec) Flush() error {
	av.mu.RLock()
	defer av.mu.RUnlock()
	if av.closed.Load() {
		return ErrClosed
	}
	if err := unix.Msync(av.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("accountsdb: msync append vec: %w", err)
	}
	return nil
}

// Len returns the current logical length in bytes.
func (av *AppendVec) Len() int64 {
	return av.length.Load()
}

// Capacity returns the fixed mmap capacity in bytes.
func (av *AppendVec) Capacity() int64 {
	return av.cap
}

// Close unmaps the file and closes the descriptor. Safe to call once; a
// second call returns ErrClosed.
func (av *AppendVec) Close() error {
	av.mu.Lock()
	defer av.mu.Unlock()

	if av.closed.Swap(true) {
		return ErrClosed
	}

	var errs []error
	if err := unix.Munmap(av.data); err != nil {
		errs = append(errs, err)
	}
	if err := av.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
