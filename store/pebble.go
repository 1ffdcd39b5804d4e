package store

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// Pebble key layout: /gen/{genID:016x}/{seq:016x} -> record bytes. Each
// buffer generation owns one key range, so deleting a drained generation is
// a single range tombstone.
const prefixGen = "/gen/"

// Pebble tuning for small sequential scratch writes. Durability across
// restarts is explicitly not a goal, so the WAL is disabled.
const (
	memTableSize                = 16 << 20 // 16MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// PebbleBacking is a shared pebble database that hands out one PebbleStore
// per buffer generation. A single backing serves any number of caches.
type PebbleBacking struct {
	db      *pebble.DB
	nextGen atomic.Uint64
	closed  atomic.Bool
}

// OpenPebble creates or opens the scratch database at dataDir.
func OpenPebble(dataDir string) (*PebbleBacking, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		DisableWAL:                  true,
	}

	db, err := pebble.Open(dataDir, opts)
	if err != nil {
		return nil, &StorageError{Op: "create", Path: dataDir, Err: err}
	}
	return &PebbleBacking{db: db}, nil
}

// Factory returns a Factory allocating one generation per call.
func (b *PebbleBacking) Factory() Factory {
	return func(string) (Store, error) {
		if b.closed.Load() {
			return nil, &StorageError{Op: "create", Err: errors.New("pebble backing is closed")}
		}
		return &PebbleStore{
			backing: b,
			gen:     b.nextGen.Add(1),
		}, nil
	}
}

// Close releases the shared database. Outstanding stores become unusable.
func (b *PebbleBacking) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

// PebbleStore holds one buffer generation inside a shared pebble database.
type PebbleStore struct {
	backing *PebbleBacking
	gen     uint64
	seq     uint64
	closed  bool
	deleted bool
}

func (s *PebbleStore) Append(record []byte) error {
	if s.closed {
		return &StorageError{Op: "append", Err: errors.New("store is closed")}
	}
	s.seq++
	key := formatGenKey(s.gen, s.seq)
	if err := s.backing.db.Set(key, record, pebble.NoSync); err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	return nil
}

func (s *PebbleStore) Close() error {
	s.closed = true
	return nil
}

func (s *PebbleStore) Reader() (Reader, error) {
	lower := formatGenKey(s.gen, 0)
	upper := prefixUpperBound(genPrefix(s.gen))
	iter, err := s.backing.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	return &pebbleReader{iter: iter, first: true}, nil
}

func (s *PebbleStore) Delete() error {
	if s.deleted {
		return nil
	}
	s.deleted = true
	lower := formatGenKey(s.gen, 0)
	upper := prefixUpperBound(genPrefix(s.gen))
	if err := s.backing.db.DeleteRange(lower, upper, pebble.NoSync); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

type pebbleReader struct {
	iter  *pebble.Iterator
	first bool
}

func (r *pebbleReader) Next() ([]byte, error) {
	var valid bool
	if r.first {
		valid = r.iter.First()
		r.first = false
	} else {
		valid = r.iter.Next()
	}
	if !valid {
		if err := r.iter.Error(); err != nil {
			return nil, &StorageError{Op: "read", Err: err}
		}
		return nil, io.EOF
	}

	val, err := r.iter.ValueAndErr()
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	record := make([]byte, len(val))
	copy(record, val)
	return record, nil
}

func (r *pebbleReader) Close() error { return r.iter.Close() }

func genPrefix(gen uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x/", prefixGen, gen))
}

func formatGenKey(gen, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x/%016x", prefixGen, gen, seq))
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // Prefix is all 0xff
}
