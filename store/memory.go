package store

import (
	"errors"
	"io"
)

// InMemory returns a Factory backed by plain slices. Intended for tests and
// low-volume streams where spilling to disk buys nothing.
func InMemory() Factory {
	return func(string) (Store, error) {
		return &MemoryStore{}, nil
	}
}

// MemoryStore keeps one generation of records in memory.
type MemoryStore struct {
	records [][]byte
	closed  bool
}

func (s *MemoryStore) Append(record []byte) error {
	if s.closed {
		return &StorageError{Op: "append", Err: errors.New("store is closed")}
	}
	buf := make([]byte, len(record))
	copy(buf, record)
	s.records = append(s.records, buf)
	return nil
}

func (s *MemoryStore) Close() error {
	s.closed = true
	return nil
}

func (s *MemoryStore) Reader() (Reader, error) {
	return &memoryReader{records: s.records}, nil
}

func (s *MemoryStore) Delete() error {
	s.records = nil
	return nil
}

type memoryReader struct {
	records [][]byte
	next    int
}

func (r *memoryReader) Next() ([]byte, error) {
	if r.next >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.next]
	r.next++
	return rec, nil
}

func (r *memoryReader) Close() error { return nil }
