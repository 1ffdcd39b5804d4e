// Package store provides swappable, sequential record storage for one
// generation of buffered events. A store accepts appends until it is closed,
// after which its records can be read back exactly once in write order and
// the underlying storage deleted.
package store

import "fmt"

// Store holds one generation of buffered records.
//
// Lifecycle: Append* -> Close -> Reader -> Delete. A store is owned by
// exactly one goroutine at a time; implementations do not need to be safe
// for concurrent use.
type Store interface {
	// Append adds one record to the store.
	Append(record []byte) error
	// Close flushes and seals the store for writing.
	Close() error
	// Reader opens the sealed store for sequential reads in write order.
	Reader() (Reader, error)
	// Delete removes the underlying storage. Safe to call more than once.
	Delete() error
}

// Reader iterates records in the order they were appended.
type Reader interface {
	// Next returns the next record, or io.EOF after the last one.
	Next() ([]byte, error)
	Close() error
}

// Factory allocates a fresh store for a buffer generation. The name is the
// owning cache's name and may be used to derive storage naming.
type Factory func(name string) (Store, error)

// StorageError reports a failure to allocate, write, read or remove the
// underlying storage of a buffer generation.
type StorageError struct {
	Op   string // "create", "append", "close", "open", "read", "delete"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("record store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("record store %s failed on %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
