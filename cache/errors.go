package cache

import (
	"errors"
	"fmt"
)

// SerializationError reports a codec failure for a single record. It
// surfaces synchronously from Add; the caller decides whether to drop or
// retry the event.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("event serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PublishError reports a failure inside a Publisher call for one batch.
// Publish failures never reach Add callers; they show up in logs and as a
// false value on the flush future.
type PublishError struct {
	Stream string
	Index  int // -1 when the failure is not tied to one record
	Err    error
}

func (e *PublishError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("publish failed for stream %s at record %d: %v", e.Stream, e.Index, e.Err)
	}
	return fmt.Sprintf("publish failed for stream %s: %v", e.Stream, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ErrShutdownTimeout is reported when a publish worker does not drain within
// the shutdown bound. The worker is abandoned, not interrupted.
var ErrShutdownTimeout = errors.New("publish worker did not terminate within timeout")

// Worker submission failures. Both resolve the flush future to false rather
// than propagating to the caller.
var (
	errWorkerClosed = errors.New("publish worker is shut down")
	errQueueFull    = errors.New("publish queue is full")
)
