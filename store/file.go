package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorruptRecord indicates a record frame failed its checksum or was cut
// short, typically by a process interrupted mid-append. The remainder of the
// generation is unreadable; there is no repair path.
var ErrCorruptRecord = errors.New("corrupt record frame")

// ErrRecordTooLarge is returned by Append for records exceeding the frame
// size limit. Rejecting at write time surfaces the error to the producer
// instead of poisoning the generation for the publish read.
var ErrRecordTooLarge = errors.New("record exceeds frame size limit")

// Frame layout: 4-byte little-endian payload length, 8-byte little-endian
// xxhash64 of the payload, payload bytes.
const frameHeaderSize = 12

// maxRecordSize bounds a single record frame. Anything larger is treated as
// corruption when reading back.
const maxRecordSize = 64 << 20 // 64MB

// Shared zstd coders; EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// FileOption configures file-backed stores produced by TempFile.
type FileOption func(*fileOptions)

type fileOptions struct {
	compress bool
}

// WithCompression enables per-record zstd compression of spilled buffers.
func WithCompression() FileOption {
	return func(o *fileOptions) { o.compress = true }
}

// TempFile returns a Factory allocating one temp file per buffer generation
// under dir (empty = system temp dir), named from the cache name prefix.
func TempFile(dir string, opts ...FileOption) Factory {
	var o fileOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(name string) (Store, error) {
		f, err := os.CreateTemp(dir, sanitizePrefix(name)+"-*.buf")
		if err != nil {
			return nil, &StorageError{Op: "create", Path: dir, Err: err}
		}
		return &FileStore{
			file:     f,
			w:        bufio.NewWriter(f),
			compress: o.compress,
		}, nil
	}
}

// FileStore spills one generation of records to a scratch file.
type FileStore struct {
	file     *os.File
	w        *bufio.Writer
	compress bool
	closed   bool
}

func (s *FileStore) Append(record []byte) error {
	if s.closed {
		return &StorageError{Op: "append", Path: s.file.Name(), Err: errors.New("store is closed")}
	}

	payload := record
	if s.compress {
		payload = zstdEncoder.EncodeAll(record, make([]byte, 0, len(record)/2))
	}
	if len(payload) > maxRecordSize {
		return &StorageError{Op: "append", Path: s.file.Name(), Err: ErrRecordTooLarge}
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[4:12], xxhash.Sum64(payload))

	if _, err := s.w.Write(header[:]); err != nil {
		return &StorageError{Op: "append", Path: s.file.Name(), Err: err}
	}
	if _, err := s.w.Write(payload); err != nil {
		return &StorageError{Op: "append", Path: s.file.Name(), Err: err}
	}
	return nil
}

func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		return &StorageError{Op: "close", Path: s.file.Name(), Err: err}
	}
	if err := s.file.Close(); err != nil {
		return &StorageError{Op: "close", Path: s.file.Name(), Err: err}
	}
	return nil
}

func (s *FileStore) Reader() (Reader, error) {
	f, err := os.Open(s.file.Name())
	if err != nil {
		return nil, &StorageError{Op: "open", Path: s.file.Name(), Err: err}
	}
	return &fileReader{
		path:     s.file.Name(),
		file:     f,
		r:        bufio.NewReader(f),
		compress: s.compress,
	}, nil
}

func (s *FileStore) Delete() error {
	if err := os.Remove(s.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Path: s.file.Name(), Err: err}
	}
	return nil
}

// Path returns the scratch file location.
func (s *FileStore) Path() string { return s.file.Name() }

type fileReader struct {
	path     string
	file     *os.File
	r        *bufio.Reader
	compress bool
}

func (r *fileReader) Next() ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// A frame cut off mid-header means a partial trailing write.
		return nil, &StorageError{Op: "read", Path: r.path, Err: ErrCorruptRecord}
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	sum := binary.LittleEndian.Uint64(header[4:12])
	if length > maxRecordSize {
		return nil, &StorageError{Op: "read", Path: r.path, Err: ErrCorruptRecord}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &StorageError{Op: "read", Path: r.path, Err: ErrCorruptRecord}
	}
	if xxhash.Sum64(payload) != sum {
		return nil, &StorageError{Op: "read", Path: r.path, Err: ErrCorruptRecord}
	}

	if r.compress {
		record, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, &StorageError{Op: "read", Path: r.path, Err: fmt.Errorf("%w: %v", ErrCorruptRecord, err)}
		}
		return record, nil
	}
	return payload, nil
}

func (r *fileReader) Close() error { return r.file.Close() }

// sanitizePrefix keeps temp file prefixes free of path separators and other
// characters os.CreateTemp rejects.
func sanitizePrefix(name string) string {
	if name == "" {
		return "buffer"
	}
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case c == '-' || c == '_' || c == '.':
			return c
		default:
			return '_'
		}
	}, name)
}
