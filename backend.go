package ffsp

import (
	"io"
	"os"
)

// Backend is the positional, synchronous I/O medium ffsp runs on top of:
// a file opened with immediate-sync semantics, or an in-memory buffer for
// tests. All core components read and write through it; nothing buffers
// or defers a write past the call that issued it (spec.md §5).
type Backend interface {
	io.ReaderAt
	io.WriterAt
	// Sync flushes any host-level buffering. fileBackend opens with
	// O_SYNC already, so this is mostly a safety net; memBackend's is a
	// no-op.
	Sync() error
	// Size returns the current size of the medium in bytes.
	Size() int64
	Close() error
}

// fileBackend is a Backend over a regular file, opened for synchronous
// writes so the single-writer model in spec.md §5 never has to reason
// about a deferred flush.
type fileBackend struct {
	f *os.File
}

// openFileBackend opens path for read-write positional I/O. It does not
// create the file; mkfs is responsible for sizing a fresh device.
func openFileBackend(path string) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	return &fileBackend{f: f}, nil
}

// createFileBackend creates (or truncates) path and sizes it to size
// bytes, for use by mkfs.
func createFileBackend(path string, size int64) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_SYNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &fileBackend{f: f}, nil
}

// OpenFileBackend opens an existing ffsp image at path for mounting.
func OpenFileBackend(path string) (Backend, error) {
	return openFileBackend(path)
}

// CreateFileBackend creates (or truncates) a fresh ffsp image at path
// sized to size bytes, ready for Mkfs.
func CreateFileBackend(path string, size int64) (Backend, error) {
	return createFileBackend(path, size)
}

// NewMemBackend returns an in-memory Backend of size bytes, for tests
// and embedded use without a backing file.
func NewMemBackend(size int64) Backend {
	return newMemBackend(size)
}

func (b *fileBackend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *fileBackend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *fileBackend) Sync() error                              { return b.f.Sync() }
func (b *fileBackend) Close() error                             { return b.f.Close() }

func (b *fileBackend) Size() int64 {
	fi, err := b.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

// memBackend is an in-memory Backend, for tests and for embedding ffsp
// images inside other programs without a file descriptor.
type memBackend struct {
	buf []byte
}

func newMemBackend(size int64) *memBackend {
	return &memBackend{buf: make([]byte, size)}
}

func (b *memBackend) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidArgument
	}
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *memBackend) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidArgument
	}
	end := off + int64(len(p))
	if end > int64(len(b.buf)) {
		grown := make([]byte, end)
		copy(grown, b.buf)
		b.buf = grown
	}
	return copy(b.buf[off:end], p), nil
}

func (b *memBackend) Sync() error { return nil }
func (b *memBackend) Close() error { return nil }
func (b *memBackend) Size() int64 { return int64(len(b.buf)) }
