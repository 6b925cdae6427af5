package cache

import (
	"io"
	"sync"

	"github.com/objectfs/streamcache/pkg/errors"
)

// Cache is the repeatable-read form of a body that could only be read once.
//
// The content is immutable once the cache has been returned by a Strategy.
// ReadChunk and Reset drive the handle's own cursor; Open and WriteTo create
// independent read sessions, so concurrent readers should use those.
type Cache interface {
	// Reset rewinds the handle's cursor to the start.
	Reset() error

	// ReadChunk returns the next chunk from the handle's cursor, or io.EOF
	// when the content is exhausted.
	ReadChunk() ([]byte, error)

	// Open starts an independent read session from the start.
	Open() (io.ReadCloser, error)

	// Length is the total number of cached bytes.
	Length() int64

	// WriteTo copies the full content to w without moving the cursor.
	WriteTo(w io.Writer) (int64, error)

	// Copy returns another handle over the same content. Each handle must
	// be released separately.
	Copy() (Cache, error)

	// InMemory reports whether the content is held in memory.
	InMemory() bool

	// Release frees the content. It is idempotent.
	Release() error
}

func errReleased(operation string) error {
	return errors.NewError(errors.ErrCodeUseAfterRelease, "cache has been released").
		WithComponent("cache").
		WithOperation(operation)
}

// cursor is the per-handle sequential position used by ReadChunk.
type cursor struct {
	mu        sync.Mutex
	chunkSize int
	open      func() (io.ReadCloser, error)
	rc        io.ReadCloser
	done      bool
}

func newCursor(chunkSize int, open func() (io.ReadCloser, error)) *cursor {
	if chunkSize <= 0 {
		chunkSize = DefaultBufferSize
	}
	return &cursor{chunkSize: chunkSize, open: open}
}

func (c *cursor) next() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, io.EOF
	}
	if c.rc == nil {
		rc, err := c.open()
		if err != nil {
			return nil, err
		}
		c.rc = rc
	}

	chunk := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.rc, chunk)
	switch err {
	case nil:
		return chunk, nil
	case io.EOF, io.ErrUnexpectedEOF:
		c.done = true
		_ = c.rc.Close()
		c.rc = nil
		if n == 0 {
			return nil, io.EOF
		}
		return chunk[:n], nil
	default:
		return nil, err
	}
}

func (c *cursor) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rc != nil {
		_ = c.rc.Close()
		c.rc = nil
	}
	c.done = false
}
