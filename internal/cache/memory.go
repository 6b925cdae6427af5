package cache

import (
	"bytes"
	"io"
	"sync/atomic"
)

// MemoryCache holds a cached body in memory.
type MemoryCache struct {
	data      atomic.Pointer[[]byte]
	length    int64
	chunkSize int
	cur       *cursor
}

// NewMemoryCache wraps data, which must not be modified afterwards. ReadChunk
// returns chunks of at most chunkSize bytes.
func NewMemoryCache(data []byte, chunkSize int) *MemoryCache {
	c := &MemoryCache{length: int64(len(data)), chunkSize: chunkSize}
	c.data.Store(&data)
	c.cur = newCursor(chunkSize, c.Open)
	return c
}

func (c *MemoryCache) bytes(operation string) ([]byte, error) {
	p := c.data.Load()
	if p == nil {
		return nil, errReleased(operation)
	}
	return *p, nil
}

// Reset implements Cache.
func (c *MemoryCache) Reset() error {
	if _, err := c.bytes("reset"); err != nil {
		return err
	}
	c.cur.reset()
	return nil
}

// ReadChunk implements Cache.
func (c *MemoryCache) ReadChunk() ([]byte, error) {
	if _, err := c.bytes("read"); err != nil {
		return nil, err
	}
	return c.cur.next()
}

// Open implements Cache. Sessions index the shared buffer independently.
func (c *MemoryCache) Open() (io.ReadCloser, error) {
	data, err := c.bytes("open")
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Length implements Cache.
func (c *MemoryCache) Length() int64 {
	return c.length
}

// WriteTo implements Cache and io.WriterTo.
func (c *MemoryCache) WriteTo(w io.Writer) (int64, error) {
	data, err := c.bytes("write_to")
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Copy implements Cache. The copy shares the immutable buffer.
func (c *MemoryCache) Copy() (Cache, error) {
	data, err := c.bytes("copy")
	if err != nil {
		return nil, err
	}
	return NewMemoryCache(data, c.chunkSize), nil
}

// InMemory implements Cache.
func (c *MemoryCache) InMemory() bool {
	return true
}

// Release implements Cache. The buffer becomes garbage once every copy is released.
func (c *MemoryCache) Release() error {
	if c.data.Swap(nil) == nil {
		return nil
	}
	c.cur.reset()
	return nil
}
