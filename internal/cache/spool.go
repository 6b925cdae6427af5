package cache

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/objectfs/streamcache/internal/spool"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

// spoolFile is a finished spool file shared by every copy of a SpoolCache.
// The file is removed when the last reference is released.
type spoolFile struct {
	path   string
	key    *spool.Key
	length int64
	refs   atomic.Int32
	logger *utils.StructuredLogger
}

func (f *spoolFile) open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSpoolRead, "cannot open spool file", err).
			WithComponent("cache").
			WithContext("path", f.path)
	}
	if f.key == nil {
		return file, nil
	}

	r, err := f.key.Reader(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(errors.ErrCodeSpoolRead, "cannot initialize spool cipher", err).
			WithComponent("cache")
	}
	return struct {
		io.Reader
		io.Closer
	}{r, file}, nil
}

// acquire adds a reference unless the file has already been released by
// its last holder.
func (f *spoolFile) acquire() bool {
	for {
		n := f.refs.Load()
		if n <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (f *spoolFile) release() error {
	if f.refs.Add(-1) > 0 {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("failed to delete spool file", map[string]interface{}{
			"path":  f.path,
			"error": err,
		})
		return errors.Wrap(errors.ErrCodeSpoolWrite, "cannot delete spool file", err).
			WithComponent("cache").
			WithContext("path", f.path)
	}
	f.logger.Trace("spool file deleted", map[string]interface{}{"path": f.path})
	return nil
}

// SpoolCache holds a cached body in a file inside the spool directory,
// optionally encrypted.
type SpoolCache struct {
	file      *spoolFile
	chunkSize int
	released  atomic.Bool
	cur       *cursor
}

func newSpoolCache(file *spoolFile, chunkSize int) *SpoolCache {
	file.refs.Add(1)
	return wrapSpoolFile(file, chunkSize)
}

// wrapSpoolFile creates a handle for a reference the caller already holds.
func wrapSpoolFile(file *spoolFile, chunkSize int) *SpoolCache {
	c := &SpoolCache{file: file, chunkSize: chunkSize}
	c.cur = newCursor(chunkSize, c.Open)
	return c
}

// Path returns the spool file backing this cache.
func (c *SpoolCache) Path() string {
	return c.file.path
}

// Encrypted reports whether the spool file is encrypted.
func (c *SpoolCache) Encrypted() bool {
	return c.file.key != nil
}

// Reset implements Cache.
func (c *SpoolCache) Reset() error {
	if c.released.Load() {
		return errReleased("reset")
	}
	c.cur.reset()
	return nil
}

// ReadChunk implements Cache, decrypting on the fly when needed.
func (c *SpoolCache) ReadChunk() ([]byte, error) {
	if c.released.Load() {
		return nil, errReleased("read")
	}
	return c.cur.next()
}

// Open implements Cache. Every session re-opens the file.
func (c *SpoolCache) Open() (io.ReadCloser, error) {
	if c.released.Load() {
		return nil, errReleased("open")
	}
	return c.file.open()
}

// Length implements Cache.
func (c *SpoolCache) Length() int64 {
	return c.file.length
}

// WriteTo implements Cache and io.WriterTo.
func (c *SpoolCache) WriteTo(w io.Writer) (int64, error) {
	rc, err := c.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return n, errors.Wrap(errors.ErrCodeSpoolRead, "cannot copy spool file", err).
			WithComponent("cache").
			WithContext("path", c.file.path)
	}
	return n, nil
}

// Copy implements Cache. The copy shares the spool file.
func (c *SpoolCache) Copy() (Cache, error) {
	if c.released.Load() || !c.file.acquire() {
		return nil, errReleased("copy")
	}
	return wrapSpoolFile(c.file, c.chunkSize), nil
}

// InMemory implements Cache.
func (c *SpoolCache) InMemory() bool {
	return false
}

// Release implements Cache. The file is deleted once no copy references it.
func (c *SpoolCache) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}
	c.cur.reset()
	return c.file.release()
}
