package cache

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/internal/spool"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

// writeSpoolFile writes content to a file in dir, encrypting it when c is not nil.
func writeSpoolFile(t *testing.T, dir string, content []byte, c *spool.Cipher) *spoolFile {
	t.Helper()

	path := filepath.Join(dir, "cos-1-test.tmp")
	f, err := os.Create(path)
	require.NoError(t, err)

	var key *spool.Key
	var w io.WriteCloser = f
	if c != nil {
		key, err = c.NewKey()
		require.NoError(t, err)
		w, err = key.Writer(f)
		require.NoError(t, err)
	}
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &spoolFile{path: path, key: key, length: int64(len(content)), logger: utils.NewNopLogger()}
}

func TestSpoolCache_ReadBack(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 50)

	for _, name := range []string{"", "AES/CTR", "ChaCha20"} {
		t.Run("cipher="+name, func(t *testing.T) {
			c, err := spool.LookupCipher(name)
			require.NoError(t, err)

			file := writeSpoolFile(t, t.TempDir(), content, c)
			sc := newSpoolCache(file, 64)
			defer sc.Release()

			assert.Equal(t, name != "", sc.Encrypted())
			assert.False(t, sc.InMemory())
			assert.Equal(t, int64(len(content)), sc.Length())

			assert.Equal(t, content, drain(t, sc))
			require.NoError(t, sc.Reset())
			assert.Equal(t, content, drain(t, sc))

			var buf bytes.Buffer
			n, err := sc.WriteTo(&buf)
			require.NoError(t, err)
			assert.Equal(t, int64(len(content)), n)
			assert.Equal(t, content, buf.Bytes())

			if c != nil {
				raw, err := os.ReadFile(sc.Path())
				require.NoError(t, err)
				assert.NotEqual(t, content, raw, "file must not hold plaintext")
			}
		})
	}
}

func TestSpoolCache_CopyRefcount(t *testing.T) {
	file := writeSpoolFile(t, t.TempDir(), []byte("spooled"), nil)
	sc := newSpoolCache(file, 4)

	cp, err := sc.Copy()
	require.NoError(t, err)

	require.NoError(t, sc.Release())
	assert.FileExists(t, file.path, "copy still references the file")

	var buf bytes.Buffer
	_, err = cp.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "spooled", buf.String())

	require.NoError(t, cp.Release())
	assert.NoFileExists(t, file.path)
	require.NoError(t, cp.Release())
}

func TestSpoolCache_UseAfterRelease(t *testing.T) {
	file := writeSpoolFile(t, t.TempDir(), []byte("spooled"), nil)
	sc := newSpoolCache(file, 4)
	require.NoError(t, sc.Release())

	_, err := sc.ReadChunk()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	assert.True(t, errors.HasCode(sc.Reset(), errors.ErrCodeUseAfterRelease))
	_, err = sc.Copy()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	_, err = sc.WriteTo(io.Discard)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
}

func TestSpoolCache_MissingFile(t *testing.T) {
	file := writeSpoolFile(t, t.TempDir(), []byte("spooled"), nil)
	sc := newSpoolCache(file, 4)
	require.NoError(t, os.Remove(file.path))

	_, err := sc.ReadChunk()
	assert.True(t, errors.HasCode(err, errors.ErrCodeSpoolRead))
	require.NoError(t, sc.Release(), "an already missing file is not an error")
}

func TestSpoolCache_IndependentSessions(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefghij"), 1000)

	for _, name := range []string{"", "AES/CTR", "ChaCha20"} {
		t.Run("cipher="+name, func(t *testing.T) {
			c, err := spool.LookupCipher(name)
			require.NoError(t, err)

			sc := newSpoolCache(writeSpoolFile(t, t.TempDir(), content, c), 64)
			defer sc.Release()

			first, err := sc.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, content[:64], first)

			// A session opened mid-read starts from the beginning.
			rc, err := sc.Open()
			require.NoError(t, err)
			head := make([]byte, 100)
			_, err = io.ReadFull(rc, head)
			require.NoError(t, err)
			assert.Equal(t, content[:100], head)

			second, err := sc.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, content[64:128], second, "default cursor is unaffected by Open")

			var buf bytes.Buffer
			_, err = sc.WriteTo(&buf)
			require.NoError(t, err)
			assert.Equal(t, content, buf.Bytes())

			rest, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, content[100:], rest, "open session is unaffected by WriteTo")

			third, err := sc.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, content[128:192], third)
		})
	}
}

func TestSpoolCache_ConcurrentReaders(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 1000)

	for _, name := range []string{"", "AES/CTR", "ChaCha20"} {
		t.Run("cipher="+name, func(t *testing.T) {
			c, err := spool.LookupCipher(name)
			require.NoError(t, err)

			sc := newSpoolCache(writeSpoolFile(t, t.TempDir(), content, c), 128)
			defer sc.Release()

			const readers = 16
			results := make([][]byte, readers)
			errs := make([]error, readers)

			var wg sync.WaitGroup
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rc, err := sc.Open()
					if err != nil {
						errs[i] = err
						return
					}
					defer rc.Close()
					results[i], errs[i] = io.ReadAll(rc)
				}(i)
			}
			wg.Wait()

			for i := 0; i < readers; i++ {
				require.NoError(t, errs[i], "reader %d", i)
				assert.Equal(t, content, results[i], "reader %d", i)
			}
		})
	}
}

func TestSpoolCache_CopyAfterFileReleased(t *testing.T) {
	file := writeSpoolFile(t, t.TempDir(), []byte("spooled"), nil)
	sc := newSpoolCache(file, 4)

	// A second handle that has not seen the release yet, as when Copy races
	// with the last Release on another goroutine.
	stale := wrapSpoolFile(file, 4)

	require.NoError(t, sc.Release())
	assert.NoFileExists(t, file.path)

	_, err := stale.Copy()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	assert.Equal(t, int32(0), file.refs.Load())
}

func TestSpoolCache_ConcurrentCopyAndRelease(t *testing.T) {
	file := writeSpoolFile(t, t.TempDir(), []byte("spooled"), nil)
	sc := newSpoolCache(file, 4)

	const copiers = 8
	copies := make(chan Cache, copiers)
	var wg sync.WaitGroup
	for i := 0; i < copiers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cp, err := sc.Copy(); err == nil {
				copies <- cp
			}
		}()
	}
	require.NoError(t, sc.Release())
	wg.Wait()
	close(copies)

	for cp := range copies {
		var buf bytes.Buffer
		_, err := cp.WriteTo(&buf)
		require.NoError(t, err, "a successful copy keeps the file alive")
		assert.Equal(t, "spooled", buf.String())
		require.NoError(t, cp.Release())
	}
	assert.NoFileExists(t, file.path)
}
