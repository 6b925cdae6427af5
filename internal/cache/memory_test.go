package cache

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/pkg/errors"
)

// drain reads every chunk from c until io.EOF.
func drain(t *testing.T, c Cache) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := c.ReadChunk()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunk...)
	}
}

func TestMemoryCache_ReadChunk(t *testing.T) {
	c := NewMemoryCache([]byte("hello world"), 4)

	var chunks []string
	for {
		chunk, err := c.ReadChunk()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, string(chunk))
	}
	assert.Equal(t, []string{"hell", "o wo", "rld"}, chunks)

	_, err := c.ReadChunk()
	assert.Equal(t, io.EOF, err)
}

func TestMemoryCache_ResetRereads(t *testing.T) {
	c := NewMemoryCache([]byte("hello"), 2)

	assert.Equal(t, []byte("hello"), drain(t, c))
	require.NoError(t, c.Reset())
	require.NoError(t, c.Reset())
	assert.Equal(t, []byte("hello"), drain(t, c))
}

func TestMemoryCache_Empty(t *testing.T) {
	c := NewMemoryCache(nil, 4)

	_, err := c.ReadChunk()
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, c.Length())
	assert.True(t, c.InMemory())
}

func TestMemoryCache_OpenAndWriteTo(t *testing.T) {
	c := NewMemoryCache([]byte("payload"), 3)

	// A partially consumed cursor does not affect independent sessions.
	_, err := c.ReadChunk()
	require.NoError(t, err)

	rc, err := c.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "payload", buf.String())

	chunk, err := c.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, "loa", string(chunk))
}

func TestMemoryCache_CopyOutlivesRelease(t *testing.T) {
	c := NewMemoryCache([]byte("shared"), 4)

	cp, err := c.Copy()
	require.NoError(t, err)
	require.NoError(t, c.Release())

	var buf bytes.Buffer
	_, err = cp.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "shared", buf.String())
	require.NoError(t, cp.Release())
}

func TestMemoryCache_UseAfterRelease(t *testing.T) {
	c := NewMemoryCache([]byte("gone"), 4)
	require.NoError(t, c.Release())
	require.NoError(t, c.Release(), "release is idempotent")

	_, err := c.ReadChunk()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	assert.True(t, errors.HasCode(c.Reset(), errors.ErrCodeUseAfterRelease))
	_, err = c.Open()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	_, err = c.WriteTo(io.Discard)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
	_, err = c.Copy()
	assert.True(t, errors.HasCode(err, errors.ErrCodeUseAfterRelease))
}
