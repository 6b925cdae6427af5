package cli

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/pkg/errors"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestCacheCommand(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	large := filepath.Join(dir, "large.txt")
	largeContent := strings.Repeat("0123456789", 10)
	require.NoError(t, os.WriteFile(small, []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(large, []byte(largeContent), 0o600))

	spoolDir := filepath.Join(dir, "spool")
	outDir := filepath.Join(dir, "out")

	out, err := runCLI(t, "piped input",
		"cache", small, large, "-",
		"--spool-threshold", "32",
		"--buffer-size", "8",
		"--cipher", "AES/CTR",
		"--spool-dir", spoolDir,
		"--stats",
		"-o", outDir)
	require.NoError(t, err, out)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, small+"\tmemory\t5 B\tsha256:"+sha("hello")+"\t"+filepath.Join(outDir, "0-small.txt"), lines[0])
	assert.Contains(t, lines[1], "\tspool\t100 B\tsha256:"+sha(largeContent))
	assert.Contains(t, lines[2], "-\tmemory\t11 B\tsha256:"+sha("piped input"))
	assert.Contains(t, lines[3], "memoryCounter=2")
	assert.Contains(t, lines[3], "spoolCounter=1")

	data, err := os.ReadFile(filepath.Join(outDir, "1-large.txt"))
	require.NoError(t, err)
	assert.Equal(t, largeContent, string(data))
	data, err = os.ReadFile(filepath.Join(outDir, "2-stdin"))
	require.NoError(t, err)
	assert.Equal(t, "piped input", string(data))

	assert.NoDirExists(t, spoolDir, "spool directory is removed on exit")
}

func TestCacheCommand_Disabled(t *testing.T) {
	t.Setenv("STREAMCACHE_ENABLED", "false")

	out, err := runCLI(t, "once", "cache", "-")
	require.NoError(t, err, out)
	assert.Equal(t, "-\tuncached\t4 B\tsha256:"+sha("once")+"\n", out)
}

func TestCacheCommand_Errors(t *testing.T) {
	_, err := runCLI(t, "", "cache")
	assert.Error(t, err, "at least one input is required")

	_, err = runCLI(t, "", "cache", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCE_OPEN")

	_, err = runCLI(t, "", "cache", "-", "--cipher", "ROT13")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CIPHER")

	_, err = runCLI(t, "", "--log-level", "SHOUT", "cache", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_level")
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("STREAMCACHE_SPOOL_THRESHOLD", "1MB")

	out, err := runCLI(t, "", "config", "--metrics-addr", "127.0.0.1:9999")
	require.NoError(t, err)
	assert.Contains(t, out, "stream_caching:")
	assert.Contains(t, out, "spool_threshold: 1MB")
	assert.Contains(t, out, "address: 127.0.0.1:9999")

	file := filepath.Join(t.TempDir(), "streamcache.yaml")
	out, err = runCLI(t, "", "config", "-o", file)
	require.NoError(t, err)
	assert.Contains(t, out, file)
	assert.FileExists(t, file)

	out, err = runCLI(t, "", "--config", file, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "spool_threshold: 1MB")
}

func TestOutputPath(t *testing.T) {
	assert.Empty(t, outputPath("", 0, "x"))
	assert.Equal(t, filepath.Join("out", "3-stdin"), outputPath("out", 3, "-"))
	assert.Equal(t, filepath.Join("out", "1-key.bin"), outputPath("out", 1, "s3://bucket/dir/key.bin"))
}

func TestReportError(t *testing.T) {
	invalidCipher := errors.NewError(errors.ErrCodeInvalidCipher, "unknown spool cipher ROT13").
		WithComponent("spool")
	plain := stderrors.New("accepts at least 1 arg(s)")

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		reportError(&buf, invalidCipher, "text")
		assert.Contains(t, buf.String(), "Error: [spool] INVALID_CIPHER: unknown spool cipher ROT13\n")
		assert.Contains(t, buf.String(), "Hint: "+invalidCipher.GetRecommendation())

		buf.Reset()
		reportError(&buf, plain, "text")
		assert.Equal(t, "Error: accepts at least 1 arg(s)\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		reportError(&buf, fmt.Errorf("cache failed: %w", invalidCipher), "json")

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "INVALID_CIPHER", decoded["code"])
		assert.Equal(t, "spool", decoded["component"])

		buf.Reset()
		reportError(&buf, plain, "json")
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "accepts at least 1 arg(s)", decoded["message"])
	})
}

func TestErrorFormatFlag(t *testing.T) {
	opts := &options{}
	cmd := newRootCmd(opts)
	cmd.SetArgs([]string{"--error-format", "json", "cache"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	require.Error(t, cmd.Execute())
	assert.Equal(t, "json", opts.errorFormat)
}
