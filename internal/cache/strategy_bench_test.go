//go:build benchmark

package cache

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/objectfs/streamcache/internal/spool"
)

func benchStrategy(b *testing.B, threshold int64, cipher string) *Strategy {
	b.Helper()
	cfg := DefaultConfig()
	cfg.SpoolDirectory = filepath.Join(b.TempDir(), "spool")
	cfg.SpoolThreshold = threshold
	cfg.SpoolCipher = cipher

	s := NewStrategy(cfg)
	if err := s.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func benchmarkCache(b *testing.B, s *Strategy, size int) {
	payload := make([]byte, size)
	rand.Read(payload)

	b.SetBytes(int64(size))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		c, err := s.Cache(context.Background(), bytes.NewReader(payload))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := c.WriteTo(io.Discard); err != nil {
			b.Fatal(err)
		}
		_ = c.Release()
	}
}

// BenchmarkCacheMemory benchmarks bodies that stay below the threshold
func BenchmarkCacheMemory(b *testing.B) {
	for _, size := range []int{1 << 10, 64 << 10} {
		b.Run(sizeName(size), func(b *testing.B) {
			benchmarkCache(b, benchStrategy(b, SpoolDisabled, ""), size)
		})
	}
}

// BenchmarkCacheSpool benchmarks bodies written to spool files
func BenchmarkCacheSpool(b *testing.B) {
	for _, size := range []int{256 << 10, 4 << 20} {
		b.Run(sizeName(size), func(b *testing.B) {
			benchmarkCache(b, benchStrategy(b, DefaultSpoolThreshold, ""), size)
		})
	}
}

// BenchmarkCacheSpoolEncrypted benchmarks each supported spool cipher
func BenchmarkCacheSpoolEncrypted(b *testing.B) {
	for _, name := range spool.CipherNames() {
		b.Run(name, func(b *testing.B) {
			benchmarkCache(b, benchStrategy(b, DefaultSpoolThreshold, name), 1<<20)
		})
	}
}

func sizeName(size int) string {
	if size >= 1<<20 {
		return strconv.Itoa(size>>20) + "MB"
	}
	return strconv.Itoa(size>>10) + "KB"
}
