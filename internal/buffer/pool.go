package buffer

import (
	"sort"
	"sync"
)

// BytePool provides object pooling for read chunks to reduce GC pressure
// when many bodies are cached concurrently.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int
}

// defaultSizes are the bucket sizes used when NewBytePool is called without sizes.
var defaultSizes = []int{
	1024,    // 1KB
	4096,    // 4KB
	8192,    // 8KB
	16384,   // 16KB
	32768,   // 32KB
	65536,   // 64KB
	131072,  // 128KB
	262144,  // 256KB
	1048576, // 1MB
}

// NewBytePool creates a new byte pool. With no sizes the default buckets are used.
func NewBytePool(sizes ...int) *BytePool {
	if len(sizes) == 0 {
		sizes = defaultSizes
	}
	sorted := make([]int, 0, len(sizes))
	for _, size := range sizes {
		if size > 0 {
			sorted = append(sorted, size)
		}
	}
	sort.Ints(sorted)

	pools := make(map[int]*sync.Pool, len(sorted))
	for _, size := range sorted {
		size := size
		pools[size] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}

	return &BytePool{
		pools: pools,
		sizes: sorted,
	}
}

// Get retrieves a byte slice of exactly size bytes.
func (p *BytePool) Get(size int) []byte {
	for _, bucketSize := range p.sizes {
		if bucketSize >= size {
			buf := p.pools[bucketSize].Get().(*[]byte)
			return (*buf)[:size]
		}
	}

	// Larger than every bucket: let the GC handle it
	return make([]byte, size)
}

// Put returns a byte slice to the pool for reuse. Slices whose capacity does not
// match a bucket are dropped.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	pool, exists := p.pools[cap(buf)]
	if !exists {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	pool.Put(&buf)
}
