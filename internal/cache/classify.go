package cache

import "io"

// Repeatable is implemented by bodies that can already be read more than once.
// Returning true exempts the body from caching.
type Repeatable interface {
	Repeatable() bool
}

// Classifier reports whether body must be cached before it can be re-read.
type Classifier func(body any) bool

// NeedsCaching is the default Classifier. Only readers are cached; nil, byte
// slices, strings, primitives, existing caches and Repeatable bodies are left
// as they are.
func NeedsCaching(body any) bool {
	switch b := body.(type) {
	case nil, Cache, []byte, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64, complex64, complex128:
		return false
	case Repeatable:
		if b.Repeatable() {
			return false
		}
	}
	_, ok := body.(io.Reader)
	return ok
}
