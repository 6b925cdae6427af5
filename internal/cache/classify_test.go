package cache

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type repeatableReader struct {
	*strings.Reader
	repeatable bool
}

func (r repeatableReader) Repeatable() bool { return r.repeatable }

func TestNeedsCaching(t *testing.T) {
	tests := []struct {
		name string
		body any
		want bool
	}{
		{"nil", nil, false},
		{"bytes", []byte("x"), false},
		{"string", "x", false},
		{"int", 42, false},
		{"float", 1.5, false},
		{"bool", true, false},
		{"existing cache", NewMemoryCache([]byte("x"), 1), false},
		{"struct", struct{ A int }{1}, false},
		{"reader", strings.NewReader("x"), true},
		{"buffer", bytes.NewBufferString("x"), true},
		{"repeatable reader", repeatableReader{strings.NewReader("x"), true}, false},
		{"non-repeatable reader", repeatableReader{strings.NewReader("x"), false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsCaching(tt.body))
		})
	}
}
