package rand

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

const benchLength = 22

func TestNewID(t *testing.T) {
	seen := map[string]bool{}
	for range 1000 {
		id := NewID(benchLength)
		assert.Len(t, id, benchLength)
		assert.Regexp(t, `^[A-Za-z0-9]+$`, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Empty(t, NewID(0))
	assert.Len(t, NewID(3), 3)
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID(benchLength)
	}
}

// base64 of raw bytes, for comparison with the base62 mapping.
func BenchmarkBase64ID(b *testing.B) {
	buf := make([]byte, benchLength)
	for i := 0; i < b.N; i++ {
		source.fill(buf)
		_ = base64.RawURLEncoding.EncodeToString(buf)
	}
}

func TestInt64NAndFloat64(t *testing.T) {
	assert.Zero(t, Int64N(0))
	assert.Zero(t, Int64N(-5))
	for range 100 {
		n := Int64N(10)
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, int64(10))

		f := Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}
