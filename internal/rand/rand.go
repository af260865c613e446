// Package rand produces the random tokens the fake server uses for database
// ids. They only need to be distinct, not unpredictable.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	uint64Size = 8
	// alphabet of base62 tokens
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var source = newSource()

func newSource() *lockedSource {
	var seed [uint64Size * 2]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("rand: reading seed: " + err.Error())
	}
	return &lockedSource{
		//nolint:gosec // ids, not secrets
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:uint64Size]),
			binary.LittleEndian.Uint64(seed[uint64Size:]),
		)),
	}
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// fill writes len(buf) random bytes into buf.
func (s *lockedSource) fill(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var word [uint64Size]byte
	for len(buf) > 0 {
		binary.LittleEndian.PutUint64(word[:], s.rng.Uint64())
		buf = buf[copy(buf, word[:]):]
	}
}

// NewID returns a base62 token of the given length. The modulo mapping is
// slightly biased.
func NewID(length int) string {
	buf := make([]byte, length)
	source.fill(buf)
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

// Int64N returns a value in [0, n). It returns 0 when n is not positive.
func Int64N(n int64) int64 {
	if n <= 0 {
		return 0
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.rng.Int64N(n)
}

// Float64 returns a value in [0.0, 1.0).
func Float64() float64 {
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.rng.Float64()
}

// Read fills buf with random bytes.
func Read(buf []byte) {
	source.fill(buf)
}
