// Package payload generates the random keys and values fed to a backend.
package payload

import (
	"math/rand/v2"

	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// Generator produces fixed-length random byte sequences. The source is a
// PCG generator, so output is fast but not suitable for anything secret.
// A Generator is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator seeded from the runtime's entropy.
func NewGenerator() *Generator {
	return NewSeededGenerator(rand.Uint64(), rand.Uint64())
}

// NewSeededGenerator creates a generator whose output is fully determined
// by the two seed words.
func NewSeededGenerator(seed1, seed2 uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Generate returns exactly length random bytes.
func (g *Generator) Generate(length int) ([]byte, error) {
	if length < 0 {
		return nil, kerrors.NewValidationError(kerrors.CodeInvalidLength, "payload length must be non-negative").
			WithDetails(map[string]interface{}{"length": length})
	}

	buf := make([]byte, length)
	g.fill(buf)
	return buf, nil
}

// fill writes random bytes into buf eight at a time.
func (g *Generator) fill(buf []byte) {
	i := 0
	for ; i+8 <= len(buf); i += 8 {
		v := g.rng.Uint64()
		buf[i] = byte(v)
		buf[i+1] = byte(v >> 8)
		buf[i+2] = byte(v >> 16)
		buf[i+3] = byte(v >> 24)
		buf[i+4] = byte(v >> 32)
		buf[i+5] = byte(v >> 40)
		buf[i+6] = byte(v >> 48)
		buf[i+7] = byte(v >> 56)
	}
	if i < len(buf) {
		v := g.rng.Uint64()
		for ; i < len(buf); i++ {
			buf[i] = byte(v)
			v >>= 8
		}
	}
}

// Intn returns a uniform int in [0, n). It panics if n <= 0.
func (g *Generator) Intn(n int) int {
	return g.rng.IntN(n)
}
