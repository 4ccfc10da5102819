package random

import (
	"math/rand"

	"github.com/pkg/errors"
)

// New creates a new deterministic random source. Seeding with the same value
// reproduces the same draw sequence, so every piece of randomness in a
// simulation (election timeout jitter, probabilistic message drops) must go
// through a single source owned by the cluster.
func New(seed int64) *Source {
	return &Source{
		rnd: rand.New(rand.NewSource(seed)),
	}
}

// Source produces deterministic pseudo-random values from a seed.
type Source struct {
	rnd *rand.Rand
}

// IntN returns a value in [0, bound).
func (s *Source) IntN(bound int) (int, error) {
	if bound <= 0 {
		return 0, errors.Errorf("invalid bound %d", bound)
	}
	return s.rnd.Intn(bound), nil
}

// Float64 returns a value in [0.0, 1.0).
func (s *Source) Float64() float64 {
	return s.rnd.Float64()
}

// Chance draws a boolean which is true with probability p.
func (s *Source) Chance(p float64) bool {
	return s.rnd.Float64() < p
}

// Jitter returns a value in [lo, hi], both inclusive. When lo equals hi the
// value is returned without consuming a draw, so fixed timeouts don't shift
// the sequence.
func (s *Source) Jitter(lo, hi int) (int, error) {
	if lo > hi {
		return 0, errors.Errorf("invalid bound: lo %d > hi %d", lo, hi)
	}
	if lo == hi {
		return lo, nil
	}
	return lo + s.rnd.Intn(hi-lo+1), nil
}
