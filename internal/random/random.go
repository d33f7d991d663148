// Package random provides the single seedable randomness source shared by the
// coordinator and the synthetic generator.
package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is a goroutine-safe math/rand/v2 source.
type Source struct {
	mu  sync.Mutex
	pcg *rand.PCG
}

// New seeds a Source. Seed 0 picks a time-based seed.
func New(seed uint64) *Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Source{pcg: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Uint64 implements rand.Source.
func (s *Source) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcg.Uint64()
}

// Rand wraps the source for callers that need IntN and friends.
func (s *Source) Rand() *rand.Rand {
	return rand.New(s)
}
