package evo

import (
	"fmt"
	"math/rand"
)

// SelectorState is the per-generation signal the tier selector adapts to.
type SelectorState struct {
	Diversity        float64
	SinceImprovement int
}

// TierSelector chooses which mutation tier to attempt. The base weights lean
// on cheap Tier-1 moves; low diversity shifts weight toward structural
// change and stagnation escalates toward logic rewrites. Selection is a pure
// function of the state and the random stream, so a fixed seed replays the
// same tier sequence.
type TierSelector struct {
	base             [3]float64
	diversityFloor   float64
	stagnationWindow int
}

// NewTierSelector builds a selector. All weights must be non-negative with a
// positive sum.
func NewTierSelector(weights [3]float64, diversityFloor float64, stagnationWindow int) (*TierSelector, error) {
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("tier weight must be >= 0, got %v", w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("tier weights must sum to > 0")
	}
	if diversityFloor < 0 || diversityFloor > 1 {
		return nil, fmt.Errorf("diversity floor must be in [0, 1], got %v", diversityFloor)
	}
	return &TierSelector{
		base:             weights,
		diversityFloor:   diversityFloor,
		stagnationWindow: stagnationWindow,
	}, nil
}

// DefaultTierSelector favors Tier-1 three to one over structural change and
// keeps logic rewrites rare until the run stalls.
func DefaultTierSelector() *TierSelector {
	s, err := NewTierSelector([3]float64{6, 2, 1}, 0.15, 5)
	if err != nil {
		panic(err)
	}
	return s
}

// Weights returns the adapted weight vector for the given state.
func (s *TierSelector) Weights(state SelectorState) [3]float64 {
	w := s.base
	if state.Diversity < s.diversityFloor {
		// Converged populations need structural novelty, not retuning.
		w[1] *= 3
		w[2] *= 2
	}
	if s.stagnationWindow > 0 && state.SinceImprovement >= s.stagnationWindow {
		w[2] *= 3
		w[1] *= 2
	}
	return w
}

// Select draws a tier (1, 2, or 3) under the adapted weights.
func (s *TierSelector) Select(rng *rand.Rand, state SelectorState) int {
	w := s.Weights(state)
	total := w[0] + w[1] + w[2]
	draw := rng.Float64() * total
	switch {
	case draw < w[0]:
		return 1
	case draw < w[0]+w[1]:
		return 2
	default:
		return 3
	}
}
