package evo

import (
	"fmt"
	"math"
	"sort"

	"strategos/internal/model"
)

// FeatureSet is the structural fingerprint of a strategy: its factor types,
// categories, and coarse parameter buckets. Two strategies with identical
// fingerprints are structurally equivalent for diversity purposes even when
// their ids differ.
type FeatureSet map[string]struct{}

// Fingerprint extracts the feature set of a strategy graph. Parameters are
// bucketed so near-identical tunings count as the same feature.
func Fingerprint(g model.StrategyGraph) FeatureSet {
	fs := FeatureSet{}
	for _, f := range g.Factors {
		fs["type:"+f.Type] = struct{}{}
		fs["cat:"+string(f.Category)] = struct{}{}
		names := make([]string, 0, len(f.Parameters))
		for name := range f.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fs[fmt.Sprintf("param:%s.%s=%d", f.Type, name, paramBucket(f.Parameters[name]))] = struct{}{}
		}
	}
	return fs
}

// paramBucket maps a parameter value to a coarse log-scale bucket, so that
// window 20 and window 21 collide while 20 and 200 do not.
func paramBucket(value float64) int {
	abs := math.Abs(value)
	if abs < 1e-9 {
		return 0
	}
	bucket := int(math.Floor(math.Log2(abs)*2)) + 1
	if value < 0 {
		return -bucket
	}
	return bucket
}

// JaccardDistance is 1 - |A∩B| / |A∪B|. Two empty sets are identical by
// convention, distance 0.
func JaccardDistance(a, b FeatureSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for feature := range a {
		if _, ok := b[feature]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return 1 - float64(intersection)/float64(union)
}

// PopulationDiversity is the mean pairwise Jaccard distance across all
// members. Populations smaller than two score 0 rather than erroring.
func PopulationDiversity(members []model.StrategyGraph) float64 {
	n := len(members)
	if n < 2 {
		return 0
	}
	fingerprints := make([]FeatureSet, n)
	for i, g := range members {
		fingerprints[i] = Fingerprint(g)
	}
	var total float64
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			total += JaccardDistance(fingerprints[i], fingerprints[j])
			pairs++
		}
	}
	return total / float64(pairs)
}

// Novelty is the mean Jaccard distance from the candidate to its k nearest
// neighbors in the population. With fewer than k neighbors every member
// counts. A lone candidate scores 1: maximally novel by default. When the
// candidate itself appears in the population it is excluded once by id;
// duplicate or unset ids never disqualify true neighbors.
func Novelty(candidate model.StrategyGraph, population []model.StrategyGraph, k int) float64 {
	if len(population) == 0 {
		return 1
	}
	if k < 1 {
		k = 1
	}
	fp := Fingerprint(candidate)
	distances := make([]float64, 0, len(population))
	self := false
	for _, member := range population {
		if !self && candidate.ID != "" && member.ID == candidate.ID {
			self = true
			continue
		}
		distances = append(distances, JaccardDistance(fp, Fingerprint(member)))
	}
	if len(distances) == 0 {
		return 1
	}
	sort.Float64s(distances)
	if k > len(distances) {
		k = len(distances)
	}
	var total float64
	for _, d := range distances[:k] {
		total += d
	}
	return total / float64(k)
}

// CollapseTracker detects diversity collapse: population diversity staying
// below a floor for a run of consecutive generations.
type CollapseTracker struct {
	floor  float64
	window int
	below  int
}

// NewCollapseTracker builds a tracker. A non-positive window disables
// detection.
func NewCollapseTracker(floor float64, window int) *CollapseTracker {
	return &CollapseTracker{floor: floor, window: window}
}

// Observe records one generation's diversity score and reports whether the
// population is considered collapsed as of this observation.
func (t *CollapseTracker) Observe(diversity float64) bool {
	if t.window <= 0 {
		return false
	}
	if diversity < t.floor {
		t.below++
	} else {
		t.below = 0
	}
	return t.below >= t.window
}
