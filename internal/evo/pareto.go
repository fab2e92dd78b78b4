package evo

import (
	"math"
	"sort"

	"strategos/internal/model"
)

// Candidate pairs a strategy with its evaluated metrics and ranking state.
// Rank and Crowding are filled in by Rank; they are zero before ranking.
type Candidate struct {
	Strategy model.StrategyGraph
	Metrics  model.Metrics
	// Rank is the 1-based Pareto front index; 1 is non-dominated.
	Rank int
	// Crowding is the crowding distance within the candidate's front.
	// Boundary members get +Inf so extremes always survive truncation.
	Crowding float64
}

// Dominates reports whether a dominates b: a is at least as good on every
// objective and strictly better on at least one, honoring each objective's
// direction. The relation is irreflexive and antisymmetric.
func Dominates(a, b model.Metrics) bool {
	strictlyBetter := false
	for _, obj := range model.Objectives() {
		av, bv := obj.Value(a), obj.Value(b)
		if obj.Direction == model.Minimize {
			av, bv = -av, -bv
		}
		if av < bv {
			return false
		}
		if av > bv {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// NonDominatedSort partitions candidates into Pareto fronts using the fast
// non-dominated sort. Front 0 contains the non-dominated candidates; each
// subsequent front is non-dominated once earlier fronts are removed. Input
// order within a front is preserved, so sorting is stable and idempotent.
func NonDominatedSort(candidates []Candidate) [][]int {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	dominates := make([][]int, n)
	dominatedBy := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if Dominates(candidates[i].Metrics, candidates[j].Metrics) {
				dominates[i] = append(dominates[i], j)
				dominatedBy[j]++
			}
		}
	}

	var fronts [][]int
	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		fronts = append(fronts, current)
		var next []int
		for _, i := range current {
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		current = next
	}
	return fronts
}

// CrowdingDistance computes the crowding distance for one front, indexed the
// same as the input slice. Boundary members on any objective get +Inf. A
// front of one or two members is all boundary.
func CrowdingDistance(front []Candidate) []float64 {
	n := len(front)
	distance := make([]float64, n)
	if n == 0 {
		return distance
	}
	if n <= 2 {
		for i := range distance {
			distance[i] = math.Inf(1)
		}
		return distance
	}

	order := make([]int, n)
	for _, obj := range model.Objectives() {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return obj.Value(front[order[a]].Metrics) < obj.Value(front[order[b]].Metrics)
		})

		lo := obj.Value(front[order[0]].Metrics)
		hi := obj.Value(front[order[n-1]].Metrics)
		distance[order[0]] = math.Inf(1)
		distance[order[n-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for k := 1; k < n-1; k++ {
			prev := obj.Value(front[order[k-1]].Metrics)
			next := obj.Value(front[order[k+1]].Metrics)
			distance[order[k]] += (next - prev) / (hi - lo)
		}
	}
	return distance
}

// Rank fills in Rank and Crowding for every candidate and returns the ids of
// the first Pareto front. A single candidate is rank 1 with infinite
// crowding. Ranking an already-ranked slice produces identical results.
func Rank(candidates []Candidate) []string {
	fronts := NonDominatedSort(candidates)
	var frontIDs []string
	for rank, front := range fronts {
		members := make([]Candidate, len(front))
		for k, i := range front {
			members[k] = candidates[i]
		}
		distance := CrowdingDistance(members)
		for k, i := range front {
			candidates[i].Rank = rank + 1
			candidates[i].Crowding = distance[k]
			if rank == 0 {
				frontIDs = append(frontIDs, candidates[i].Strategy.ID)
			}
		}
	}
	sort.Strings(frontIDs)
	return frontIDs
}

// Better is the NSGA-II preference order: lower rank wins; within a rank the
// larger crowding distance wins; exact ties break by strategy id so ordering
// stays deterministic.
func Better(a, b Candidate) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	if a.Crowding != b.Crowding {
		return a.Crowding > b.Crowding
	}
	return a.Strategy.ID < b.Strategy.ID
}

// SortByPreference orders candidates best first under Better.
func SortByPreference(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return Better(candidates[i], candidates[j])
	})
}
