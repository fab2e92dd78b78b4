package evo

import (
	"math"
	"testing"

	"strategos/internal/model"
)

func metricsWithSharpe(sharpe float64) model.Metrics {
	return model.Metrics{Sharpe: sharpe, Calmar: 1, MaxDrawdown: 0.2, Return: 0.1, Stability: 0.5}
}

func TestDominatesRequiresStrictImprovement(t *testing.T) {
	a := metricsWithSharpe(1.0)
	b := metricsWithSharpe(1.0)

	if Dominates(a, b) || Dominates(b, a) {
		t.Fatal("identical vectors must not dominate each other")
	}
}

func TestDominatesIsAntisymmetric(t *testing.T) {
	a := metricsWithSharpe(2.0)
	b := metricsWithSharpe(1.0)

	if !Dominates(a, b) {
		t.Fatal("expected a to dominate b")
	}
	if Dominates(b, a) {
		t.Fatal("dominance must be antisymmetric")
	}
}

func TestDominatesHonorsMinimizeDirection(t *testing.T) {
	// Same everywhere except drawdown, where smaller is better.
	a := model.Metrics{Sharpe: 1, Calmar: 1, MaxDrawdown: 0.1, Return: 0.1, Stability: 0.5}
	b := model.Metrics{Sharpe: 1, Calmar: 1, MaxDrawdown: 0.3, Return: 0.1, Stability: 0.5}

	if !Dominates(a, b) {
		t.Fatal("lower drawdown should dominate")
	}
	if Dominates(b, a) {
		t.Fatal("higher drawdown must not dominate")
	}
}

func TestNonDominatedSortLayersFronts(t *testing.T) {
	candidates := []Candidate{
		{Strategy: model.StrategyGraph{ID: "worst"}, Metrics: metricsWithSharpe(0.1)},
		{Strategy: model.StrategyGraph{ID: "best"}, Metrics: metricsWithSharpe(3)},
		{Strategy: model.StrategyGraph{ID: "mid"}, Metrics: metricsWithSharpe(1)},
	}

	fronts := NonDominatedSort(candidates)
	if len(fronts) != 3 {
		t.Fatalf("expected 3 fronts, got %d", len(fronts))
	}
	if candidates[fronts[0][0]].Strategy.ID != "best" {
		t.Fatalf("wrong first front: %v", fronts[0])
	}
}

func TestRankIsIdempotent(t *testing.T) {
	candidates := []Candidate{
		{Strategy: model.StrategyGraph{ID: "a"}, Metrics: model.Metrics{Sharpe: 2, MaxDrawdown: 0.3}},
		{Strategy: model.StrategyGraph{ID: "b"}, Metrics: model.Metrics{Sharpe: 1, MaxDrawdown: 0.1}},
		{Strategy: model.StrategyGraph{ID: "c"}, Metrics: model.Metrics{Sharpe: 0.5, MaxDrawdown: 0.5}},
	}

	first := Rank(candidates)
	firstRanks := make([]int, len(candidates))
	for i, c := range candidates {
		firstRanks[i] = c.Rank
	}

	second := Rank(candidates)
	for i, c := range candidates {
		if c.Rank != firstRanks[i] {
			t.Fatalf("re-ranking changed rank of %s: %d -> %d", c.Strategy.ID, firstRanks[i], c.Rank)
		}
	}
	if len(first) != len(second) {
		t.Fatalf("re-ranking changed front: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("re-ranking changed front: %v vs %v", first, second)
		}
	}
}

func TestRankSingleCandidate(t *testing.T) {
	candidates := []Candidate{
		{Strategy: model.StrategyGraph{ID: "only"}, Metrics: metricsWithSharpe(1)},
	}

	front := Rank(candidates)
	if len(front) != 1 || front[0] != "only" {
		t.Fatalf("unexpected front: %v", front)
	}
	if candidates[0].Rank != 1 {
		t.Fatalf("expected rank 1, got %d", candidates[0].Rank)
	}
	if !math.IsInf(candidates[0].Crowding, 1) {
		t.Fatalf("expected infinite crowding, got %v", candidates[0].Crowding)
	}
}

func TestCrowdingDistanceBoundariesInfinite(t *testing.T) {
	front := []Candidate{
		{Metrics: metricsWithSharpe(1)},
		{Metrics: metricsWithSharpe(2)},
		{Metrics: metricsWithSharpe(3)},
		{Metrics: metricsWithSharpe(4)},
	}

	distance := CrowdingDistance(front)
	if !math.IsInf(distance[0], 1) || !math.IsInf(distance[3], 1) {
		t.Fatalf("boundary members must be infinite: %v", distance)
	}
	if math.IsInf(distance[1], 1) || math.IsInf(distance[2], 1) {
		t.Fatalf("interior members must be finite: %v", distance)
	}
	if distance[1] <= 0 || distance[2] <= 0 {
		t.Fatalf("interior distances must be positive: %v", distance)
	}
}

func TestBetterPrefersRankThenCrowding(t *testing.T) {
	a := Candidate{Strategy: model.StrategyGraph{ID: "a"}, Rank: 1, Crowding: 0.1}
	b := Candidate{Strategy: model.StrategyGraph{ID: "b"}, Rank: 2, Crowding: math.Inf(1)}
	if !Better(a, b) {
		t.Fatal("lower rank must win regardless of crowding")
	}

	c := Candidate{Strategy: model.StrategyGraph{ID: "c"}, Rank: 1, Crowding: 0.9}
	if !Better(c, a) {
		t.Fatal("within a rank, larger crowding must win")
	}
}
