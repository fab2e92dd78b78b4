// Package backtest scores strategy graphs by simulating them over OHLCV
// data. It is the only producer of metric vectors; the evolutionary core
// never recomputes or reinterprets them.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"strategos/internal/dataset"
	"strategos/internal/graph"
	"strategos/internal/model"
)

// ErrNoData means the evaluator was built without enough rows to produce a
// single return observation.
var ErrNoData = errors.New("not enough data rows")

// EvaluationError wraps a per-strategy backtest failure. It is recoverable:
// the caller drops the candidate and moves on.
type EvaluationError struct {
	StrategyID string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate strategy %s: %v", e.StrategyID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Config tunes the simulation.
type Config struct {
	// PeriodsPerYear annualizes sharpe and calmar; 252 for daily bars.
	PeriodsPerYear float64 `yaml:"periods_per_year"`
	// CostPerTurn is the fractional cost charged on each unit of position
	// change.
	CostPerTurn float64 `yaml:"cost_per_turn"`
	// StabilitySegments is how many equal slices the equity curve is split
	// into for the stability objective.
	StabilitySegments int `yaml:"stability_segments"`
}

func DefaultConfig() Config {
	return Config{PeriodsPerYear: 252, CostPerTurn: 0.0005, StabilitySegments: 4}
}

func (c Config) validate() error {
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods_per_year must be > 0, got %v", c.PeriodsPerYear)
	}
	if c.CostPerTurn < 0 {
		return fmt.Errorf("cost_per_turn must be >= 0, got %v", c.CostPerTurn)
	}
	if c.StabilitySegments < 1 {
		return fmt.Errorf("stability_segments must be >= 1, got %d", c.StabilitySegments)
	}
	return nil
}

// SimEvaluator compiles a strategy graph into a pipeline, runs it over a
// fixed dataset, and derives the objective vector from the resulting
// position series. Positions take effect on the bar after they are computed.
type SimEvaluator struct {
	cfg    Config
	data   *dataset.Dataset
	logger *slog.Logger
}

func NewSimEvaluator(cfg Config, data *dataset.Dataset, logger *slog.Logger) (*SimEvaluator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if data == nil || data.Rows() < 2 {
		return nil, ErrNoData
	}
	if !data.Has(dataset.FieldClose) {
		return nil, fmt.Errorf("dataset missing %s column", dataset.FieldClose)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SimEvaluator{cfg: cfg, data: data, logger: logger}, nil
}

// Evaluate scores one strategy. Structural and runtime failures come back as
// EvaluationError. A strategy that never takes a position scores zero on
// every objective rather than failing.
func (e *SimEvaluator) Evaluate(ctx context.Context, g model.StrategyGraph) (model.Metrics, error) {
	pipeline, err := graph.Compile(g)
	if err != nil {
		return model.Metrics{}, &EvaluationError{StrategyID: g.ID, Err: err}
	}
	out, err := pipeline.Run(ctx, e.data)
	if err != nil {
		return model.Metrics{}, &EvaluationError{StrategyID: g.ID, Err: err}
	}
	positions, err := out.Column(dataset.FieldPosition)
	if err != nil {
		return model.Metrics{}, &EvaluationError{StrategyID: g.ID, Err: err}
	}
	closes, err := out.Column(dataset.FieldClose)
	if err != nil {
		return model.Metrics{}, &EvaluationError{StrategyID: g.ID, Err: err}
	}

	if allZero(positions) {
		e.logger.Warn("strategy produced no signal", "strategy", g.ID)
		return model.Metrics{}, nil
	}

	returns := e.strategyReturns(positions, closes)
	return e.metrics(returns), nil
}

// strategyReturns applies the previous bar's position to the current bar's
// price change, minus turnover cost.
func (e *SimEvaluator) strategyReturns(positions, closes []float64) []float64 {
	returns := make([]float64, 0, len(closes)-1)
	for t := 1; t < len(closes); t++ {
		var priceChange float64
		if closes[t-1] != 0 {
			priceChange = closes[t]/closes[t-1] - 1
		}
		turnover := math.Abs(positions[t] - positions[t-1])
		returns = append(returns, positions[t-1]*priceChange-turnover*e.cfg.CostPerTurn)
	}
	return returns
}

func (e *SimEvaluator) metrics(returns []float64) model.Metrics {
	mean, std := meanStd(returns)

	equity := make([]float64, len(returns)+1)
	equity[0] = 1
	for i, r := range returns {
		equity[i+1] = equity[i] * (1 + r)
	}
	total := equity[len(equity)-1] - 1
	maxDD := maxDrawdown(equity)

	var sharpe float64
	if std > 0 {
		sharpe = mean / std * math.Sqrt(e.cfg.PeriodsPerYear)
	}

	years := float64(len(returns)) / e.cfg.PeriodsPerYear
	var annualized float64
	if years > 0 && equity[len(equity)-1] > 0 {
		annualized = math.Pow(equity[len(equity)-1], 1/years) - 1
	}
	var calmar float64
	if maxDD > 0 {
		calmar = annualized / maxDD
	}

	return model.Metrics{
		Sharpe:      sharpe,
		Calmar:      calmar,
		MaxDrawdown: maxDD,
		Return:      total,
		Stability:   e.stability(equity),
	}
}

// stability is the fraction of equal equity-curve segments that end above
// where they started. A strategy that makes all its money in one burst
// scores low even when its total return is high.
func (e *SimEvaluator) stability(equity []float64) float64 {
	segments := e.cfg.StabilitySegments
	if len(equity) < segments+1 {
		segments = len(equity) - 1
	}
	if segments < 1 {
		return 0
	}
	positive := 0
	step := (len(equity) - 1) / segments
	for s := 0; s < segments; s++ {
		start := s * step
		end := start + step
		if s == segments-1 {
			end = len(equity) - 1
		}
		if equity[end] > equity[start] {
			positive++
		}
	}
	return float64(positive) / float64(segments)
}

func maxDrawdown(equity []float64) float64 {
	peak := equity[0]
	var worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := 1 - v/peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
