package evo

import (
	"fmt"
	"log/slog"

	"strategos/internal/graph"
	"strategos/internal/model"
)

// Probation modes govern how a stale champion defends its seat.
const (
	// ProbationRelaxed drops the replacement margin for a stale champion:
	// any candidate with a strictly better score takes over.
	ProbationRelaxed = "relaxed"
	// ProbationStrict keeps the full margin even when stale.
	ProbationStrict = "strict"
)

// ChampionConfig tunes the anti-churn rules.
type ChampionConfig struct {
	// AbsoluteFloor is the minimum score to establish a first champion.
	AbsoluteFloor float64 `yaml:"absolute_floor"`
	// RelativeMargin: a challenger wins when it beats the incumbent by this
	// fraction of the incumbent's score.
	RelativeMargin float64 `yaml:"relative_margin"`
	// AbsoluteMargin: a challenger also wins when it beats the incumbent by
	// this flat amount, which keeps near-zero incumbents replaceable.
	AbsoluteMargin float64 `yaml:"absolute_margin"`
	// StalenessWindow is the number of generations without a champion update
	// before the incumbent is marked stale. Zero disables staleness.
	StalenessWindow int `yaml:"staleness_window"`
	// ProbationMode is ProbationRelaxed or ProbationStrict.
	ProbationMode string `yaml:"probation_mode"`
}

// DefaultChampionConfig is tuned so that noise-level improvements never
// rotate the champion.
func DefaultChampionConfig() ChampionConfig {
	return ChampionConfig{
		AbsoluteFloor:   0.1,
		RelativeMargin:  0.05,
		AbsoluteMargin:  0.05,
		StalenessWindow: 10,
		ProbationMode:   ProbationRelaxed,
	}
}

// Validate rejects contradictory settings at startup.
func (c ChampionConfig) Validate() error {
	if c.RelativeMargin < 0 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("relative_margin must be >= 0, got %v", c.RelativeMargin)}
	}
	if c.AbsoluteMargin < 0 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("absolute_margin must be >= 0, got %v", c.AbsoluteMargin)}
	}
	if c.RelativeMargin == 0 && c.AbsoluteMargin == 0 {
		return &ConfigurationConflictError{Detail: "relative_margin and absolute_margin are both zero: every micro-improvement would churn the champion"}
	}
	if c.StalenessWindow < 0 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("staleness_window must be >= 0, got %d", c.StalenessWindow)}
	}
	switch c.ProbationMode {
	case ProbationRelaxed, ProbationStrict:
	default:
		return &ConfigurationConflictError{Detail: fmt.Sprintf("probation_mode must be %q or %q, got %q", ProbationRelaxed, ProbationStrict, c.ProbationMode)}
	}
	return nil
}

// ChampionTracker holds the reigning strategy and applies the hybrid
// replacement rule: a challenger must clear the relative margin or the
// absolute margin, whichever is easier. The champion is replaced whole and
// every decision is logged.
type ChampionTracker struct {
	cfg     ChampionConfig
	logger  *slog.Logger
	current *model.Champion
}

func NewChampionTracker(cfg ChampionConfig, logger *slog.Logger) (*ChampionTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChampionTracker{cfg: cfg, logger: logger}, nil
}

// Current returns the reigning champion, or nil before one is established.
// The returned value is a copy.
func (t *ChampionTracker) Current() *model.Champion {
	if t.current == nil {
		return nil
	}
	out := *t.current
	out.Strategy = graph.Clone(t.current.Strategy)
	return &out
}

// Restore reinstates a champion from a checkpoint.
func (t *ChampionTracker) Restore(ch *model.Champion) {
	if ch == nil {
		t.current = nil
		return
	}
	restored := *ch
	restored.Strategy = graph.Clone(ch.Strategy)
	t.current = &restored
}

// score is the scalar the champion seat is contested on. The full objective
// vector drives selection; the champion seat tracks risk-adjusted return.
func score(m model.Metrics) float64 { return m.Sharpe }

// Observe advances the staleness clock for one completed generation and
// reports whether the incumbent just went stale.
func (t *ChampionTracker) Observe(generation int) bool {
	if t.current == nil || t.current.Stale || t.cfg.StalenessWindow <= 0 {
		return false
	}
	if generation-t.current.LastUpdateIteration < t.cfg.StalenessWindow {
		return false
	}
	t.current.Stale = true
	t.logger.Warn("champion stale",
		"strategy", t.current.Strategy.ID,
		"last_update", t.current.LastUpdateIteration,
		"generation", generation,
		"probation", t.cfg.ProbationMode)
	return true
}

// Consider offers a challenger. It returns true when the challenger takes
// the seat. An empty seat requires only the absolute floor; an occupied seat
// requires the hybrid margin; a stale seat under relaxed probation requires
// any strict improvement.
func (t *ChampionTracker) Consider(generation int, challenger model.StrategyGraph, metrics model.Metrics) bool {
	s := score(metrics)

	if t.current == nil {
		if s < t.cfg.AbsoluteFloor {
			return false
		}
		t.install(generation, challenger, metrics)
		t.logger.Info("champion established", "strategy", challenger.ID, "score", s, "generation", generation)
		return true
	}

	incumbent := score(t.current.Metrics)
	required := incumbent + t.cfg.AbsoluteMargin
	if byRelative := incumbent * (1 + t.cfg.RelativeMargin); incumbent > 0 && byRelative < required {
		required = byRelative
	}
	// Meeting the threshold exactly wins the seat; an exact tie with the
	// incumbent never does.
	wins := s >= required && s > incumbent
	if t.current.Stale && t.cfg.ProbationMode == ProbationRelaxed {
		// A stale incumbent defends only its raw score.
		required = incumbent
		wins = s > incumbent
	}

	if !wins {
		if s > incumbent {
			t.logger.Debug("champion defended",
				"strategy", t.current.Strategy.ID,
				"challenger", challenger.ID,
				"incumbent_score", incumbent,
				"challenger_score", s,
				"required", required)
		}
		return false
	}

	t.install(generation, challenger, metrics)
	t.logger.Info("champion replaced",
		"strategy", challenger.ID,
		"score", s,
		"previous_score", incumbent,
		"generation", generation)
	return true
}

func (t *ChampionTracker) install(generation int, strategy model.StrategyGraph, metrics model.Metrics) {
	t.current = &model.Champion{
		Strategy:             graph.Clone(strategy),
		Metrics:              metrics,
		IterationEstablished: generation,
		LastUpdateIteration:  generation,
		Stale:                false,
	}
}
