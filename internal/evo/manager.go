package evo

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"strategos/internal/graph"
	"strategos/internal/model"
)

// Evaluator scores a strategy graph. Implementations run the backtest; the
// evolutionary core treats the metrics as opaque.
type Evaluator interface {
	Evaluate(ctx context.Context, g model.StrategyGraph) (model.Metrics, error)
}

// CheckpointSink persists per-generation checkpoints. A nil sink disables
// checkpointing.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// Config tunes the generational loop.
type Config struct {
	RunID                string  `yaml:"run_id"`
	PopulationSize       int     `yaml:"population_size"`
	Generations          int     `yaml:"generations"`
	EliteCount           int     `yaml:"elite_count"`
	TournamentSize       int     `yaml:"tournament_size"`
	RandomParentProb     float64 `yaml:"random_parent_prob"`
	CrossoverProb        float64 `yaml:"crossover_prob"`
	OffspringRetryBudget int     `yaml:"offspring_retry_budget"`
	Workers              int     `yaml:"workers"`
	Seed                 int64   `yaml:"seed"`
	// DiversityFloor and CollapseWindow drive collapse detection and the
	// tier selector's structural bias.
	DiversityFloor float64 `yaml:"diversity_floor"`
	CollapseWindow int     `yaml:"collapse_window"`
	// StagnationWindow is how many generations without champion improvement
	// escalate the tier selector.
	StagnationWindow int            `yaml:"stagnation_window"`
	TierWeights      [3]float64     `yaml:"tier_weights"`
	Champion         ChampionConfig `yaml:"champion"`
}

// DefaultConfig returns a small but complete run configuration.
func DefaultConfig() Config {
	return Config{
		PopulationSize:       24,
		Generations:          50,
		EliteCount:           2,
		TournamentSize:       3,
		RandomParentProb:     0.1,
		CrossoverProb:        0.35,
		OffspringRetryBudget: 8,
		Workers:              4,
		Seed:                 1,
		DiversityFloor:       0.15,
		CollapseWindow:       5,
		StagnationWindow:     5,
		TierWeights:          [3]float64{6, 2, 1},
		Champion:             DefaultChampionConfig(),
	}
}

// Validate rejects contradictory settings before a run starts. Conflicts are
// fatal here and only here.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("population_size must be >= 2, got %d", c.PopulationSize)}
	}
	if c.Generations < 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("generations must be >= 1, got %d", c.Generations)}
	}
	if c.EliteCount < 0 || c.EliteCount >= c.PopulationSize {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("elite_count %d must be in [0, population_size)", c.EliteCount)}
	}
	if c.TournamentSize < 1 || c.TournamentSize > c.PopulationSize {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("tournament_size %d must be in [1, population_size]", c.TournamentSize)}
	}
	if c.RandomParentProb < 0 || c.RandomParentProb > 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("random_parent_prob %v must be in [0, 1]", c.RandomParentProb)}
	}
	if c.CrossoverProb < 0 || c.CrossoverProb > 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("crossover_prob %v must be in [0, 1]", c.CrossoverProb)}
	}
	if c.OffspringRetryBudget < 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("offspring_retry_budget must be >= 1, got %d", c.OffspringRetryBudget)}
	}
	if c.Workers < 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("workers must be >= 1, got %d", c.Workers)}
	}
	if c.DiversityFloor < 0 || c.DiversityFloor > 1 {
		return &ConfigurationConflictError{Detail: fmt.Sprintf("diversity_floor %v must be in [0, 1]", c.DiversityFloor)}
	}
	return c.Champion.Validate()
}

// RunResult is the outcome of a completed (or cancelled-and-flushed) run.
type RunResult struct {
	RunID       string
	Population  model.Population
	Champion    *model.Champion
	Diagnostics []model.GenerationDiagnostics
	Lineage     []model.LineageRecord
	Mutations   []model.MutationRecord
}

// GenerationListener observes each completed generation; the dashboard
// subscribes here. Listeners must not block.
type GenerationListener func(model.GenerationDiagnostics)

// Manager drives the generational loop: evaluate, rank, select, breed,
// checkpoint. Populations never shrink; failed offspring are retried and
// ultimately fall back to cloning their parent.
type Manager struct {
	cfg       Config
	evaluator Evaluator
	selector  *TierSelector
	tracker   *ChampionTracker
	collapse  *CollapseTracker
	logger    *slog.Logger

	sink      CheckpointSink
	listeners []GenerationListener

	operators map[int][]Operator

	history *ProposerHistory
	scores  map[string]model.Metrics

	lineage     []model.LineageRecord
	diagnostics []model.GenerationDiagnostics
	mutations   []model.MutationRecord
	sinceImprov int
}

// NewManager builds a manager. Configuration conflicts fail construction.
func NewManager(cfg Config, evaluator Evaluator, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if evaluator == nil {
		return nil, &ConfigurationConflictError{Detail: "evaluator is required"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	selector, err := NewTierSelector(cfg.TierWeights, cfg.DiversityFloor, cfg.StagnationWindow)
	if err != nil {
		return nil, &ConfigurationConflictError{Detail: err.Error()}
	}
	tracker, err := NewChampionTracker(cfg.Champion, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:       cfg,
		evaluator: evaluator,
		selector:  selector,
		tracker:   tracker,
		collapse:  NewCollapseTracker(cfg.DiversityFloor, cfg.CollapseWindow),
		logger:    logger,
		operators: map[int][]Operator{
			1: {ConfigMutation{}},
			2: {AddFactor{}, RemoveFactor{}, ReplaceFactor{}, Reparameterize{}},
			3: {LogicMutation{}},
		},
	}, nil
}

// SetCheckpointSink wires checkpoint persistence.
func (m *Manager) SetCheckpointSink(sink CheckpointSink) { m.sink = sink }

// SetProposer enables guided Tier-1 mutations. The internal drafting
// operator stays registered as the fallback. The proposer sees the parent's
// metrics and recent rejection reasons alongside each graph.
func (m *Manager) SetProposer(p PayloadProposer) {
	m.history = &ProposerHistory{}
	m.operators[1] = []Operator{GuidedConfigMutation{Proposer: p, History: m.history}, ConfigMutation{}}
}

// AddListener subscribes to per-generation diagnostics.
func (m *Manager) AddListener(fn GenerationListener) { m.listeners = append(m.listeners, fn) }

// Champion returns a copy of the reigning champion, or nil.
func (m *Manager) Champion() *model.Champion { return m.tracker.Current() }

// RunID returns the run identifier, generated at construction when the
// configuration left it empty.
func (m *Manager) RunID() string { return m.cfg.RunID }

// Run evolves from the given seed strategies for the configured number of
// generations. Seeds must be valid graphs; the population is padded to size
// by mutating seeds.
func (m *Manager) Run(ctx context.Context, seeds []model.StrategyGraph) (*RunResult, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("run %s: %w", m.cfg.RunID, ErrNoCandidate)
	}
	for _, seed := range seeds {
		if err := graph.Validate(seed); err != nil {
			return nil, fmt.Errorf("run %s seed %s: %w", m.cfg.RunID, seed.ID, err)
		}
	}

	rng := m.generationRNG(0)
	members := m.seedPopulation(ctx, rng, seeds)
	return m.evolve(ctx, 0, members)
}

// Resume continues a checkpointed run from the generation after the one the
// checkpoint captured.
func (m *Manager) Resume(ctx context.Context, cp model.Checkpoint) (*RunResult, error) {
	if len(cp.Population.Members) == 0 {
		return nil, fmt.Errorf("resume %s: %w", cp.RunID, ErrNoCandidate)
	}
	if seed, ok := decodeRNGState(cp.RNGState); ok {
		m.cfg.Seed = seed
	}
	m.cfg.RunID = cp.RunID
	m.tracker.Restore(cp.Champion)
	m.lineage = append([]model.LineageRecord(nil), cp.Lineage...)
	m.diagnostics = append([]model.GenerationDiagnostics(nil), cp.Diagnostics...)
	m.sinceImprov = cp.SinceImprov

	members := make([]model.StrategyGraph, len(cp.Population.Members))
	for i, g := range cp.Population.Members {
		members[i] = graph.Clone(g)
	}
	return m.evolve(ctx, cp.Population.Generation+1, members)
}

func (m *Manager) evolve(ctx context.Context, startGen int, members []model.StrategyGraph) (*RunResult, error) {
	var last model.Population

	for gen := startGen; gen < startGen+m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return m.result(last), err
		}
		rng := m.generationRNG(gen)

		candidates, evalErrors := m.evaluateAll(ctx, members)
		if err := ctx.Err(); err != nil {
			return m.result(last), err
		}
		if len(candidates) == 0 {
			return m.result(last), fmt.Errorf("generation %d: every candidate failed evaluation: %w", gen, ErrNoCandidate)
		}

		frontIDs := Rank(candidates)
		diversity := PopulationDiversity(members)
		collapsed := m.collapse.Observe(diversity)
		if collapsed {
			m.logger.Warn("diversity collapse", "generation", gen, "diversity", diversity, "floor", m.cfg.DiversityFloor)
		}

		m.tracker.Observe(gen)
		best := bestBySharpe(candidates)[0]
		replaced := m.tracker.Consider(gen, best.Strategy, best.Metrics)
		if replaced {
			m.sinceImprov = 0
		} else {
			m.sinceImprov++
		}

		diag := m.diagnose(gen, candidates, frontIDs, diversity, collapsed, evalErrors, replaced)
		last = m.snapshot(gen, members, frontIDs, diversity)

		// Breed before persisting, so the checkpointed and broadcast
		// diagnostics carry this generation's rejected-offspring count.
		if gen < startGen+m.cfg.Generations-1 {
			if err := ctx.Err(); err != nil {
				return m.result(last), err
			}
			members = m.breed(ctx, rng, gen+1, candidates, &diag)
			m.diagnostics[len(m.diagnostics)-1] = diag
		}

		if err := m.checkpoint(ctx, last, gen); err != nil {
			return m.result(last), err
		}
		m.notify(diag)
		m.logger.Info("generation complete",
			"generation", gen,
			"best_sharpe", diag.BestSharpe,
			"front_size", diag.FrontSize,
			"diversity", diversity,
			"eval_errors", evalErrors,
			"rejected_offspring", diag.RejectedOffspring,
			"champion_replaced", replaced)
	}

	return m.result(last), nil
}

// evaluateAll scores members lacking fitness under a bounded worker pool.
// Elites carried over from the previous generation keep their scores and
// never hit the evaluator again. Members whose evaluation fails are dropped
// from ranking and counted; failure is never fatal to the generation.
func (m *Manager) evaluateAll(ctx context.Context, members []model.StrategyGraph) ([]Candidate, int) {
	metrics := make([]model.Metrics, len(members))
	errs := make([]error, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i := range members {
		if cached, ok := m.scores[members[i].ID]; ok {
			metrics[i] = cached
			continue
		}
		i := i
		g.Go(func() error {
			metrics[i], errs[i] = m.evaluator.Evaluate(gctx, members[i])
			return nil
		})
	}
	_ = g.Wait()

	candidates := make([]Candidate, 0, len(members))
	failures := 0
	scores := make(map[string]model.Metrics, len(members))
	for i := range members {
		if errs[i] != nil {
			failures++
			m.logger.Warn("evaluation failed", "strategy", members[i].ID, "error", errs[i])
			continue
		}
		scores[members[i].ID] = metrics[i]
		candidates = append(candidates, Candidate{Strategy: members[i], Metrics: metrics[i]})
	}
	m.scores = scores
	return candidates, failures
}

// breed produces the next generation: elites survive unchanged, the rest are
// offspring bred under the retry budget. The returned slice always has the
// configured population size.
func (m *Manager) breed(ctx context.Context, rng *rand.Rand, gen int, candidates []Candidate, diag *model.GenerationDiagnostics) []model.StrategyGraph {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	SortByPreference(ranked)

	next := make([]model.StrategyGraph, 0, m.cfg.PopulationSize)
	for i := 0; i < m.cfg.EliteCount && i < len(ranked); i++ {
		elite := graph.Clone(ranked[i].Strategy)
		elite.Generation = gen
		next = append(next, elite)
	}

	for len(next) < m.cfg.PopulationSize {
		child := m.offspring(ctx, rng, gen, ranked, diag)
		next = append(next, child)
	}
	return next
}

// offspring breeds one child. Each failed attempt burns retry budget; an
// exhausted budget clones the parent so the population never shrinks.
func (m *Manager) offspring(ctx context.Context, rng *rand.Rand, gen int, ranked []Candidate, diag *model.GenerationDiagnostics) model.StrategyGraph {
	state := SelectorState{Diversity: diag.Diversity, SinceImprovement: m.sinceImprov}
	parent := m.selectParent(rng, ranked)
	if m.history != nil {
		m.history.observe(parent.Metrics)
	}

	for attempt := 0; attempt < m.cfg.OffspringRetryBudget; attempt++ {
		base := parent.Strategy
		parentIDs := []string{parent.Strategy.ID}
		crossed := false

		if m.cfg.CrossoverProb > 0 && rng.Float64() < m.cfg.CrossoverProb && len(ranked) > 1 {
			mate := m.selectParent(rng, ranked)
			if mate.Strategy.ID != parent.Strategy.ID {
				combined, err := Crossover(rng, parent.Strategy, mate.Strategy)
				if err == nil {
					base = combined
					parentIDs = append(parentIDs, mate.Strategy.ID)
					crossed = true
				}
			}
		}

		tier := m.selector.Select(rng, state)
		ops := m.operators[tier]
		op := ops[rng.Intn(len(ops))]
		mutated, record, err := op.Apply(ctx, rng, base)
		m.mutations = append(m.mutations, record)
		if err != nil {
			diag.RejectedOffspring++
			if m.history != nil {
				m.history.reject(record.RejectionReason)
			}
			continue
		}

		child := mutated
		child.ID = m.newStrategyID(rng, gen)
		child.Generation = gen
		child.ParentIDs = parentIDs
		operation := record.Operation
		if crossed {
			operation = "crossover+" + record.Operation
		}
		m.lineage = append(m.lineage, model.LineageRecord{
			StrategyID: child.ID,
			ParentIDs:  child.ParentIDs,
			Generation: gen,
			Operation:  operation,
		})
		return child
	}

	// Budget exhausted: carry the parent forward under a new identity.
	child := graph.Clone(parent.Strategy)
	child.ID = m.newStrategyID(rng, gen)
	child.Generation = gen
	child.ParentIDs = []string{parent.Strategy.ID}
	m.lineage = append(m.lineage, model.LineageRecord{
		StrategyID: child.ID,
		ParentIDs:  child.ParentIDs,
		Generation: gen,
		Operation:  "clone_fallback",
	})
	return child
}

// selectParent runs tournament selection with an occasional uniform random
// pick to keep selection pressure from starving diversity.
func (m *Manager) selectParent(rng *rand.Rand, ranked []Candidate) Candidate {
	if rng.Float64() < m.cfg.RandomParentProb {
		return ranked[rng.Intn(len(ranked))]
	}
	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < m.cfg.TournamentSize; i++ {
		challenger := ranked[rng.Intn(len(ranked))]
		if Better(challenger, best) {
			best = challenger
		}
	}
	return best
}

// seedPopulation pads the seeds up to the configured size by mutating them.
func (m *Manager) seedPopulation(ctx context.Context, rng *rand.Rand, seeds []model.StrategyGraph) []model.StrategyGraph {
	members := make([]model.StrategyGraph, 0, m.cfg.PopulationSize)
	for _, seed := range seeds {
		if len(members) == m.cfg.PopulationSize {
			break
		}
		cloned := graph.Clone(seed)
		cloned.Generation = 0
		if cloned.ID == "" {
			cloned.ID = m.newStrategyID(rng, 0)
		}
		members = append(members, cloned)
	}

	state := SelectorState{Diversity: 1}
	for len(members) < m.cfg.PopulationSize {
		parent := members[rng.Intn(len(members))]
		child := graph.Clone(parent)
		for attempt := 0; attempt < m.cfg.OffspringRetryBudget; attempt++ {
			tier := m.selector.Select(rng, state)
			ops := m.operators[tier]
			op := ops[rng.Intn(len(ops))]
			mutated, record, err := op.Apply(ctx, rng, parent)
			m.mutations = append(m.mutations, record)
			if err == nil {
				child = mutated
				break
			}
			if m.history != nil {
				m.history.reject(record.RejectionReason)
			}
		}
		child.ID = m.newStrategyID(rng, 0)
		child.Generation = 0
		child.ParentIDs = []string{parent.ID}
		members = append(members, child)
	}
	return members
}

func (m *Manager) diagnose(gen int, candidates []Candidate, frontIDs []string, diversity float64, collapsed bool, evalErrors int, replaced bool) model.GenerationDiagnostics {
	best, sum := candidates[0].Metrics.Sharpe, 0.0
	for _, c := range candidates {
		if c.Metrics.Sharpe > best {
			best = c.Metrics.Sharpe
		}
		sum += c.Metrics.Sharpe
	}
	diag := model.GenerationDiagnostics{
		Generation:        gen,
		BestSharpe:        best,
		MeanSharpe:        sum / float64(len(candidates)),
		FrontSize:         len(frontIDs),
		Diversity:         diversity,
		DiversityCollapse: collapsed,
		EvaluationErrors:  evalErrors,
		ChampionReplaced:  replaced,
	}
	m.diagnostics = append(m.diagnostics, diag)
	return diag
}

func (m *Manager) snapshot(gen int, members []model.StrategyGraph, frontIDs []string, diversity float64) model.Population {
	snap := model.Population{
		Generation:     gen,
		Members:        make([]model.StrategyGraph, len(members)),
		ParetoFront:    append([]string(nil), frontIDs...),
		DiversityScore: diversity,
	}
	for i, g := range members {
		snap.Members[i] = graph.Clone(g)
	}
	return snap
}

func (m *Manager) checkpoint(ctx context.Context, pop model.Population, gen int) error {
	if m.sink == nil {
		return nil
	}
	cp := model.Checkpoint{
		RunID:       m.cfg.RunID,
		Population:  pop,
		Champion:    m.tracker.Current(),
		Lineage:     append([]model.LineageRecord(nil), m.lineage...),
		Diagnostics: append([]model.GenerationDiagnostics(nil), m.diagnostics...),
		RNGState:    encodeRNGState(m.cfg.Seed),
		SinceImprov: m.sinceImprov,
	}
	if err := m.sink.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint generation %d: %w", gen, err)
	}
	return nil
}

func (m *Manager) notify(diag model.GenerationDiagnostics) {
	for _, fn := range m.listeners {
		fn(diag)
	}
}

func (m *Manager) result(last model.Population) *RunResult {
	return &RunResult{
		RunID:       m.cfg.RunID,
		Population:  last,
		Champion:    m.tracker.Current(),
		Diagnostics: append([]model.GenerationDiagnostics(nil), m.diagnostics...),
		Lineage:     append([]model.LineageRecord(nil), m.lineage...),
		Mutations:   append([]model.MutationRecord(nil), m.mutations...),
	}
}

// generationRNG derives a fresh deterministic stream per generation, so a
// resumed run replays the exact stream the original would have used.
func (m *Manager) generationRNG(gen int) *rand.Rand {
	return rand.New(rand.NewSource(m.cfg.Seed + int64(gen)*1_000_003))
}

func (m *Manager) newStrategyID(rng *rand.Rand, gen int) string {
	return fmt.Sprintf("s%d-%08x", gen, rng.Uint32())
}

// bestBySharpe orders candidates by descending sharpe with id tie-break.
func bestBySharpe(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metrics.Sharpe != out[j].Metrics.Sharpe {
			return out[i].Metrics.Sharpe > out[j].Metrics.Sharpe
		}
		return out[i].Strategy.ID < out[j].Strategy.ID
	})
	return out
}

func encodeRNGState(seed int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(seed))
	return out
}

func decodeRNGState(raw []byte) (int64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(raw)), true
}
