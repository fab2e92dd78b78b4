package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Category tags a factor by its role in a strategy.
type Category string

const (
	CategoryTrend      Category = "trend"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryEntry      Category = "entry"
	CategoryExit       Category = "exit"
	CategoryRisk       Category = "risk"
	CategorySignal     Category = "signal"
)

// Factor is an atomic computation unit inside a strategy graph. It is
// immutable once constructed; mutation replaces the whole factor.
type Factor struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Category   Category           `json:"category"`
	Inputs     []string           `json:"inputs"`
	Outputs    []string           `json:"outputs"`
	Parameters map[string]float64 `json:"parameters"`
	// Expression holds the serialized logic tree for expression-backed
	// factors. Empty for registry-defined transforms.
	Expression []byte `json:"expression,omitempty"`
}

// StrategyGraph is a DAG of factors plus dependency edges. Factors are owned
// by their graph and never shared by reference across graphs.
type StrategyGraph struct {
	VersionedRecord
	ID         string            `json:"id"`
	Generation int               `json:"generation"`
	ParentIDs  []string          `json:"parent_ids,omitempty"`
	Factors    map[string]Factor `json:"factors"`
	// Edges maps a factor id to the sorted ids of factors it depends on.
	Edges map[string][]string `json:"edges"`
}

// ObjectiveDirection marks whether larger or smaller values are better.
type ObjectiveDirection int

const (
	Maximize ObjectiveDirection = iota
	Minimize
)

// Objective names, in canonical vector order.
const (
	ObjectiveSharpe      = "sharpe"
	ObjectiveCalmar      = "calmar"
	ObjectiveMaxDrawdown = "max_drawdown"
	ObjectiveReturn      = "return"
	ObjectiveStability   = "stability"
)

// Metrics is the fixed-shape multi-objective vector produced by the backtest
// collaborator. The evolutionary core treats it as opaque read-only data.
type Metrics struct {
	Sharpe      float64 `json:"sharpe"`
	Calmar      float64 `json:"calmar"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Return      float64 `json:"return"`
	Stability   float64 `json:"stability"`
}

// Objective pairs a metric accessor with its optimization direction.
type Objective struct {
	Name      string
	Direction ObjectiveDirection
	Value     func(Metrics) float64
}

// Objectives returns the canonical objective vector. The order is fixed so
// that ranking never depends on map iteration.
func Objectives() []Objective {
	return []Objective{
		{Name: ObjectiveSharpe, Direction: Maximize, Value: func(m Metrics) float64 { return m.Sharpe }},
		{Name: ObjectiveCalmar, Direction: Maximize, Value: func(m Metrics) float64 { return m.Calmar }},
		{Name: ObjectiveMaxDrawdown, Direction: Minimize, Value: func(m Metrics) float64 { return m.MaxDrawdown }},
		{Name: ObjectiveReturn, Direction: Maximize, Value: func(m Metrics) float64 { return m.Return }},
		{Name: ObjectiveStability, Direction: Maximize, Value: func(m Metrics) float64 { return m.Stability }},
	}
}

// Population is one generation's worth of strategies. It is assembled once
// per generation and never mutated after evaluation completes.
type Population struct {
	VersionedRecord
	Generation     int             `json:"generation"`
	Members        []StrategyGraph `json:"members"`
	ParetoFront    []string        `json:"pareto_front"`
	DiversityScore float64         `json:"diversity_score"`
}

// Champion is the currently accepted best strategy. It is replaced whole,
// never edited in place.
type Champion struct {
	VersionedRecord
	Strategy             StrategyGraph `json:"strategy"`
	Metrics              Metrics       `json:"metrics"`
	IterationEstablished int           `json:"iteration_established"`
	LastUpdateIteration  int           `json:"last_update_iteration"`
	Stale                bool          `json:"stale"`
}

// MutationRecord is an append-only audit entry per attempted mutation.
type MutationRecord struct {
	Tier            int    `json:"tier"`
	Operation       string `json:"operation"`
	TargetFactorID  string `json:"target_factor_id,omitempty"`
	Success         bool   `json:"success"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// LineageRecord tracks how each strategy came to be.
type LineageRecord struct {
	StrategyID string   `json:"strategy_id"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Generation int      `json:"generation"`
	Operation  string   `json:"operation"`
}

// GenerationDiagnostics summarizes one completed generation.
type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	BestSharpe        float64 `json:"best_sharpe"`
	MeanSharpe        float64 `json:"mean_sharpe"`
	FrontSize         int     `json:"front_size"`
	Diversity         float64 `json:"diversity"`
	DiversityCollapse bool    `json:"diversity_collapse"`
	EvaluationErrors  int     `json:"evaluation_errors"`
	RejectedOffspring int     `json:"rejected_offspring"`
	ChampionReplaced  bool    `json:"champion_replaced"`
}

// Checkpoint captures everything required to resume a run mid-flight,
// including the RNG state that drives reproducibility.
type Checkpoint struct {
	VersionedRecord
	RunID       string                  `json:"run_id"`
	Population  Population              `json:"population"`
	Champion    *Champion               `json:"champion,omitempty"`
	Lineage     []LineageRecord         `json:"lineage"`
	Diagnostics []GenerationDiagnostics `json:"diagnostics"`
	RNGState    []byte                  `json:"rng_state"`
	SinceImprov int                     `json:"generations_since_improvement"`
}
