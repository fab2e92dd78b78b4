package graph

import (
	"fmt"
	"sort"
	"strings"

	"strategos/internal/dataset"
	"strategos/internal/model"
)

// ErrorKind identifies which structural check a graph failed.
type ErrorKind string

const (
	KindCycle             ErrorKind = "cycle"
	KindUnsatisfiedInput  ErrorKind = "unsatisfied_input"
	KindNoSignal          ErrorKind = "no_signal"
	KindOrphan            ErrorKind = "orphan"
	KindDuplicateOutput   ErrorKind = "duplicate_output"
	KindUnknownDependency ErrorKind = "unknown_dependency"
	KindDuplicateFactor   ErrorKind = "duplicate_factor"
	KindHasDependents     ErrorKind = "has_dependents"
)

// StructuralError reports a graph-level defect. Structural errors are always
// recoverable by discarding the candidate graph.
type StructuralError struct {
	Kind      ErrorKind
	FactorIDs []string
	Field     string
	Detail    string
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString("structural error: ")
	b.WriteString(string(e.Kind))
	if len(e.FactorIDs) > 0 {
		fmt.Fprintf(&b, " factors=[%s]", strings.Join(e.FactorIDs, ", "))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// Validate runs all five structural checks in order and returns the first
// failure. A nil return means the graph compiles.
func Validate(g model.StrategyGraph) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	if err := CheckInputSatisfiability(g, order); err != nil {
		return err
	}
	if err := CheckSignalPresence(g); err != nil {
		return err
	}
	if err := CheckNoOrphans(g); err != nil {
		return err
	}
	return CheckNoDuplicateOutputs(g)
}

// CheckInputSatisfiability verifies every factor's declared inputs are
// covered by base dataset fields or by outputs of its ancestors.
func CheckInputSatisfiability(g model.StrategyGraph, order []string) error {
	base := map[string]struct{}{}
	for _, field := range dataset.BaseFields() {
		base[field] = struct{}{}
	}

	for _, id := range order {
		available := map[string]struct{}{}
		for field := range base {
			available[field] = struct{}{}
		}
		for ancestor := range Ancestors(g, id) {
			for _, output := range g.Factors[ancestor].Outputs {
				available[output] = struct{}{}
			}
		}
		for _, input := range g.Factors[id].Inputs {
			if _, ok := available[input]; !ok {
				return &StructuralError{
					Kind:      KindUnsatisfiedInput,
					FactorIDs: []string{id},
					Field:     input,
				}
			}
		}
	}
	return nil
}

// CheckSignalPresence verifies at least one factor produces the designated
// position-signal field.
func CheckSignalPresence(g model.StrategyGraph) error {
	if len(SignalProducers(g, dataset.FieldPosition)) == 0 {
		return &StructuralError{Kind: KindNoSignal, Field: dataset.FieldPosition}
	}
	return nil
}

// CheckNoOrphans verifies every factor contributes to a signal producer:
// each factor must be a signal producer itself or an ancestor of one.
func CheckNoOrphans(g model.StrategyGraph) error {
	contributing := map[string]struct{}{}
	for _, producer := range SignalProducers(g, dataset.FieldPosition) {
		contributing[producer] = struct{}{}
		for ancestor := range Ancestors(g, producer) {
			contributing[ancestor] = struct{}{}
		}
	}

	var orphans []string
	for id := range g.Factors {
		if _, ok := contributing[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return &StructuralError{Kind: KindOrphan, FactorIDs: orphans}
	}
	return nil
}

// CheckNoDuplicateOutputs verifies output field names are unique across the
// whole graph and do not shadow base dataset fields.
func CheckNoDuplicateOutputs(g model.StrategyGraph) error {
	base := map[string]struct{}{}
	for _, field := range dataset.BaseFields() {
		base[field] = struct{}{}
	}

	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := map[string]string{}
	for _, id := range ids {
		for _, output := range g.Factors[id].Outputs {
			if _, shadowed := base[output]; shadowed {
				return &StructuralError{
					Kind:      KindDuplicateOutput,
					FactorIDs: []string{id},
					Field:     output,
					Detail:    "output shadows base field",
				}
			}
			if producer, dup := seen[output]; dup {
				return &StructuralError{
					Kind:      KindDuplicateOutput,
					FactorIDs: []string{producer, id},
					Field:     output,
				}
			}
			seen[output] = id
		}
	}
	return nil
}
