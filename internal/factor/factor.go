package factor

import (
	"errors"
	"fmt"
	"strings"

	"strategos/internal/dataset"
	"strategos/internal/model"
)

var (
	ErrUnknownParameter    = errors.New("unknown parameter")
	ErrParameterOutOfRange = errors.New("parameter out of range")
	ErrInputArity          = errors.New("input arity mismatch")
)

// Transform computes a factor's output columns from its input columns. A
// transform must only append the factor's declared outputs and must not
// mutate existing columns.
type Transform interface {
	Apply(ds *dataset.Dataset, f model.Factor) error
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ds *dataset.Dataset, f model.Factor) error

func (fn TransformFunc) Apply(ds *dataset.Dataset, f model.Factor) error {
	return fn(ds, f)
}

// ParamSpec bounds one named parameter.
type ParamSpec struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
}

// Definition describes an instantiable factor type. Definitions are
// registered once at startup and never change during a run.
type Definition struct {
	Type     string
	Category model.Category
	Params   []ParamSpec
	// InputSlots are logical inputs bound to concrete field names at
	// instantiation, in order.
	InputSlots []string
	// OutputSuffixes name the produced columns. The empty suffix maps to the
	// factor id itself; others to id + "_" + suffix.
	OutputSuffixes []string
	// EmitsPosition marks definitions whose single output is the designated
	// position-signal field.
	EmitsPosition bool
	// VariadicInputs disables input arity checking for definitions whose
	// inputs derive from instance data (expression-backed factors).
	VariadicInputs bool
	Transform      Transform
}

// ParamSpecFor looks up a parameter spec by name.
func (d Definition) ParamSpecFor(name string) (ParamSpec, bool) {
	for _, spec := range d.Params {
		if spec.Name == name {
			return spec, true
		}
	}
	return ParamSpec{}, false
}

// New instantiates a factor from this definition. Unknown or out-of-range
// parameters are rejected; missing parameters take their defaults. The
// returned factor is self-contained and owned by the caller.
func (d Definition) New(id string, inputs []string, params map[string]float64) (model.Factor, error) {
	if id == "" {
		return model.Factor{}, errors.New("factor id is required")
	}
	if !d.VariadicInputs && len(inputs) != len(d.InputSlots) {
		return model.Factor{}, fmt.Errorf("%w: %s wants %d inputs, got %d", ErrInputArity, d.Type, len(d.InputSlots), len(inputs))
	}
	for i, input := range inputs {
		if input == "" {
			return model.Factor{}, fmt.Errorf("input slot %s is empty", d.InputSlots[i])
		}
	}

	resolved := make(map[string]float64, len(d.Params))
	for _, spec := range d.Params {
		resolved[spec.Name] = spec.Default
	}
	for name, value := range params {
		spec, ok := d.ParamSpecFor(name)
		if !ok {
			return model.Factor{}, fmt.Errorf("%w: %s.%s", ErrUnknownParameter, d.Type, name)
		}
		if value < spec.Min || value > spec.Max {
			return model.Factor{}, fmt.Errorf("%w: %s.%s=%v outside [%v, %v]", ErrParameterOutOfRange, d.Type, name, value, spec.Min, spec.Max)
		}
		resolved[name] = value
	}

	return model.Factor{
		ID:         id,
		Type:       d.Type,
		Category:   d.Category,
		Inputs:     append([]string(nil), inputs...),
		Outputs:    d.outputNames(id),
		Parameters: resolved,
	}, nil
}

// Validate checks an existing factor instance against the definition. Used
// to re-check untrusted payloads before they touch a graph.
func (d Definition) Validate(f model.Factor) error {
	if f.Type != d.Type {
		return fmt.Errorf("factor type mismatch: got=%s want=%s", f.Type, d.Type)
	}
	if !d.VariadicInputs && len(f.Inputs) != len(d.InputSlots) {
		return fmt.Errorf("%w: %s wants %d inputs, got %d", ErrInputArity, d.Type, len(d.InputSlots), len(f.Inputs))
	}
	for name, value := range f.Parameters {
		spec, ok := d.ParamSpecFor(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownParameter, d.Type, name)
		}
		if value < spec.Min || value > spec.Max {
			return fmt.Errorf("%w: %s.%s=%v outside [%v, %v]", ErrParameterOutOfRange, d.Type, name, value, spec.Min, spec.Max)
		}
	}
	for _, spec := range d.Params {
		if _, ok := f.Parameters[spec.Name]; !ok {
			return fmt.Errorf("missing parameter %s.%s", d.Type, spec.Name)
		}
	}
	return nil
}

// Clamp forces a parameter value into the declared range.
func (s ParamSpec) Clamp(value float64) float64 {
	if value < s.Min {
		return s.Min
	}
	if value > s.Max {
		return s.Max
	}
	return value
}

func (d Definition) outputNames(id string) []string {
	if d.EmitsPosition {
		return []string{dataset.FieldPosition}
	}
	outputs := make([]string, 0, len(d.OutputSuffixes))
	base := sanitizeID(id)
	for _, suffix := range d.OutputSuffixes {
		if suffix == "" {
			outputs = append(outputs, base)
			continue
		}
		outputs = append(outputs, base+"_"+suffix)
	}
	return outputs
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, id)
}

// WindowParam reads an integral window parameter, guarding against degenerate
// values that would make a rolling computation meaningless.
func WindowParam(f model.Factor, name string) (int, error) {
	value, ok := f.Parameters[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %s.%s", f.Type, name)
	}
	window := int(value)
	if window < 1 {
		return 0, fmt.Errorf("parameter %s.%s must be >= 1, got %d", f.Type, name, window)
	}
	return window, nil
}
