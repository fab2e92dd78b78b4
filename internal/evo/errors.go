package evo

import (
	"errors"
	"fmt"
)

// Per-candidate failures are recoverable: the population manager converts
// them into a dropped candidate plus an audit record and the generational
// loop continues. Only configuration conflicts are fatal, and only at
// startup.
var (
	ErrNoMutationChoice = errors.New("no mutation choice available")
	ErrNoCandidate      = errors.New("no candidate strategy available")
)

// SchemaError reports a malformed Tier-1 payload. The candidate is discarded
// before any graph mutation is attempted.
type SchemaError struct {
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema error: %s", e.Detail)
	}
	return fmt.Sprintf("schema error: field %s: %s", e.Field, e.Detail)
}

// GenerationError reports a payload-producer (LLM collaborator) failure.
// Never fatal to the run; the tier selector falls back explicitly.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation error: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ConfigurationConflictError reports contradictory run parameters. Raised at
// startup, never at runtime.
type ConfigurationConflictError struct {
	Detail string
}

func (e *ConfigurationConflictError) Error() string {
	return fmt.Sprintf("configuration conflict: %s", e.Detail)
}
