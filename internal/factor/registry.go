package factor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"strategos/internal/model"
)

var (
	ErrDefinitionExists   = errors.New("factor definition already registered")
	ErrDefinitionNotFound = errors.New("factor definition not found")
)

var registry = struct {
	mu sync.RWMutex
	m  map[string]Definition
}{
	m: make(map[string]Definition),
}

// Register adds a factor definition. The registry is populated at startup
// and treated as read-only for the rest of the run.
func Register(def Definition) error {
	if def.Type == "" {
		return errors.New("factor type is required")
	}
	if def.Transform == nil {
		return errors.New("factor transform is required")
	}
	if len(def.OutputSuffixes) == 0 && !def.EmitsPosition {
		return errors.New("factor must declare at least one output")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.m[def.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDefinitionExists, def.Type)
	}
	registry.m[def.Type] = def
	return nil
}

// Resolve returns the definition for a factor type.
func Resolve(factorType string) (Definition, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	def, ok := registry.m[factorType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, factorType)
	}
	return def, nil
}

// List returns all registered factor types in sorted order.
func List() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name := range registry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListByCategory returns the registered factor types of one category in
// sorted order, so callers can index into it with a seeded random source.
func ListByCategory(category model.Category) []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.m))
	for name, def := range registry.m {
		if def.Category == category {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	registry.mu.Lock()
	registry.m = make(map[string]Definition)
	registry.mu.Unlock()

	registerBuiltins()
}
