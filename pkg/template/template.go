// Package template models report templates and resolves their parameter
// names to the underlying source identifiers.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrInvalidTemplate is returned for a template with no parameters.
	ErrInvalidTemplate = errors.New("template has no parameters")

	// ErrNotFound is returned when a template id is unknown.
	ErrNotFound = errors.New("template not found")
)

// Template is a named, ordered set of raw parameter names. Parameter names
// carry positional suffixes ("ChilledWater_From_Plant1") that qualify range
// or unit; the suffix is not part of the source identifier.
type Template struct {
	ID         int64
	Name       string
	Parameters []string
}

// Store resolves template ids. Template definition and persistence live
// outside the engine; the engine only reads.
type Store interface {
	Get(ctx context.Context, id int64) (Template, error)
}

// suffixMarkers are the known qualifier markers, in priority order. The
// first marker found in a parameter name wins; matching is a plain substring
// cut, not a pattern.
var suffixMarkers = []string{"_From_", "_To_", "_Unit_"}

// ResolveSources maps a template's raw parameter names to the distinct
// source identifiers it needs, preserving order of first occurrence.
func ResolveSources(tpl Template) ([]string, error) {
	if len(tpl.Parameters) == 0 {
		return nil, fmt.Errorf("template %d: %w", tpl.ID, ErrInvalidTemplate)
	}

	seen := make(map[string]struct{}, len(tpl.Parameters))
	sources := make([]string, 0, len(tpl.Parameters))
	for _, p := range tpl.Parameters {
		id := stripSuffix(p)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sources = append(sources, id)
	}
	return sources, nil
}

func stripSuffix(name string) string {
	for _, marker := range suffixMarkers {
		if i := strings.Index(name, marker); i >= 0 {
			return name[:i]
		}
	}
	return name
}

// MemoryStore is an in-memory template store for tests and the demo binary.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[int64]Template
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[int64]Template)}
}

// Put registers or replaces a template.
func (s *MemoryStore) Put(tpl Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
}

// Get returns the template with the given id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return tpl, nil
}
