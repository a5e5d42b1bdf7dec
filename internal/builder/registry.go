// Package builder holds the builder registry and the builders that ship with
// the binary.
package builder

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Registry implements ports.BuilderRegistry with an in-memory map keyed by builder id.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]ports.Builder
}

var _ ports.BuilderRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]ports.Builder)}
}

// NewDefaultRegistry returns a registry holding the copy and command builders.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range []ports.Builder{NewCopy(), NewCommand()} {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	return r
}

// Register stores a builder keyed by its metadata id.
func (r *Registry) Register(b ports.Builder) error {
	if b == nil {
		return fmt.Errorf("builder is nil")
	}
	meta := b.Metadata()
	id := strings.ToLower(strings.TrimSpace(meta.ID))
	if id == "" {
		return job.NewError(job.ErrCodeValidation, "builder id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[id]; exists {
		return job.NewError(job.ErrCodeConflict, "builder already registered", nil).
			WithContext(map[string]interface{}{"builder": id})
	}
	r.builders[id] = b
	return nil
}

// RegisterFactory registers the builder produced by factory under id. The
// builder's metadata id must match.
func (r *Registry) RegisterFactory(id string, factory func() (ports.Builder, error)) error {
	if factory == nil {
		return fmt.Errorf("builder factory is nil for %q", id)
	}
	b, err := factory()
	if err != nil {
		return fmt.Errorf("construct builder %q: %w", id, err)
	}
	if b == nil {
		return fmt.Errorf("builder factory returned nil for %q", id)
	}
	if !strings.EqualFold(b.Metadata().ID, id) {
		return fmt.Errorf("builder metadata id %q does not match registration id %q", b.Metadata().ID, id)
	}
	return r.Register(b)
}

// Lookup returns the builder registered under id.
func (r *Registry) Lookup(id string) (ports.Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, job.NewError(job.ErrCodeNotFound, "builder not registered", job.ErrNotFound).
			WithContext(map[string]interface{}{"builder": id})
	}
	return b, nil
}

// List returns builder metadata sorted by id.
func (r *Registry) List() []ports.BuilderMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.BuilderMetadata, 0, len(r.builders))
	for _, b := range r.builders {
		out = append(out, b.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
