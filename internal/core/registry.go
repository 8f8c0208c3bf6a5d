package core

import (
	"fmt"
	"sync"
)

// Registry is the catalog of dialects an engine can load. It is built once
// at startup and injected; detection order is registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []*Dialect
	byID    map[string]*Dialect
	byTable map[string]string
}

// NewRegistry returns a registry holding the given dialects in order.
func NewRegistry(dialects ...Dialect) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]*Dialect),
		byTable: make(map[string]string),
	}
	for _, d := range dialects {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a dialect. IDs and target tables must be unique, and
// conflict columns must name declared fields unless the dialect is free-form.
func (r *Registry) Register(d Dialect) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		return fmt.Errorf("register dialect: empty id")
	}
	if d.TargetTable == "" {
		return fmt.Errorf("register dialect %s: empty target table", d.ID)
	}
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("dialect already registered: %s", d.ID)
	}
	if owner, exists := r.byTable[d.TargetTable]; exists {
		return fmt.Errorf("register dialect %s: target table %s already used by %s", d.ID, d.TargetTable, owner)
	}
	if !d.FreeForm && len(d.Fields) == 0 {
		return fmt.Errorf("register dialect %s: no fields declared", d.ID)
	}
	for _, c := range d.ConflictColumns {
		if _, ok := d.Field(c); !ok {
			return fmt.Errorf("register dialect %s: conflict column %s is not a declared field", d.ID, c)
		}
	}

	stored := d
	r.order = append(r.order, &stored)
	r.byID[d.ID] = &stored
	r.byTable[d.TargetTable] = d.ID
	return nil
}

// Get returns a dialect by ID.
func (r *Registry) Get(id string) (*Dialect, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	return d, ok
}

// All returns every dialect in registration order.
func (r *Registry) All() []*Dialect {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Dialect, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered dialects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Detect returns the first dialect, in registration order, whose detector
// accepts the header. Names are normalized before matching.
func (r *Registry) Detect(header []string) (*Dialect, error) {
	cols := NormalizeHeaders(header)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.order {
		if d.Detect != nil && d.Detect(cols) {
			return d, nil
		}
	}
	return nil, NewValidationError(MsgUnknownDialect)
}

// Resolve returns the override dialect when one is named, otherwise the
// detected one.
func (r *Registry) Resolve(override string, header []string) (*Dialect, error) {
	if override == "" {
		return r.Detect(header)
	}
	d, ok := r.Get(override)
	if !ok {
		return nil, NewValidationError("unknown dialect: %s", override)
	}
	return d, nil
}
