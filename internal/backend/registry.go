// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/transport"
)

// Deps are the collaborators a backend client is built with.
type Deps struct {
	Doer   transport.Doer
	Cache  Cache
	GUID   *guid.Registry
	Rules  *guid.Rules
	Ignore *guid.IgnoreList
}

// Factory builds a Client for one configured backend.
type Factory func(ctx Context, deps Deps) (Client, error)

// Registry maps backend kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory. Kinds are case-insensitive and registered once.
func (r *Registry) Register(kind string, f Factory) error {
	kind = strings.ToLower(kind)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("backend kind %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// New builds the client for ctx.Kind.
func (r *Registry) New(ctx Context, deps Deps) (Client, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(ctx.Kind)]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("backend %s: kind %q: %w", ctx.Name, ctx.Kind, ErrUnsupportedType)
	}
	if deps.GUID == nil {
		deps.GUID = guid.NewRegistry()
	}
	if deps.Rules == nil {
		deps.Rules = guid.EmptyRules()
	}
	if deps.Doer == nil {
		return nil, fmt.Errorf("backend %s: no transport", ctx.Name)
	}

	c, err := f(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", ctx.Name, err)
	}
	return c, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
