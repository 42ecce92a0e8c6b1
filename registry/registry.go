// Copyright 2025 Terrakit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the capability catalog and its invocation
// engine. A Registry is an explicitly owned instance: construct one with
// New and inject it wherever it is needed. There is no process-wide
// default.
package registry

import (
	"cmp"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/terrakit/terrakit/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/terrakit/terrakit/registry"

// Registry is a concurrency-safe store of action definitions. The mapping
// is the only shared mutable structure: reads run concurrently under an
// RLock, writes replace entries atomically, and no lock is ever held
// across a handler call, so one slow handler never blocks unrelated
// invocations or registrations.
//
// The registry keeps no per-call state. Invocations in flight complete
// against the definition they captured at start, even if the name is
// replaced or unregistered underneath them.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*core.ActionDefinition

	log    *slog.Logger
	tracer trace.Tracer
	sem    *semaphore.Weighted
}

// An Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and invocation events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithTracerProvider sets the provider for invocation spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) { r.tracer = tp.Tracer(tracerName) }
}

// WithMaxConcurrent caps the number of handlers executing at once.
// Validation and precondition checks are not throttled, only the handler
// call itself. Zero or negative means unlimited.
func WithMaxConcurrent(n int64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		actions: map[string]*core.ActionDefinition{},
		log:     slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a definition under its name. Registering an existing
// name replaces the prior definition atomically; concurrent lookups see
// either the old definition or the new one, never a half-written entry.
// A replacement whose schemas or contract differ structurally is logged
// as a breaking change.
func (r *Registry) Register(def *core.ActionDefinition) error {
	if def == nil {
		return core.NewError(core.ErrInvalidDefinition, "nil action definition")
	}
	r.mu.Lock()
	prev, existed := r.actions[def.Name()]
	r.actions[def.Name()] = def
	r.mu.Unlock()
	switch {
	case !existed:
		r.log.Debug("registered action", "name", def.Name())
	case prev.Equal(def):
		r.log.Debug("re-registered identical action", "name", def.Name())
	default:
		r.log.Warn("replaced action with structurally different definition",
			"name", def.Name(),
			"prev", jsonString(prev.Desc()),
			"new", jsonString(def.Desc()))
	}
	return nil
}

// jsonString renders v as JSON for a log attribute. A marshal failure is
// reported inline instead of dropping the attribute.
func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return string(data)
}

// Define builds a definition from cfg and registers it.
func (r *Registry) Define(cfg core.ActionConfig) (*core.ActionDefinition, error) {
	def, err := core.NewAction(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*core.ActionDefinition, error) {
	r.mu.RLock()
	def, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.ErrNotFound, "no action named %q", name)
	}
	return def, nil
}

// Unregister removes the definition under name. Invocations already in
// flight for that name run to completion against the definition they
// captured.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	_, ok := r.actions[name]
	delete(r.actions, name)
	r.mu.Unlock()
	if !ok {
		return core.NewError(core.ErrNotFound, "no action named %q", name)
	}
	r.log.Debug("unregistered action", "name", name)
	return nil
}

// List returns a sequence over a point-in-time snapshot of the catalog,
// sorted by name. The snapshot is taken when List is called: later
// registrations are not reflected in the returned sequence, and the
// sequence may be ranged over more than once.
func (r *Registry) List() iter.Seq[*core.ActionDefinition] {
	r.mu.RLock()
	defs := slices.Collect(maps.Values(r.actions))
	r.mu.RUnlock()
	slices.SortFunc(defs, func(a, b *core.ActionDefinition) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	return func(yield func(*core.ActionDefinition) bool) {
		for _, def := range defs {
			if !yield(def) {
				return
			}
		}
	}
}

// Descs returns the wire descriptions of the current catalog snapshot.
func (r *Registry) Descs() []core.ActionDesc {
	var descs []core.ActionDesc
	for def := range r.List() {
		descs = append(descs, def.Desc())
	}
	return descs
}
