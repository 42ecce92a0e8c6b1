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

package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/terrakit/terrakit/core"
	"github.com/terrakit/terrakit/core/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// An Invocation is the handle for one action run started with Start. It
// resolves exactly once: wait on Done or call Wait for the outcome.
//
// Cancel asks the run to stop. A run that has not reached its handler yet
// resolves immediately with a cancelled error; a running handler receives
// the cancellation through its context. A handler that ignores its context
// may keep executing in the background after the invocation has resolved —
// the handle reports cancelled either way, and the goroutine exits when
// the handler returns.
type Invocation struct {
	id     string
	action string
	cancel context.CancelFunc
	done   chan struct{}

	// set exactly once before done is closed
	result *core.InvocationResult
	err    error
}

// ID returns the unique invocation ID.
func (inv *Invocation) ID() string { return inv.id }

// Action returns the invoked action name.
func (inv *Invocation) Action() string { return inv.action }

// Done returns a channel closed when the invocation has resolved.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Cancel requests cancellation. It is safe to call more than once and
// after the invocation has resolved.
func (inv *Invocation) Cancel() { inv.cancel() }

// Result returns the outcome. It must not be called before Done is closed.
func (inv *Invocation) Result() (*core.InvocationResult, error) {
	return inv.result, inv.err
}

// Wait blocks until the invocation resolves or ctx expires. An expired ctx
// cancels the invocation and returns a cancelled error; the handler may
// still be finishing in the background.
func (inv *Invocation) Wait(ctx context.Context) (*core.InvocationResult, error) {
	select {
	case <-inv.done:
		return inv.result, inv.err
	case <-ctx.Done():
		inv.cancel()
		return nil, core.WrapError(core.ErrCancelled, ctx.Err(),
			"invocation %s: %v", inv.id, ctx.Err())
	}
}

// Invoke runs an action synchronously: look up the definition, check its
// preconditions against the supplied world state, bind the arguments,
// execute the handler, validate the outputs, and report which declared
// postconditions now hold. Errors carry the taxonomy kinds; nothing here
// is ever fatal to the registry.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, world core.WorldState) (*core.InvocationResult, error) {
	return r.Start(ctx, name, args, world).Wait(ctx)
}

// Start begins an asynchronous invocation and returns its handle. The
// definition is captured before the goroutine starts, so a concurrent
// replace or unregister cannot affect this run.
func (r *Registry) Start(ctx context.Context, name string, args map[string]any, world core.WorldState) *Invocation {
	ctx, cancel := context.WithCancel(ctx)
	inv := &Invocation{
		id:     uuid.NewString(),
		action: name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer cancel()
		defer close(inv.done)
		inv.result, inv.err = r.invoke(ctx, inv.id, name, args, world)
	}()
	return inv
}

// invoke is the engine proper. Order matters: lookup, precondition check,
// then binding, and only then the handler. The handler runs without any
// registry lock held and with at most the configured concurrency.
func (r *Registry) invoke(ctx context.Context, id, name string, args map[string]any, world core.WorldState) (*core.InvocationResult, error) {
	log := logger.FromContext(ctx).With("invocation", id, "action", name)

	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if missing := world.Missing(def.Preconditions()); len(missing) > 0 {
		log.Debug("preconditions not met", "missing", missing)
		return nil, core.NewError(core.ErrPreconditionFailed,
			"action %q: preconditions not met", name).
			WithDetail("missing", missing)
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, core.WrapError(core.ErrCancelled, err,
				"action %q: cancelled while queued", name)
		}
		defer r.sem.Release(1)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.ErrCancelled, err,
			"action %q: cancelled before handler start", name)
	}

	ctx, span := r.tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(
		attribute.String("terrakit.invocation.id", id),
		attribute.String("terrakit.action.name", name),
	)

	res, err := def.Execute(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && isContextError(err) {
			err = core.WrapError(core.ErrCancelled, ctxErr,
				"action %q: cancelled during handler", name)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(core.KindOf(err)))
		log.Debug("invocation failed", "kind", core.KindOf(err), "err", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	log.Debug("invocation complete", "satisfied", res.SatisfiedPostconditions)
	return res, nil
}

// isContextError reports whether err stems from context cancellation or
// deadline expiry anywhere in its chain.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
