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

package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/terrakit/terrakit/core/logger"
)

// A HandlerFunc is the leaf implementation an action wraps. It receives a
// mapping already validated against the action's input schema and returns
// a result whose Outputs must match the declared output schema. It may
// perform arbitrary external I/O, must honor ctx cancellation if it can,
// and must surface failures as an error rather than panicking.
//
// Handlers never see the registry; composition is the caller's business.
type HandlerFunc func(ctx context.Context, args map[string]any) (*HandlerResult, error)

// A HandlerResult carries a handler's outputs and, optionally, the subset
// of the action's declared postconditions it actually achieved. A nil
// Achieved means the full declared set: on success every declared
// postcondition is assumed satisfied unless the handler says otherwise.
type HandlerResult struct {
	Outputs  map[string]any
	Achieved []string
}

// An ActionConfig declares an action. It is the explicit, struct-literal
// form of registration: all metadata travels with the handler.
type ActionConfig struct {
	Name           string
	Description    string
	Inputs         IoSchema
	Outputs        IoSchema
	Preconditions  []string
	Postconditions []string
	Cost           float64
	Value          float64
	Handler        HandlerFunc
}

// An ActionDefinition is an immutable, registered capability: a typed
// input/output signature, a declarative pre/postcondition contract, a cost
// and value for planners to weigh, and the handler that does the work.
// Construct one with NewAction; it is never mutated afterwards.
type ActionDefinition struct {
	name           string
	description    string
	inputs         IoSchema
	outputs        IoSchema
	preconditions  []string
	postconditions []string
	cost           float64
	value          float64
	handler        HandlerFunc
}

// An ActionDesc is the wire description of an action, served by the
// catalog endpoints.
type ActionDesc struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Inputs         []PropertyDef `json:"inputs"`
	Outputs        []PropertyDef `json:"outputs"`
	Preconditions  []string      `json:"preconditions"`
	Postconditions []string      `json:"postconditions"`
	Cost           float64       `json:"cost"`
	Value          float64       `json:"value"`
}

// An InvocationResult is the successful outcome of running an action:
// the validated outputs plus the postconditions that now hold.
type InvocationResult struct {
	Outputs                 map[string]any `json:"outputs"`
	SatisfiedPostconditions []string       `json:"satisfied_postconditions"`
}

// NewAction validates a config and builds an immutable definition.
// It fails with an invalid_definition error if the name is empty, the
// handler is nil, the cost is negative, either schema repeats a property
// name, or any descriptor is malformed or cyclic.
func NewAction(cfg ActionConfig) (*ActionDefinition, error) {
	if cfg.Name == "" {
		return nil, NewError(ErrInvalidDefinition, "action name is empty")
	}
	if cfg.Handler == nil {
		return nil, NewError(ErrInvalidDefinition, "action %q has no handler", cfg.Name)
	}
	if cfg.Cost < 0 {
		return nil, NewError(ErrInvalidDefinition, "action %q has negative cost %v", cfg.Name, cfg.Cost)
	}
	if err := cfg.Inputs.Validate(); err != nil {
		return nil, WrapError(ErrInvalidDefinition, err, "action %q inputs: %v", cfg.Name, err)
	}
	if err := cfg.Outputs.Validate(); err != nil {
		return nil, WrapError(ErrInvalidDefinition, err, "action %q outputs: %v", cfg.Name, err)
	}
	return &ActionDefinition{
		name:           cfg.Name,
		description:    cfg.Description,
		inputs:         slices.Clone(cfg.Inputs),
		outputs:        slices.Clone(cfg.Outputs),
		preconditions:  normalizeConditions(cfg.Preconditions),
		postconditions: normalizeConditions(cfg.Postconditions),
		cost:           cfg.Cost,
		value:          cfg.Value,
		handler:        cfg.Handler,
	}, nil
}

// normalizeConditions sorts and dedupes a condition set.
func normalizeConditions(conds []string) []string {
	out := slices.Clone(conds)
	slices.Sort(out)
	return slices.Compact(out)
}

// Name returns the action's unique name, its only identity key.
func (a *ActionDefinition) Name() string { return a.name }

// Description returns the human-readable description.
func (a *ActionDefinition) Description() string { return a.description }

// Inputs returns the input schema.
func (a *ActionDefinition) Inputs() IoSchema { return slices.Clone(a.inputs) }

// Outputs returns the output schema.
func (a *ActionDefinition) Outputs() IoSchema { return slices.Clone(a.outputs) }

// Preconditions returns the sorted declared preconditions.
func (a *ActionDefinition) Preconditions() []string { return slices.Clone(a.preconditions) }

// Postconditions returns the sorted declared postconditions.
func (a *ActionDefinition) Postconditions() []string { return slices.Clone(a.postconditions) }

// Cost returns the action's non-negative cost.
func (a *ActionDefinition) Cost() float64 { return a.cost }

// Value returns the action's value.
func (a *ActionDefinition) Value() float64 { return a.value }

// Desc returns the wire description of the action. Collection fields are
// never nil, so empty schemas and contracts marshal as [] rather than null.
func (a *ActionDefinition) Desc() ActionDesc {
	return ActionDesc{
		Name:           a.name,
		Description:    a.description,
		Inputs:         append([]PropertyDef{}, a.inputs...),
		Outputs:        append([]PropertyDef{}, a.outputs...),
		Preconditions:  append([]string{}, a.preconditions...),
		Postconditions: append([]string{}, a.postconditions...),
		Cost:           a.cost,
		Value:          a.value,
	}
}

// Equal reports structural equality of two definitions, ignoring handlers.
// The registry logs a replacement whose schemas differ as a breaking change.
func (a *ActionDefinition) Equal(other *ActionDefinition) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.name == other.name &&
		a.description == other.description &&
		a.inputs.Equal(other.inputs) &&
		a.outputs.Equal(other.outputs) &&
		slices.Equal(a.preconditions, other.preconditions) &&
		slices.Equal(a.postconditions, other.postconditions) &&
		a.cost == other.cost &&
		a.value == other.value
}

// Execute binds args against the input schema, runs the handler, and
// validates its result against the output schema. A binding failure is a
// caller error and the handler is never invoked; a handler failure is
// wrapped as handler_error with the cause preserved; an output that does
// not match the declared schema, or a claimed postcondition the action
// never declared, is a contract_violation, because catching those is the
// registry's job, not the caller's.
func (a *ActionDefinition) Execute(ctx context.Context, args map[string]any) (res *InvocationResult, err error) {
	bound, err := a.inputs.Bind(args)
	if err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			err = NewError(ErrHandlerError, "action %q: handler panic: %v", a.name, p)
		}
	}()
	hres, err := a.handler(ctx, bound)
	if err != nil {
		return nil, WrapError(ErrHandlerError, err, "action %q: %v", a.name, err)
	}
	if hres == nil {
		hres = &HandlerResult{}
	}
	outputs := hres.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	if bound, err := a.outputs.Bind(outputs); err == nil {
		outputs = bound
	} else {
		logger.FromContext(ctx).Error("action output violates declared schema",
			"action", a.name, "err", err)
		return nil, WrapError(ErrContractViolation, err, "action %q: %v", a.name, err)
	}
	satisfied, err := a.satisfiedPostconditions(hres.Achieved)
	if err != nil {
		logger.FromContext(ctx).Error("action claimed undeclared postcondition",
			"action", a.name, "err", err)
		return nil, err
	}
	return &InvocationResult{
		Outputs:                 outputs,
		SatisfiedPostconditions: satisfied,
	}, nil
}

// satisfiedPostconditions resolves the handler's achieved set. The engine
// does not decide condition truth: a successful run satisfies every
// declared postcondition unless the handler reported a reduced subset.
func (a *ActionDefinition) satisfiedPostconditions(achieved []string) ([]string, error) {
	if achieved == nil {
		return a.Postconditions(), nil
	}
	declared := NewWorldState(a.postconditions...)
	for _, c := range achieved {
		if !declared.Has(c) {
			return nil, NewError(ErrContractViolation,
				"action %q claimed undeclared postcondition %q", a.name, c)
		}
	}
	return normalizeConditions(achieved), nil
}

// String implements fmt.Stringer for logs.
func (a *ActionDefinition) String() string {
	return fmt.Sprintf("action %q (cost=%v value=%v)", a.name, a.cost, a.value)
}
