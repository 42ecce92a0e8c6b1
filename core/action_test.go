// Copyright 2025 Terrakit Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func echoHandler(outputs map[string]any) HandlerFunc {
	return func(context.Context, map[string]any) (*HandlerResult, error) {
		return &HandlerResult{Outputs: outputs}, nil
	}
}

func geocodeConfig(h HandlerFunc) ActionConfig {
	return ActionConfig{
		Name:        "geocode",
		Description: "Resolve a query to coordinates.",
		Inputs: IoSchema{
			{Name: "query", Type: String(), Required: true},
		},
		Outputs: IoSchema{
			{Name: "lat", Type: Number(), Required: true},
			{Name: "lon", Type: Number(), Required: true},
		},
		Postconditions: []string{"has_coordinates"},
		Cost:           1,
		Value:          1,
		Handler:        h,
	}
}

func TestNewActionInvalidDefinition(t *testing.T) {
	h := echoHandler(nil)
	tests := []struct {
		name string
		cfg  ActionConfig
	}{
		{"empty name", ActionConfig{Handler: h}},
		{"nil handler", ActionConfig{Name: "x"}},
		{"negative cost", ActionConfig{Name: "x", Cost: -1, Handler: h}},
		{"duplicate input", ActionConfig{
			Name: "x",
			Inputs: IoSchema{
				{Name: "a", Type: String()},
				{Name: "a", Type: Number()},
			},
			Handler: h,
		}},
		{"cyclic descriptor", func() ActionConfig {
			cyc := Object()
			cyc.Fields = []Field{F("self", cyc)}
			return ActionConfig{
				Name:    "x",
				Outputs: IoSchema{{Name: "v", Type: cyc}},
				Handler: h,
			}
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAction(tt.cfg)
			if KindOf(err) != ErrInvalidDefinition {
				t.Errorf("NewAction() = %v, want invalid_definition", err)
			}
		})
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	def, err := NewAction(geocodeConfig(echoHandler(map[string]any{"lat": 40.75, "lon": -73.99})))
	if err != nil {
		t.Fatal(err)
	}
	res, err := def.Execute(context.Background(), map[string]any{"query": "10001"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outputs["lat"] != 40.75 || res.Outputs["lon"] != -73.99 {
		t.Errorf("outputs = %v", res.Outputs)
	}
	if want := []string{"has_coordinates"}; !slices.Equal(res.SatisfiedPostconditions, want) {
		t.Errorf("satisfied = %v, want %v", res.SatisfiedPostconditions, want)
	}
}

func TestExecuteBindingFailureSkipsHandler(t *testing.T) {
	calls := 0
	def, err := NewAction(geocodeConfig(func(context.Context, map[string]any) (*HandlerResult, error) {
		calls++
		return nil, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.Execute(context.Background(), map[string]any{})
	if KindOf(err) != ErrMissingRequired {
		t.Errorf("Execute() = %v, want missing_required", err)
	}
	if calls != 0 {
		t.Errorf("handler called %d times, want 0", calls)
	}
}

func TestExecuteHandlerErrorPreservesCause(t *testing.T) {
	cause := errors.New("upstream timeout")
	def, err := NewAction(geocodeConfig(func(context.Context, map[string]any) (*HandlerResult, error) {
		return nil, cause
	}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.Execute(context.Background(), map[string]any{"query": "x"})
	if KindOf(err) != ErrHandlerError {
		t.Fatalf("Execute() = %v, want handler_error", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved through handler_error wrap")
	}
}

func TestExecuteHandlerPanicIsHandlerError(t *testing.T) {
	def, err := NewAction(geocodeConfig(func(context.Context, map[string]any) (*HandlerResult, error) {
		panic("leaf blew up")
	}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.Execute(context.Background(), map[string]any{"query": "x"})
	if KindOf(err) != ErrHandlerError {
		t.Errorf("Execute() = %v, want handler_error", err)
	}
}

func TestExecuteContractViolation(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]any
	}{
		{"extra undeclared field", map[string]any{"lat": 1.0, "lon": 2.0, "alt": 3.0}},
		{"mistyped field", map[string]any{"lat": "40.75", "lon": -73.99}},
		{"missing declared field", map[string]any{"lat": 40.75}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := NewAction(geocodeConfig(echoHandler(tt.outputs)))
			if err != nil {
				t.Fatal(err)
			}
			_, err = def.Execute(context.Background(), map[string]any{"query": "x"})
			if KindOf(err) != ErrContractViolation {
				t.Errorf("Execute() = %v, want contract_violation", err)
			}
		})
	}
}

func TestExecutePartialPostconditions(t *testing.T) {
	cfg := geocodeConfig(nil)
	cfg.Postconditions = []string{"has_coordinates", "has_address"}
	cfg.Handler = func(context.Context, map[string]any) (*HandlerResult, error) {
		return &HandlerResult{
			Outputs:  map[string]any{"lat": 1.0, "lon": 2.0},
			Achieved: []string{"has_coordinates"},
		}, nil
	}
	def, err := NewAction(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := def.Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"has_coordinates"}; !slices.Equal(res.SatisfiedPostconditions, want) {
		t.Errorf("satisfied = %v, want %v", res.SatisfiedPostconditions, want)
	}
}

func TestExecuteUndeclaredPostconditionIsViolation(t *testing.T) {
	cfg := geocodeConfig(func(context.Context, map[string]any) (*HandlerResult, error) {
		return &HandlerResult{
			Outputs:  map[string]any{"lat": 1.0, "lon": 2.0},
			Achieved: []string{"world_peace"},
		}, nil
	})
	def, err := NewAction(cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = def.Execute(context.Background(), map[string]any{"query": "x"})
	if KindOf(err) != ErrContractViolation {
		t.Errorf("Execute() = %v, want contract_violation", err)
	}
}

func TestActionDefinitionEqual(t *testing.T) {
	a, err := NewAction(geocodeConfig(echoHandler(nil)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewAction(geocodeConfig(func(context.Context, map[string]any) (*HandlerResult, error) {
		return nil, fmt.Errorf("different handler")
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Error("definitions differing only by handler compare unequal")
	}
	cfg := geocodeConfig(echoHandler(nil))
	cfg.Cost = 9
	c, err := NewAction(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(c) {
		t.Error("definitions with different cost compare equal")
	}
}

func TestDescEmptyCollectionsMarshalAsArrays(t *testing.T) {
	def, err := NewAction(ActionConfig{
		Name:    "noop",
		Handler: echoHandler(nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(def.Desc())
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`"inputs":[]`, `"outputs":[]`, `"preconditions":[]`, `"postconditions":[]`} {
		if !strings.Contains(got, want) {
			t.Errorf("Desc() JSON = %s, missing %s", got, want)
		}
	}
	if strings.Contains(got, "null") {
		t.Errorf("Desc() JSON = %s, contains null", got)
	}
}

func TestConditionsNormalized(t *testing.T) {
	cfg := geocodeConfig(echoHandler(nil))
	cfg.Preconditions = []string{"b", "a", "b"}
	def, err := NewAction(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b"}; !slices.Equal(def.Preconditions(), want) {
		t.Errorf("preconditions = %v, want %v", def.Preconditions(), want)
	}
}
