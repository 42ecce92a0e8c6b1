// Copyright 2025 Terrakit Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrakit/terrakit/core"
	"github.com/terrakit/terrakit/registry"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	_, err := reg.Define(core.ActionConfig{
		Name:        "geocode",
		Description: "Resolve a query to coordinates.",
		Inputs: core.IoSchema{
			{Name: "query", Type: core.String(), Required: true},
		},
		Outputs: core.IoSchema{
			{Name: "lat", Type: core.Number(), Required: true},
			{Name: "lon", Type: core.Number(), Required: true},
		},
		Postconditions: []string{"has_coordinates"},
		Cost:           1,
		Value:          1,
		Handler: func(context.Context, map[string]any) (*core.HandlerResult, error) {
			return &core.HandlerResult{
				Outputs: map[string]any{"lat": 40.75, "lon": -73.99},
			}, nil
		},
	})
	require.NoError(t, err)
	_, err = reg.Define(core.ActionConfig{
		Name:          "download_dem",
		Inputs:        core.IoSchema{{Name: "lat", Type: core.Number(), Required: true}},
		Outputs:       core.IoSchema{{Name: "dem_path", Type: core.String(), Required: true}},
		Preconditions: []string{"has_coordinates"},
		Handler: func(context.Context, map[string]any) (*core.HandlerResult, error) {
			return &core.HandlerResult{Outputs: map[string]any{"dem_path": "/tmp/dem.png"}}, nil
		},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(reg, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func postInvoke(t *testing.T, ts *httptest.Server, action string, body any) (int, invokeResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(fmt.Sprintf("%s/actions/%s/invoke", ts.URL, action),
		"application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var ir invokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	return resp.StatusCode, ir
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListActions(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/actions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var descs []core.ActionDesc
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&descs))
	require.Len(t, descs, 2)
	assert.Equal(t, "download_dem", descs[0].Name)
	assert.Equal(t, "geocode", descs[1].Name)
	assert.Equal(t, []string{"has_coordinates"}, descs[0].Preconditions)
	require.Len(t, descs[1].Inputs, 1)
	assert.Equal(t, "query", descs[1].Inputs[0].Name)
	assert.True(t, descs[1].Inputs[0].Required)
}

func TestListActionsEmptyCollectionsAreArrays(t *testing.T) {
	ts, reg := newTestServer(t)
	_, err := reg.Define(core.ActionConfig{
		Name: "noop",
		Handler: func(context.Context, map[string]any) (*core.HandlerResult, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)
	resp, err := http.Get(ts.URL + "/actions")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "null")
	assert.Contains(t, string(body), `"inputs":[]`)
	assert.Contains(t, string(body), `"preconditions":[]`)
}

func TestGetAction(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/actions/geocode")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var desc core.ActionDesc
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&desc))
	assert.Equal(t, "geocode", desc.Name)
	assert.Equal(t, []string{"has_coordinates"}, desc.Postconditions)
}

func TestGetActionNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/actions/teleport")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var ir invokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	require.NotNil(t, ir.Error)
	assert.Equal(t, core.ErrNotFound, ir.Error.Kind)
}

func TestInvokeOK(t *testing.T) {
	ts, _ := newTestServer(t)
	code, ir := postInvoke(t, ts, "geocode", invokeRequest{
		Args:       map[string]any{"query": "10001"},
		WorldState: core.NewWorldState(),
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", ir.Status)
	assert.Equal(t, 40.75, ir.Outputs["lat"])
	assert.Equal(t, -73.99, ir.Outputs["lon"])
	assert.Equal(t, []string{"has_coordinates"}, ir.SatisfiedPostconditions)
	assert.Nil(t, ir.Error)
}

func TestInvokePreconditionFailed(t *testing.T) {
	ts, _ := newTestServer(t)
	code, ir := postInvoke(t, ts, "download_dem", invokeRequest{
		Args:       map[string]any{"lat": 40.75},
		WorldState: core.NewWorldState(),
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "precondition_failed", ir.Status)
	require.NotNil(t, ir.Error)
	assert.Equal(t, core.ErrPreconditionFailed, ir.Error.Kind)
	assert.Equal(t, []any{"has_coordinates"}, ir.Error.Details["missing"])
}

// syncBuffer serializes writes so server-goroutine log lines can be read
// from the test goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInvokeFailureLogsError(t *testing.T) {
	var buf syncBuffer
	ts, _ := newTestServer(t, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	code, _ := postInvoke(t, ts, "download_dem", invokeRequest{
		Args:       map[string]any{"lat": 40.75},
		WorldState: core.NewWorldState(),
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "request end")
	assert.Contains(t, buf.String(), "preconditions not met")
}

func TestInvokeBindingErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	tests := []struct {
		name string
		args map[string]any
		kind core.ErrorKind
	}{
		{"missing required", map[string]any{}, core.ErrMissingRequired},
		{"unknown field", map[string]any{"query": "x", "zoom": 3}, core.ErrUnknownField},
		{"type mismatch", map[string]any{"query": 42}, core.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ir := postInvoke(t, ts, "geocode", invokeRequest{Args: tt.args})
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "invalid_argument", ir.Status)
			require.NotNil(t, ir.Error)
			assert.Equal(t, tt.kind, ir.Error.Kind)
		})
	}
}

func TestInvokeUnknownAction(t *testing.T) {
	ts, _ := newTestServer(t)
	code, ir := postInvoke(t, ts, "teleport", invokeRequest{})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", ir.Status)
}

func TestInvokeMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/actions/geocode/invoke", "application/json",
		bytes.NewReader([]byte(`{"args": nope`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvokeHandlerError(t *testing.T) {
	ts, reg := newTestServer(t)
	_, err := reg.Define(core.ActionConfig{
		Name: "flaky",
		Handler: func(context.Context, map[string]any) (*core.HandlerResult, error) {
			return nil, fmt.Errorf("upstream 503")
		},
	})
	require.NoError(t, err)
	code, ir := postInvoke(t, ts, "flaky", invokeRequest{})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "handler_error", ir.Status)
	require.NotNil(t, ir.Error)
	assert.Contains(t, ir.Error.Detail, "upstream 503")
}

func TestInvokeContractViolation(t *testing.T) {
	ts, reg := newTestServer(t)
	_, err := reg.Define(core.ActionConfig{
		Name:    "leaky",
		Outputs: core.IoSchema{{Name: "ok", Type: core.Boolean(), Required: true}},
		Handler: func(context.Context, map[string]any) (*core.HandlerResult, error) {
			return &core.HandlerResult{
				Outputs: map[string]any{"ok": true, "debug": "undeclared"},
			}, nil
		},
	})
	require.NoError(t, err)
	code, ir := postInvoke(t, ts, "leaky", invokeRequest{})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "contract_violation", ir.Status)
}

func TestInvokeRateLimited(t *testing.T) {
	ts, _ := newTestServer(t, WithRateLimit(0.0001, 1))
	body := invokeRequest{Args: map[string]any{"query": "x"}}
	code, _ := postInvoke(t, ts, "geocode", body)
	require.Equal(t, http.StatusOK, code)
	code, ir := postInvoke(t, ts, "geocode", body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	require.NotNil(t, ir.Error)
	assert.Equal(t, core.ErrRateLimited, ir.Error.Kind)
}

func TestInvokeTimeoutCancelsHandler(t *testing.T) {
	ts, reg := newTestServer(t)
	_, err := reg.Define(core.ActionConfig{
		Name: "stall",
		Handler: func(ctx context.Context, _ map[string]any) (*core.HandlerResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)
	code, ir := postInvoke(t, ts, "stall", invokeRequest{TimeoutMS: 20})
	assert.Equal(t, 499, code)
	assert.Equal(t, "cancelled", ir.Status)
}
