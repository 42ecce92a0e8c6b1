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

// Package gateway exposes a Registry to remote callers over HTTP. The
// gateway holds no session or ordering state between requests; every
// invocation is self-contained, which is what lets one Registry serve
// arbitrarily many concurrent requests.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/terrakit/terrakit/core"
	"github.com/terrakit/terrakit/core/logger"
	"github.com/terrakit/terrakit/registry"
	"golang.org/x/time/rate"
)

// A Server serves the action catalog and invocation endpoints:
//
//	GET  /api/health                 liveness
//	GET  /actions                    catalog snapshot
//	GET  /actions/{name}             one definition, or 404
//	POST /actions/{name}/invoke      run an action
type Server struct {
	reg           *registry.Registry
	log           *slog.Logger
	limiter       *rate.Limiter
	invokeTimeout time.Duration
}

// An Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithRateLimit caps invocations at rps requests per second with the given
// burst. Catalog reads are not limited.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithInvokeTimeout bounds every invocation, even when the request does
// not ask for one. Zero means no server-side bound.
func WithInvokeTimeout(d time.Duration) Option {
	return func(s *Server) { s.invokeTimeout = d }
}

// New creates a Server around reg.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{reg: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /api/health", func(w http.ResponseWriter, _ *http.Request) error {
		return nil
	})
	s.handle(mux, "GET /actions", s.handleListActions)
	s.handle(mux, "GET /actions/{name}", s.handleGetAction)
	s.handle(mux, "POST /actions/{name}/invoke", s.handleInvoke)
	return mux
}

// invokeRequest is the wire format of an invocation request. world_state
// is the caller's snapshot of currently true condition names; timeout_ms
// optionally bounds the run.
type invokeRequest struct {
	Args       map[string]any  `json:"args"`
	WorldState core.WorldState `json:"world_state"`
	TimeoutMS  int64           `json:"timeout_ms,omitempty"`
}

// invokeResponse is the wire format of an invocation outcome. Status is
// coarse ("ok", "precondition_failed", ...); Error.Kind is the precise
// machine-readable discriminator.
type invokeResponse struct {
	Status                  string         `json:"status"`
	Outputs                 map[string]any `json:"outputs,omitempty"`
	SatisfiedPostconditions []string       `json:"satisfied_postconditions,omitempty"`
	Error                   *wireError     `json:"error,omitempty"`
}

type wireError struct {
	Kind    core.ErrorKind `json:"kind"`
	Detail  string         `json:"detail"`
	Details map[string]any `json:"details,omitempty"`
}

// handleListActions serves the current catalog snapshot.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) error {
	descs := s.reg.Descs()
	if descs == nil {
		descs = []core.ActionDesc{}
	}
	return writeJSON(r.Context(), w, http.StatusOK, descs)
}

// handleGetAction serves a single definition.
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) error {
	def, err := s.reg.Get(r.PathValue("name"))
	if err != nil {
		return err
	}
	return writeJSON(r.Context(), w, http.StatusOK, def.Desc())
}

// handleInvoke runs an action and serializes the result. Engine errors map
// to distinct machine-readable kinds; there is no bare 500 without a
// discriminator.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	name := r.PathValue("name")
	if s.limiter != nil && !s.limiter.Allow() {
		return core.NewError(core.ErrRateLimited, "invocation rate limit exceeded")
	}
	var req invokeRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return core.NewError(core.ErrTypeMismatch, "malformed request body: %v", err)
	}
	timeout := s.invokeTimeout
	if req.TimeoutMS > 0 {
		t := time.Duration(req.TimeoutMS) * time.Millisecond
		if timeout == 0 || t < timeout {
			timeout = t
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := s.reg.Invoke(ctx, name, req.Args, req.WorldState)
	if err != nil {
		return err
	}
	return writeJSON(ctx, w, http.StatusOK, invokeResponse{
		Status:                  "ok",
		Outputs:                 res.Outputs,
		SatisfiedPostconditions: res.SatisfiedPostconditions,
	})
}

// statusOf collapses an error kind into the coarse wire status.
func statusOf(kind core.ErrorKind) string {
	switch kind {
	case core.ErrPreconditionFailed, core.ErrHandlerError,
		core.ErrContractViolation, core.ErrNotFound,
		core.ErrCancelled, core.ErrRateLimited:
		return string(kind)
	case core.ErrMissingRequired, core.ErrTypeMismatch,
		core.ErrUnknownField, core.ErrInvalidDefinition:
		return "invalid_argument"
	default:
		return "error"
	}
}

// errorResponse builds the wire form of a failed invocation.
func errorResponse(err error) invokeResponse {
	kind := core.KindOf(err)
	we := &wireError{Kind: kind, Detail: err.Error()}
	var ce *core.Error
	if errors.As(err, &ce) {
		we.Details = ce.Details
	}
	return invokeResponse{Status: statusOf(kind), Error: we}
}

// handle registers pattern on mux with a handler that adapts f's error to
// an HTTP response. Every request gets its own ID and a request-scoped
// logger stored in the context.
func (s *Server) handle(mux *http.ServeMux, pattern string, f func(w http.ResponseWriter, r *http.Request) error) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With("reqID", uuid.NewString())
		log.Info("request start", "method", r.Method, "path", r.URL.Path)
		ctx := logger.NewContext(r.Context(), log)
		err := f(w, r.WithContext(ctx))
		if err != nil {
			log.Error("request end", "err", err)
			kind := core.KindOf(err)
			if werr := writeJSON(ctx, w, core.HTTPStatusCode(kind), errorResponse(err)); werr != nil {
				log.Error("writing error response", "err", werr)
			}
			return
		}
		log.Info("request end")
	})
}

// writeJSON writes value with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, code int, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		logger.FromContext(ctx).Error("writing output", "err", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
