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
	"errors"
	"fmt"
	"net/http"
)

// An ErrorKind is the machine-readable discriminator carried by every error
// the registry returns. Gateways serialize it verbatim so remote callers
// never have to parse error strings.
type ErrorKind string

const (
	ErrNotFound           ErrorKind = "not_found"
	ErrInvalidDefinition  ErrorKind = "invalid_definition"
	ErrPreconditionFailed ErrorKind = "precondition_failed"
	ErrMissingRequired    ErrorKind = "missing_required"
	ErrTypeMismatch       ErrorKind = "type_mismatch"
	ErrUnknownField       ErrorKind = "unknown_field"
	ErrHandlerError       ErrorKind = "handler_error"
	ErrContractViolation  ErrorKind = "contract_violation"
	ErrCancelled          ErrorKind = "cancelled"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrInternal           ErrorKind = "internal"
)

// errorKindToHTTPCode maps error kinds to HTTP status codes.
var errorKindToHTTPCode = map[ErrorKind]int{
	ErrNotFound:           http.StatusNotFound,        // 404
	ErrInvalidDefinition:  http.StatusBadRequest,      // 400
	ErrPreconditionFailed: http.StatusBadRequest,      // 400
	ErrMissingRequired:    http.StatusBadRequest,      // 400
	ErrTypeMismatch:       http.StatusBadRequest,      // 400
	ErrUnknownField:       http.StatusBadRequest,      // 400
	ErrHandlerError:       http.StatusBadGateway,      // 502: the leaf failed, not the registry
	ErrContractViolation:  http.StatusInternalServerError,
	ErrCancelled:          499, // Client Closed Request (non-standard but common)
	ErrRateLimited:        http.StatusTooManyRequests, // 429
	ErrInternal:           http.StatusInternalServerError,
}

// HTTPStatusCode returns the HTTP status code for an error kind.
func HTTPStatusCode(kind ErrorKind) int {
	if code, ok := errorKindToHTTPCode[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// An Error is the registry's error type. Details carries structured
// diagnostics, such as the dotted field path of a type mismatch or the
// set of missing preconditions.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"detail"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any. Handler failures are passed
// through unmodified so callers can inspect the leaf's own error.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates an Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error recording cause, preserving it for errors.As
// and errors.Is chains.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetail returns e with the given detail attached.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the ErrorKind from err, or ErrInternal if err is not a
// registry error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}
