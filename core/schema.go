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
	"encoding/json"
	"fmt"
	"maps"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// A PropertyDef is one named, typed parameter of an action's input or
// output signature.
type PropertyDef struct {
	Name     string          `json:"name"`
	Type     *TypeDescriptor `json:"type"`
	Required bool            `json:"required"`
}

// An IoSchema is an ordered sequence of property definitions. An empty
// schema is valid: the action takes or returns nothing.
type IoSchema []PropertyDef

// Validate checks that the schema is well formed: names present and unique
// within this schema, every descriptor valid and acyclic.
func (s IoSchema) Validate() error {
	seen := map[string]bool{}
	for _, p := range s {
		if p.Name == "" {
			return fmt.Errorf("property with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate property %q", p.Name)
		}
		seen[p.Name] = true
		if err := p.Type.Validate(); err != nil {
			return fmt.Errorf("property %q: %w", p.Name, err)
		}
	}
	return nil
}

// Equal reports structural equality of two schemas.
func (s IoSchema) Equal(other IoSchema) bool {
	if len(s) != len(other) {
		return false
	}
	for i, p := range s {
		o := other[i]
		if p.Name != o.Name || p.Required != o.Required || !p.Type.Equal(o.Type) {
			return false
		}
	}
	return true
}

// JSONSchema compiles the schema to a closed JSON Schema object: required
// properties listed, additional properties rejected.
func (s IoSchema) JSONSchema() *jsonschema.Schema {
	js := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	for _, p := range s {
		js.Properties.Set(p.Name, p.Type.JSONSchema())
		if p.Required {
			js.Required = append(js.Required, p.Name)
		}
	}
	return js
}

// Bind validates args against the schema and returns the bound mapping.
// All required properties must be present, undeclared properties are
// rejected rather than ignored, and every value must match its declared
// descriptor. Optional properties absent from args are simply absent from
// the result; no defaults are injected.
//
// The returned mapping is a copy; callers may retain it across the
// handler call without aliasing the request body.
func (s IoSchema) Bind(args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := validateBytes(s.JSONSchema(), args); err != nil {
		return nil, err
	}
	bound := make(map[string]any, len(args))
	maps.Copy(bound, args)
	return bound, nil
}

// validateBytes runs a compiled schema over a value and converts the
// first validation failure into the binding error taxonomy.
func validateBytes(schema *jsonschema.Schema, value any) error {
	schemaBytes, err := schema.MarshalJSON()
	if err != nil {
		return NewError(ErrInternal, "schema is not valid: %v", err)
	}
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return NewError(ErrTypeMismatch, "value is not a valid JSON type: %v", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(valueBytes),
	)
	if err != nil {
		return NewError(ErrInternal, "schema validation: %v", err)
	}
	if result.Valid() {
		return nil
	}
	return bindingError(result.Errors()[0])
}

// bindingError maps a gojsonschema result error onto the binding taxonomy,
// recording the dotted field path for diagnostics.
func bindingError(re gojsonschema.ResultError) error {
	details := re.Details()
	switch re.Type() {
	case "required":
		name := fieldPath(re.Field(), details["property"])
		return NewError(ErrMissingRequired, "missing required field %q", name).
			WithDetail("field", name)
	case "additional_property_not_allowed":
		name := fieldPath(re.Field(), details["property"])
		return NewError(ErrUnknownField, "unknown field %q", name).
			WithDetail("field", name)
	case "invalid_type":
		return NewError(ErrTypeMismatch, "field %q: expected %v, got %v",
			re.Field(), details["expected"], details["given"]).
			WithDetail("field", re.Field()).
			WithDetail("expected", details["expected"]).
			WithDetail("got", details["given"])
	case "enum":
		return NewError(ErrTypeMismatch, "field %q: value not in %v",
			re.Field(), details["allowed"]).
			WithDetail("field", re.Field()).
			WithDetail("expected", details["allowed"])
	default:
		return NewError(ErrTypeMismatch, "field %q: %s", re.Field(), re.Description()).
			WithDetail("field", re.Field())
	}
}

// fieldPath joins gojsonschema's parent path with a property name from the
// error details. The library reports the document root as "(root)".
func fieldPath(parent string, property any) string {
	name, _ := property.(string)
	if parent == "" || parent == "(root)" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + "." + name
}
