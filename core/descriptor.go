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

	"github.com/invopop/jsonschema"
)

// A Kind identifies the shape of a TypeDescriptor.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindObject  Kind = "object"
)

// A TypeDescriptor is a runtime-checkable description of a value's shape.
// It is one of three variants: a primitive (string, number, integer or
// boolean), an enumeration over a fixed set of strings, or a composite
// object with an ordered list of named fields.
//
// Descriptors are created when an action is defined and never mutated
// afterwards. They must be acyclic: a composite may not reference itself,
// directly or through another composite.
type TypeDescriptor struct {
	Kind    Kind     `json:"kind"`
	Allowed []string `json:"allowed,omitempty"` // enum variants, exact match, case-sensitive
	Fields  []Field  `json:"fields,omitempty"`  // composite fields, in declaration order
}

// A Field is one named member of a composite descriptor. Composite values
// must provide exactly the declared fields; there are no optional members
// below the top level of a schema.
type Field struct {
	Name string          `json:"name"`
	Type *TypeDescriptor `json:"type"`
}

// String returns a string descriptor.
func String() *TypeDescriptor { return &TypeDescriptor{Kind: KindString} }

// Number returns a numeric descriptor accepting integral and fractional values.
func Number() *TypeDescriptor { return &TypeDescriptor{Kind: KindNumber} }

// Integer returns a numeric descriptor restricted to integral values.
func Integer() *TypeDescriptor { return &TypeDescriptor{Kind: KindInteger} }

// Boolean returns a boolean descriptor.
func Boolean() *TypeDescriptor { return &TypeDescriptor{Kind: KindBoolean} }

// Enum returns a descriptor that accepts exactly the given strings.
func Enum(allowed ...string) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindEnum, Allowed: allowed}
}

// Object returns a composite descriptor with the given fields, in order.
func Object(fields ...Field) *TypeDescriptor {
	return &TypeDescriptor{Kind: KindObject, Fields: fields}
}

// F constructs a composite field.
func F(name string, t *TypeDescriptor) Field { return Field{Name: name, Type: t} }

// Validate checks that the descriptor is well formed: known kind, enum with
// at least one variant, composite fields named, typed, unique and acyclic.
func (t *TypeDescriptor) Validate() error {
	return t.validate(map[*TypeDescriptor]bool{})
}

func (t *TypeDescriptor) validate(onPath map[*TypeDescriptor]bool) error {
	if t == nil {
		return fmt.Errorf("nil type descriptor")
	}
	if onPath[t] {
		return fmt.Errorf("cyclic type descriptor")
	}
	switch t.Kind {
	case KindString, KindNumber, KindInteger, KindBoolean:
		return nil
	case KindEnum:
		if len(t.Allowed) == 0 {
			return fmt.Errorf("enum descriptor has no variants")
		}
		return nil
	case KindObject:
		onPath[t] = true
		defer delete(onPath, t)
		seen := map[string]bool{}
		for _, f := range t.Fields {
			if f.Name == "" {
				return fmt.Errorf("composite field has empty name")
			}
			if seen[f.Name] {
				return fmt.Errorf("duplicate composite field %q", f.Name)
			}
			seen[f.Name] = true
			if err := f.Type.validate(onPath); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown descriptor kind %q", t.Kind)
	}
}

// Equal reports whether two descriptors are structurally equal. It is used
// when an action name is re-registered, to detect breaking schema changes.
func (t *TypeDescriptor) Equal(other *TypeDescriptor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Kind != other.Kind || len(t.Allowed) != len(other.Allowed) || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i, a := range t.Allowed {
		if a != other.Allowed[i] {
			return false
		}
	}
	for i, f := range t.Fields {
		if f.Name != other.Fields[i].Name || !f.Type.Equal(other.Fields[i].Type) {
			return false
		}
	}
	return true
}

// JSONSchema compiles the descriptor to a JSON Schema. Composites compile
// to closed objects: every declared field is required and additional
// properties are rejected, so undeclared fields surface as binding errors
// instead of drifting through silently.
func (t *TypeDescriptor) JSONSchema() *jsonschema.Schema {
	switch t.Kind {
	case KindString, KindNumber, KindInteger, KindBoolean:
		return &jsonschema.Schema{Type: string(t.Kind)}
	case KindEnum:
		s := &jsonschema.Schema{Type: "string"}
		for _, a := range t.Allowed {
			s.Enum = append(s.Enum, a)
		}
		return s
	case KindObject:
		s := &jsonschema.Schema{
			Type:                 "object",
			Properties:           jsonschema.NewProperties(),
			AdditionalProperties: jsonschema.FalseSchema,
		}
		for _, f := range t.Fields {
			s.Properties.Set(f.Name, f.Type.JSONSchema())
			s.Required = append(s.Required, f.Name)
		}
		return s
	default:
		return &jsonschema.Schema{}
	}
}

// UnmarshalJSON decodes the wire form of a descriptor and rejects unknown
// kinds early, so a catalog consumer cannot round-trip a malformed type.
func (t *TypeDescriptor) UnmarshalJSON(data []byte) error {
	type raw TypeDescriptor
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*t = TypeDescriptor(r)
	return t.Validate()
}
