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

/*
Package core implements terrakit's action model: runtime type descriptors,
input/output schemas, and immutable action definitions with declarative
pre- and postconditions.

# Actions

An action is a registered unit of external capability with typed I/O and a
condition contract a planning agent can reason about. Declare one with an
explicit config and register it on a registry:

	def, err := core.NewAction(core.ActionConfig{
		Name: "geocode",
		Inputs: core.IoSchema{
			{Name: "query", Type: core.String(), Required: true},
		},
		Outputs: core.IoSchema{
			{Name: "lat", Type: core.Number(), Required: true},
			{Name: "lon", Type: core.Number(), Required: true},
		},
		Postconditions: []string{"has_coordinates"},
		Handler: func(ctx context.Context, args map[string]any) (*core.HandlerResult, error) {
			// call the geocoder
		},
	})

# Type descriptors

Values are validated at runtime against TypeDescriptors: primitives, string
enumerations and composite objects. Schemas are closed - undeclared fields
are rejected rather than ignored, so caller typos and handler schema drift
surface as errors instead of passing through silently.

# Conditions

Preconditions and postconditions are opaque names matched against the
caller-supplied world state by set membership. The registry never decides
whether a condition is actually true; that contract belongs to the caller
and its planner.
*/
package core
