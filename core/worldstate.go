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
	"slices"
)

// A WorldState is the set of condition names the caller asserts to be true
// at invocation time. It is an opaque snapshot: the registry never infers
// condition truth, it only compares set membership. On the wire it is an
// array of strings.
type WorldState map[string]struct{}

// NewWorldState builds a world state from condition names.
func NewWorldState(conditions ...string) WorldState {
	ws := make(WorldState, len(conditions))
	for _, c := range conditions {
		ws[c] = struct{}{}
	}
	return ws
}

// Has reports whether the condition is present.
func (ws WorldState) Has(condition string) bool {
	_, ok := ws[condition]
	return ok
}

// Missing returns the conditions not present in the state, sorted.
func (ws WorldState) Missing(conditions []string) []string {
	var missing []string
	for _, c := range conditions {
		if !ws.Has(c) {
			missing = append(missing, c)
		}
	}
	slices.Sort(missing)
	return missing
}

// Conditions returns the sorted member list.
func (ws WorldState) Conditions() []string {
	conds := make([]string, 0, len(ws))
	for c := range ws {
		conds = append(conds, c)
	}
	slices.Sort(conds)
	return conds
}

// MarshalJSON encodes the state as a sorted array of strings.
func (ws WorldState) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.Conditions())
}

// UnmarshalJSON decodes an array of strings.
func (ws *WorldState) UnmarshalJSON(data []byte) error {
	var conds []string
	if err := json.Unmarshal(data, &conds); err != nil {
		return err
	}
	*ws = NewWorldState(conds...)
	return nil
}
