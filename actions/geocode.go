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

// Package actions provides the GIS leaf actions terrakit ships with:
// geocoding, DEM download and the heightmap pipeline. Each is an ordinary
// handler behind the action interface; the registry never inspects their
// internals, only their declared schema and contract.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/terrakit/terrakit/core"
	"github.com/yosida95/uritemplate/v3"
)

// Condition names shared by the GIS actions.
const (
	CondHasCoordinates = "has_coordinates"
	CondHasDEM         = "has_dem"
	CondHasHeightmap   = "has_heightmap"
)

var geocodeTemplate = uritemplate.MustNew("{+base}/search{?q,format,limit}")

// GeocoderConfig configures the geocode action. BaseURL points at a
// Nominatim-compatible endpoint.
type GeocoderConfig struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// geocodeHit is the subset of a Nominatim search hit the action consumes.
// Nominatim serializes coordinates as strings.
type geocodeHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// NewGeocodeAction builds the geocode definition: free-text query in,
// lat/lon out, postcondition has_coordinates.
func NewGeocodeAction(cfg GeocoderConfig) (*core.ActionDefinition, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return core.NewAction(core.ActionConfig{
		Name:        "geocode",
		Description: "Resolve a free-text address or place query to WGS84 coordinates.",
		Inputs: core.IoSchema{
			{Name: "query", Type: core.String(), Required: true},
		},
		Outputs: core.IoSchema{
			{Name: "lat", Type: core.Number(), Required: true},
			{Name: "lon", Type: core.Number(), Required: true},
		},
		Postconditions: []string{CondHasCoordinates},
		Cost:           1,
		Value:          1,
		Handler: func(ctx context.Context, args map[string]any) (*core.HandlerResult, error) {
			query, _ := args["query"].(string)
			url, err := geocodeTemplate.Expand(uritemplate.Values{
				"base":   uritemplate.String(cfg.BaseURL),
				"q":      uritemplate.String(query),
				"format": uritemplate.String("json"),
				"limit":  uritemplate.String("1"),
			})
			if err != nil {
				return nil, fmt.Errorf("building geocode URL: %w", err)
			}
			hit, err := fetchGeocode(ctx, client, url, cfg.UserAgent)
			if err != nil {
				return nil, err
			}
			lat, err := strconv.ParseFloat(hit.Lat, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing latitude %q: %w", hit.Lat, err)
			}
			lon, err := strconv.ParseFloat(hit.Lon, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing longitude %q: %w", hit.Lon, err)
			}
			return &core.HandlerResult{
				Outputs: map[string]any{"lat": lat, "lon": lon},
			}, nil
		},
	})
}

func fetchGeocode(ctx context.Context, client *http.Client, url, userAgent string) (*geocodeHit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}
	var hits []geocodeHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decoding geocoder response: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("geocoder found no results")
	}
	return &hits[0], nil
}
