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

package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/terrakit/terrakit/core"
	"github.com/terrakit/terrakit/registry"
	"github.com/yosida95/uritemplate/v3"
)

var demTileTemplate = uritemplate.MustNew("{+base}/{z}/{x}/{y}.png")

// TerrainConfig configures the download_dem action. TileBaseURL points at
// a terrarium-encoded elevation tile set; Dir is where tiles land.
type TerrainConfig struct {
	TileBaseURL string
	Dir         string
	Client      *http.Client
}

// defaultZoom applies when the caller omits the optional zoom input.
// Defaults are the handler's business, not the schema's.
const defaultZoom = 10

// NewDownloadDEMAction builds the download_dem definition: coordinates in,
// path of the fetched elevation raster out. It requires has_coordinates
// and establishes has_dem.
func NewDownloadDEMAction(cfg TerrainConfig) (*core.ActionDefinition, error) {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return core.NewAction(core.ActionConfig{
		Name:        "download_dem",
		Description: "Fetch the elevation raster tile covering a coordinate.",
		Inputs: core.IoSchema{
			{Name: "lat", Type: core.Number(), Required: true},
			{Name: "lon", Type: core.Number(), Required: true},
			{Name: "zoom", Type: core.Integer(), Required: false},
		},
		Outputs: core.IoSchema{
			{Name: "dem_path", Type: core.String(), Required: true},
		},
		Preconditions:  []string{CondHasCoordinates},
		Postconditions: []string{CondHasDEM},
		Cost:           5,
		Value:          2,
		Handler: func(ctx context.Context, args map[string]any) (*core.HandlerResult, error) {
			lat := asFloat(args["lat"])
			lon := asFloat(args["lon"])
			zoom := defaultZoom
			if z, ok := args["zoom"]; ok {
				zoom = int(asFloat(z))
			}
			x, y := tileAt(lat, lon, zoom)
			url, err := demTileTemplate.Expand(uritemplate.Values{
				"base": uritemplate.String(cfg.TileBaseURL),
				"z":    uritemplate.String(strconv.Itoa(zoom)),
				"x":    uritemplate.String(strconv.Itoa(x)),
				"y":    uritemplate.String(strconv.Itoa(y)),
			})
			if err != nil {
				return nil, fmt.Errorf("building tile URL: %w", err)
			}
			path := filepath.Join(cfg.Dir, fmt.Sprintf("dem_%d_%d_%d.png", zoom, x, y))
			if err := download(ctx, client, url, path); err != nil {
				return nil, err
			}
			return &core.HandlerResult{
				Outputs: map[string]any{"dem_path": path},
			}, nil
		},
	})
}

// PipelineConfig configures the build_heightmap action. Tool is the raster
// conversion binary run as a subprocess, gdal_translate by default.
type PipelineConfig struct {
	Tool string
	Dir  string
}

// NewBuildHeightmapAction builds the build_heightmap definition: it shells
// out to the raster tool to convert a DEM into a heightmap. It requires
// has_dem and establishes has_heightmap.
func NewBuildHeightmapAction(cfg PipelineConfig) (*core.ActionDefinition, error) {
	tool := cfg.Tool
	if tool == "" {
		tool = "gdal_translate"
	}
	return core.NewAction(core.ActionConfig{
		Name:        "build_heightmap",
		Description: "Convert an elevation raster into a heightmap image.",
		Inputs: core.IoSchema{
			{Name: "dem_path", Type: core.String(), Required: true},
			{Name: "format", Type: core.Enum("png", "tif"), Required: false},
		},
		Outputs: core.IoSchema{
			{Name: "heightmap_path", Type: core.String(), Required: true},
		},
		Preconditions:  []string{CondHasDEM},
		Postconditions: []string{CondHasHeightmap},
		Cost:           3,
		Value:          4,
		Handler: func(ctx context.Context, args map[string]any) (*core.HandlerResult, error) {
			demPath, _ := args["dem_path"].(string)
			format := "png"
			if f, ok := args["format"].(string); ok {
				format = f
			}
			base := strings.TrimSuffix(filepath.Base(demPath), filepath.Ext(demPath))
			outPath := filepath.Join(cfg.Dir, base+"_heightmap."+format)
			cmd := exec.CommandContext(ctx, tool, "-ot", "UInt16", "-scale", demPath, outPath)
			if out, err := cmd.CombinedOutput(); err != nil {
				return nil, fmt.Errorf("%s: %w: %s", tool, err, strings.TrimSpace(string(out)))
			}
			return &core.HandlerResult{
				Outputs: map[string]any{"heightmap_path": outPath},
			}, nil
		},
	})
}

// Config bundles the leaf action configs for RegisterAll.
type Config struct {
	Geocoder GeocoderConfig
	Terrain  TerrainConfig
	Pipeline PipelineConfig
}

// RegisterAll registers the three GIS actions on r.
func RegisterAll(r *registry.Registry, cfg Config) error {
	builders := []func() (*core.ActionDefinition, error){
		func() (*core.ActionDefinition, error) { return NewGeocodeAction(cfg.Geocoder) },
		func() (*core.ActionDefinition, error) { return NewDownloadDEMAction(cfg.Terrain) },
		func() (*core.ActionDefinition, error) { return NewBuildHeightmapAction(cfg.Pipeline) },
	}
	for _, build := range builders {
		def, err := build()
		if err != nil {
			return err
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// asFloat coerces the JSON number representations a bound argument can take.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// tileAt returns the slippy-map tile coordinates covering lat/lon at zoom.
func tileAt(lat, lon float64, zoom int) (x, y int) {
	n := math.Exp2(float64(zoom))
	x = int((lon + 180) / 360 * n)
	latRad := lat * math.Pi / 180
	y = int((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)
	return x, y
}

// download fetches url into path, creating the directory if needed.
func download(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("tile request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
