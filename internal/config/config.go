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

// Package config loads the terrakit server configuration from a file and
// the environment. Every key has a working default; a config file is
// optional.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	Terrain  TerrainConfig  `mapstructure:"terrain"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	InvokeTimeout   time.Duration `mapstructure:"invoke_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures logging output.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// EngineConfig configures the invocation engine.
type EngineConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

// GeocoderConfig configures the geocode leaf action.
type GeocoderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// TerrainConfig configures the download_dem leaf action.
type TerrainConfig struct {
	TileBaseURL string `mapstructure:"tile_base_url"`
	Dir         string `mapstructure:"dir"`
}

// PipelineConfig configures the build_heightmap leaf action.
type PipelineConfig struct {
	Tool string `mapstructure:"tool"`
	Dir  string `mapstructure:"dir"`
}

// Load reads configuration from the optional file at path, overlaid by
// TERRAKIT_* environment variables (TERRAKIT_SERVER_ADDR and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TERRAKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8480")
	v.SetDefault("server.invoke_timeout", time.Minute)
	v.SetDefault("server.rate_limit_rps", 0) // disabled
	v.SetDefault("server.rate_limit_burst", 1)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
	v.SetDefault("engine.max_concurrent", 0) // unlimited
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "terrakit")
	v.SetDefault("terrain.tile_base_url", "https://s3.amazonaws.com/elevation-tiles-prod/terrarium")
	v.SetDefault("terrain.dir", "data/dem")
	v.SetDefault("pipeline.tool", "gdal_translate")
	v.SetDefault("pipeline.dir", "data/heightmaps")
}
