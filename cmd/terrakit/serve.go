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

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/terrakit/terrakit/actions"
	"github.com/terrakit/terrakit/core/logger"
	"github.com/terrakit/terrakit/gateway"
	"github.com/terrakit/terrakit/internal/config"
	"github.com/terrakit/terrakit/registry"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the action catalog and invocation API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(logger.Options{
		Level:      parseLevel(cfg.Logger.Level),
		Format:     cfg.Logger.Format,
		File:       cfg.Logger.File,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
	})
	slog.SetDefault(log)

	reg := registry.New(
		registry.WithLogger(log),
		registry.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
	)
	err := actions.RegisterAll(reg, actions.Config{
		Geocoder: actions.GeocoderConfig{
			BaseURL:   cfg.Geocoder.BaseURL,
			UserAgent: cfg.Geocoder.UserAgent,
		},
		Terrain: actions.TerrainConfig{
			TileBaseURL: cfg.Terrain.TileBaseURL,
			Dir:         cfg.Terrain.Dir,
		},
		Pipeline: actions.PipelineConfig{
			Tool: cfg.Pipeline.Tool,
			Dir:  cfg.Pipeline.Dir,
		},
	})
	if err != nil {
		return err
	}

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithInvokeTimeout(cfg.Server.InvokeTimeout),
	}
	if cfg.Server.RateLimitRPS > 0 {
		opts = append(opts, gateway.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	}
	gw := gateway.New(reg, opts...)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: gw.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
