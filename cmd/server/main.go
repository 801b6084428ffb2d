// Copyright (c) 2026 John Earle
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

// Mailstore Ingestion — API Server
//
// Entry point for the HTTP surface of the ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Serves archive upload, local-tree submission, and job status endpoints
//  4. Handles graceful shutdown on SIGTERM/SIGINT
//
// Parsing itself happens in the worker binary; this process only creates
// jobs, stages uploads, and publishes start-job envelopes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mailstore/ingestion/internal/api"
	"github.com/mailstore/ingestion/internal/config"
	"github.com/mailstore/ingestion/internal/queue"
	"github.com/mailstore/ingestion/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailstore ingestion server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	queueClient := queue.NewClient(rdb, cfg.ControlQueue, cfg.ParseQueue)
	if err := queueClient.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	jobs, err := store.NewJobStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise job store", "error", err)
		os.Exit(1)
	}
	// The email schema is shared with the workers; creating it here too means
	// either binary can come up first.
	if _, err := store.NewEmailStore(ctx, pgPool); err != nil {
		slog.Error("failed to initialise email store", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		slog.Error("failed to create staging dir", "dir", cfg.StagingDir, "error", err)
		os.Exit(1)
	}

	// --- HTTP server ---
	handler := api.NewHandler(jobs, queueClient, cfg.StagingDir,
		func(ctx context.Context) error { return pgPool.Ping(ctx) },
		func(ctx context.Context) error { return queueClient.Ping(ctx) },
	)
	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}
