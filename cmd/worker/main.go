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

// Mailstore Ingestion — Worker
//
// Executes the distributed pipeline: start-job envelopes fan a staged tree
// out into parse tasks, parse tasks run normalize → identity → merge, and
// every finished task feeds the fan-in counter that eventually marks the job
// PARSED. Any number of worker processes may run against the same queues.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mailstore/ingestion/internal/config"
	"github.com/mailstore/ingestion/internal/ingest"
	"github.com/mailstore/ingestion/internal/orchestrator"
	"github.com/mailstore/ingestion/internal/queue"
	"github.com/mailstore/ingestion/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailstore ingestion worker")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	emails, err := store.NewEmailStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise email store", "error", err)
		os.Exit(1)
	}
	jobs, err := store.NewJobStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise job store", "error", err)
		os.Exit(1)
	}

	pipeline := ingest.NewPipeline(emails)
	coordinator := orchestrator.New(jobs, queueClient)

	handlers := queue.Handlers{
		StartJob: func(ctx context.Context, job queue.StartJob) error {
			err := coordinator.Start(ctx, job.JobID)
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				// Stale or deleted handle: drop the envelope.
				return nil
			}
			return err
		},
		ParseFile: func(ctx context.Context, task queue.ParseTask) error {
			if _, err := pipeline.IngestFile(ctx, task.Path, task.Source); err != nil {
				// Task-local failure: the file is skipped, the batch goes on.
				slog.Warn("parse task failed",
					"job_id", task.JobID,
					"path", task.Path,
					"error", err,
				)
			}
			return coordinator.FinishTask(ctx, task.JobID, task.Path)
		},
	}

	consumer := queue.NewConsumer(rdb, cfg.ControlQueue, cfg.ParseQueue, cfg.Workers, handlers)
	consumer.Run(ctx)

	slog.Info("worker stopped")
}
