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

// ingestctl is the operator CLI for the mailstore ingestion service:
// synchronous local ingestion, asynchronous job submission, and record/job
// inspection, all straight against Postgres and Redis.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mailstore/ingestion/internal/config"
	"github.com/mailstore/ingestion/internal/ingest"
	"github.com/mailstore/ingestion/internal/models"
	"github.com/mailstore/ingestion/internal/orchestrator"
	"github.com/mailstore/ingestion/internal/queue"
	"github.com/mailstore/ingestion/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Operate the mailstore ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ingestCmd(), submitCmd(), statusCmd(), showCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// dryRunStore parses everything and writes nothing. Every merge reports
// created so the tally reflects what a real run would attempt.
type dryRunStore struct{}

func (dryRunStore) Merge(ctx context.Context, e *models.Email) (bool, error) {
	return true, nil
}

func ingestCmd() *cobra.Command {
	var (
		rootDir string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Synchronously ingest a staged owner/folder/file tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var pipeline *ingest.Pipeline
			if dryRun {
				pipeline = ingest.NewPipeline(dryRunStore{})
			} else {
				pool, emails, err := openEmailStore(ctx)
				if err != nil {
					return err
				}
				defer pool.Close()
				pipeline = ingest.NewPipeline(emails)
			}

			res, err := pipeline.IngestTree(ctx, rootDir)
			if err != nil {
				return err
			}

			fmt.Printf("Seen files:   %d\n", res.Seen)
			fmt.Printf("New emails:   %d\n", res.Created)
			fmt.Printf("Merged dupes: %d\n", res.Merged)
			fmt.Printf("Failed files: %d\n", res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&rootDir, "root", "", "staged input tree (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse but do not write")
	cmd.MarkFlagRequired("root")
	return cmd
}

func submitCmd() *cobra.Command {
	var (
		rootDir string
		source  string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a staged tree as an asynchronous job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			pool, jobs, err := openJobStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()

			coordinator := orchestrator.New(jobs, queue.NewClient(rdb, cfg.ControlQueue, cfg.ParseQueue))
			jobID, err := coordinator.Submit(ctx, rootDir, source)
			if err != nil {
				return err
			}

			fmt.Println(jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rootDir, "root", "", "staged input tree (required)")
	cmd.Flags().StringVar(&source, "source", "", "label for the batch origin")
	cmd.MarkFlagRequired("root")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job's lifecycle status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, jobs, err := openJobStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			job, err := jobs.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			return printJSON(job)
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dedupe-key>",
		Short: "Show one canonical email record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, emails, err := openEmailStore(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rec, err := emails.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no record for dedupe key %s", args[0])
			}
			return printJSON(rec)
		},
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	return pool, nil
}

func openEmailStore(ctx context.Context) (*pgxpool.Pool, *store.EmailStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	emails, err := store.NewEmailStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, emails, nil
}

func openJobStore(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *store.JobStore, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := store.NewJobStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, jobs, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
