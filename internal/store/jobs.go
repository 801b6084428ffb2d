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

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailstore/ingestion/internal/models"
)

// JobStore persists ingestion job records. Jobs are never deleted here;
// retention is an external concern.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a job store backed by the given Postgres pool.
// It ensures the jobs table exists on creation.
func NewJobStore(ctx context.Context, pool *pgxpool.Pool) (*JobStore, error) {
	s := &JobStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure job schema: %w", err)
	}
	slog.Info("job store initialised")
	return s, nil
}

func (s *JobStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			input_root TEXT NOT NULL DEFAULT '',
			file_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	`)
	return err
}

// Create inserts a new job in QUEUED state and returns it.
func (s *JobStore) Create(ctx context.Context, source, inputRoot string) (*models.Job, error) {
	job := &models.Job{
		ID:        uuid.New().String(),
		Status:    models.StatusQueued,
		Source:    source,
		InputRoot: inputRoot,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, status, source, input_root)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, job.ID, job.Status, job.Source, job.InputRoot)
	if err := row.Scan(&job.CreatedAt); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get retrieves a job by id, or nil if absent.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, source, input_root, file_count, created_at
		FROM jobs
		WHERE id = $1
	`, id)

	var job models.Job
	err := row.Scan(&job.ID, &job.Status, &job.Source, &job.InputRoot,
		&job.FileCount, &job.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// SetStatus moves a job to the given lifecycle state.
func (s *JobStore) SetStatus(ctx context.Context, id string, status models.JobStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1 WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("set job %s status %s: %w", id, status, err)
	}
	return nil
}

// SetInputRoot records the staged tree for a job after extraction.
func (s *JobStore) SetInputRoot(ctx context.Context, id, inputRoot string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET input_root = $1 WHERE id = $2
	`, inputRoot, id)
	if err != nil {
		return fmt.Errorf("set job %s input root: %w", id, err)
	}
	return nil
}

// MarkParsing records the fan-out size and moves the job to PARSING in one
// update. file_count is set exactly once, here.
func (s *JobStore) MarkParsing(ctx context.Context, id string, fileCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, file_count = $2 WHERE id = $3
	`, models.StatusParsing, fileCount, id)
	if err != nil {
		return fmt.Errorf("mark job %s parsing: %w", id, err)
	}
	return nil
}
