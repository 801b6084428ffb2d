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

// Package orchestrator owns the job lifecycle: it fans a staged input tree
// out into independent parse tasks and records the aggregate outcome on the
// job record. It never blocks on task completion; progress is observable only
// through the job's status and file count.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailstore/ingestion/internal/models"
	"github.com/mailstore/ingestion/internal/queue"
	"github.com/mailstore/ingestion/internal/walker"
)

// ErrJobNotFound reports a start or status call against an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the subset of the job store the coordinator uses.
type JobStore interface {
	Create(ctx context.Context, source, inputRoot string) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	SetStatus(ctx context.Context, id string, status models.JobStatus) error
	MarkParsing(ctx context.Context, id string, fileCount int) error
}

// TaskQueue is the fan-out/fan-in surface of the task execution layer.
type TaskQueue interface {
	PublishStartJob(ctx context.Context, jobID string) error
	PublishParseTask(ctx context.Context, task queue.ParseTask) error
	InitGroup(ctx context.Context, jobID string, size int) error
	CompleteTask(ctx context.Context, jobID, taskKey string) (bool, error)
}

// Coordinator drives jobs through QUEUED → PARSING → PARSED (or EMPTY/FAILED).
type Coordinator struct {
	jobs  JobStore
	tasks TaskQueue
}

// New creates a coordinator.
func New(jobs JobStore, tasks TaskQueue) *Coordinator {
	return &Coordinator{jobs: jobs, tasks: tasks}
}

// Submit registers a new ingestion batch for an already-staged tree and hands
// it to the workers. It returns as soon as the start envelope is queued.
func (c *Coordinator) Submit(ctx context.Context, inputRoot, source string) (string, error) {
	job, err := c.jobs.Create(ctx, source, inputRoot)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := c.tasks.PublishStartJob(ctx, job.ID); err != nil {
		return "", fmt.Errorf("publish start for job %s: %w", job.ID, err)
	}
	slog.Info("job submitted", "job_id", job.ID, "source", source, "input_root", inputRoot)
	return job.ID, nil
}

// GetJob is the read-only status projection. A missing job yields
// ErrJobNotFound.
func (c *Coordinator) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := c.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Start fans the job's input tree out into parse tasks. It returns once every
// task is queued; completion arrives later through FinishTask.
//
// A vanished job is a no-op failure: the caller raced a deletion or used a
// stale handle. An unreadable input root fails the job. An input tree with no
// files short-circuits to EMPTY without any fan-out.
func (c *Coordinator) Start(ctx context.Context, jobID string) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		slog.Warn("start requested for unknown job", "job_id", jobID)
		return ErrJobNotFound
	}

	entries, err := walker.Collect(job.InputRoot)
	if err != nil {
		c.setStatus(ctx, jobID, models.StatusFailed)
		return fmt.Errorf("enumerate input root for job %s: %w", jobID, err)
	}

	if len(entries) == 0 {
		slog.Info("input tree empty", "job_id", jobID, "input_root", job.InputRoot)
		return c.jobs.SetStatus(ctx, jobID, models.StatusEmpty)
	}

	if err := c.jobs.MarkParsing(ctx, jobID, len(entries)); err != nil {
		return fmt.Errorf("mark job %s parsing: %w", jobID, err)
	}
	if err := c.tasks.InitGroup(ctx, jobID, len(entries)); err != nil {
		c.setStatus(ctx, jobID, models.StatusFailed)
		return fmt.Errorf("init group for job %s: %w", jobID, err)
	}

	for _, e := range entries {
		task := queue.ParseTask{JobID: jobID, Path: e.Path, Source: e.Source}
		if err := c.tasks.PublishParseTask(ctx, task); err != nil {
			c.setStatus(ctx, jobID, models.StatusFailed)
			return fmt.Errorf("queue parse task %s for job %s: %w", e.Path, jobID, err)
		}
	}

	slog.Info("job fanned out", "job_id", jobID, "file_count", len(entries))
	return nil
}

// FinishTask records one completed parse task, success or failure alike, and
// moves the job to PARSED when the whole group has finished. taskKey is the
// task's staged file path; a redelivered task completes as a no-op.
func (c *Coordinator) FinishTask(ctx context.Context, jobID, taskKey string) error {
	last, err := c.tasks.CompleteTask(ctx, jobID, taskKey)
	if err != nil {
		return fmt.Errorf("complete task for job %s: %w", jobID, err)
	}
	if !last {
		return nil
	}
	if err := c.jobs.SetStatus(ctx, jobID, models.StatusParsed); err != nil {
		return fmt.Errorf("mark job %s parsed: %w", jobID, err)
	}
	slog.Info("job parsed", "job_id", jobID)
	return nil
}

// setStatus is a best-effort transition on a path that is already failing.
func (c *Coordinator) setStatus(ctx context.Context, jobID string, status models.JobStatus) {
	if err := c.jobs.SetStatus(ctx, jobID, status); err != nil {
		slog.Error("status transition failed", "job_id", jobID, "status", status, "error", err)
	}
}
