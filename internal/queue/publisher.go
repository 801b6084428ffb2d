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

// Package queue is the task execution layer binding: parse tasks and job
// control envelopes travel as JSON on Redis lists, and per-job fan-in is
// tracked with an atomically decremented pending counter. Delivery is
// at-least-once; parse tasks are idempotent by construction, so redelivery
// degrades to a location union in the store and a screened-out duplicate
// completion in the fan-in group.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mailstore/ingestion/internal/models"
)

// Envelope kinds.
const (
	KindStartJob  = "start_job"
	KindParseFile = "parse_file"
)

// StartJob asks a worker to fan a queued job out.
type StartJob struct {
	JobID string `json:"job_id"`
}

// ParseTask is one file to parse and merge on behalf of a job.
type ParseTask struct {
	JobID  string                `json:"job_id"`
	Path   string                `json:"path"`
	Source models.SourceLocation `json:"source"`
}

// envelope wraps a task body for Redis transport.
type envelope struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Publisher sends control and parse envelopes to Redis.
type Publisher struct {
	rdb          *redis.Client
	controlQueue string
	parseQueue   string
}

// NewPublisher creates a publisher targeting the given queues.
func NewPublisher(rdb *redis.Client, controlQueue, parseQueue string) *Publisher {
	return &Publisher{
		rdb:          rdb,
		controlQueue: controlQueue,
		parseQueue:   parseQueue,
	}
}

// PublishStartJob queues a start-job envelope on the control queue.
func (p *Publisher) PublishStartJob(ctx context.Context, jobID string) error {
	if err := p.push(ctx, p.controlQueue, KindStartJob, StartJob{JobID: jobID}); err != nil {
		return err
	}
	slog.Info("published start-job", "job_id", jobID, "queue", p.controlQueue)
	return nil
}

// PublishParseTask queues one parse task.
func (p *Publisher) PublishParseTask(ctx context.Context, task ParseTask) error {
	if err := p.push(ctx, p.parseQueue, KindParseFile, task); err != nil {
		return err
	}
	slog.Debug("published parse task",
		"job_id", task.JobID,
		"path", task.Path,
		"queue", p.parseQueue,
	)
	return nil
}

func (p *Publisher) push(ctx context.Context, queueName, kind string, body any) error {
	payload, err := encodeEnvelope(kind, body)
	if err != nil {
		return err
	}
	if err := p.rdb.LPush(ctx, queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", queueName, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

func encodeEnvelope(kind string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", kind, err)
	}
	payload, err := json.Marshal(envelope{
		ID:   uuid.New().String(),
		Kind: kind,
		Body: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", kind, err)
	}
	return payload, nil
}
