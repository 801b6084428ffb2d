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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handlers receives decoded envelopes. A handler error is logged and the
// envelope dropped; the queue offers at-least-once execution, the task bodies
// are idempotent, and the fan-in group screens out duplicate completions, so
// the consumer itself keeps no redelivery bookkeeping.
type Handlers struct {
	StartJob  func(ctx context.Context, job StartJob) error
	ParseFile func(ctx context.Context, task ParseTask) error
}

// Consumer runs a pool of workers popping envelopes from the control and
// parse queues.
type Consumer struct {
	rdb      *redis.Client
	queues   []string
	handlers Handlers
	workers  int
}

// NewConsumer creates a consumer pool. The control queue is listed first so
// start-job envelopes are preferred when both queues have work.
func NewConsumer(rdb *redis.Client, controlQueue, parseQueue string, workers int, h Handlers) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		rdb:      rdb,
		queues:   []string{controlQueue, parseQueue},
		handlers: h,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled, dispatching envelopes across the pool.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("consumer starting", "workers", c.workers, "queues", c.queues)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.loop(ctx, worker)
		}(i)
	}
	wg.Wait()

	slog.Info("consumer stopped")
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := c.rdb.BRPop(ctx, 5*time.Second, c.queues...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("queue pop failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// res[0] is the queue name, res[1] the payload.
		c.dispatch(ctx, res[1])
	}
}

func (c *Consumer) dispatch(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("discarding undecodable envelope", "error", err)
		return
	}

	switch env.Kind {
	case KindStartJob:
		var job StartJob
		if err := json.Unmarshal(env.Body, &job); err != nil {
			slog.Warn("discarding bad start-job body", "task_id", env.ID, "error", err)
			return
		}
		if err := c.handlers.StartJob(ctx, job); err != nil {
			slog.Error("start-job handler failed", "task_id", env.ID, "job_id", job.JobID, "error", err)
		}
	case KindParseFile:
		var task ParseTask
		if err := json.Unmarshal(env.Body, &task); err != nil {
			slog.Warn("discarding bad parse-task body", "task_id", env.ID, "error", err)
			return
		}
		if err := c.handlers.ParseFile(ctx, task); err != nil {
			slog.Error("parse-task handler failed", "task_id", env.ID, "job_id", task.JobID, "path", task.Path, "error", err)
		}
	default:
		slog.Warn("unknown envelope kind", "task_id", env.ID, "kind", env.Kind)
	}
}

// Client bundles the publisher and fan-in tracker that the coordinator and
// workers share one Redis connection for.
type Client struct {
	*Publisher
	*Group
}

// NewClient creates the combined queue client.
func NewClient(rdb *redis.Client, controlQueue, parseQueue string) *Client {
	return &Client{
		Publisher: NewPublisher(rdb, controlQueue, parseQueue),
		Group:     NewGroup(rdb),
	}
}
