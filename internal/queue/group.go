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
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// groupKeyPrefix namespaces fan-in counters in Redis.
	groupKeyPrefix = "ingest:pending:"

	// doneKeyPrefix namespaces the per-job set of completed task keys.
	doneKeyPrefix = "ingest:done:"

	// groupTTL bounds how long counters for an abandoned job linger.
	groupTTL = 7 * 24 * time.Hour
)

// Group tracks fan-in for a job's parse tasks: the counter starts at the
// fan-out size and every first completion of a task decrements it. DECR is
// atomic, so across any number of concurrent workers exactly one observes zero
// and runs the continuation. A set of completed task keys screens out
// redeliveries, so an at-least-once queue cannot decrement past the tasks that
// actually finished.
type Group struct {
	rdb *redis.Client
}

// NewGroup creates a fan-in tracker backed by Redis.
func NewGroup(rdb *redis.Client) *Group {
	return &Group{rdb: rdb}
}

func groupKey(jobID string) string {
	return groupKeyPrefix + jobID
}

func doneKey(jobID string) string {
	return doneKeyPrefix + jobID
}

// InitGroup records that jobID has size outstanding tasks. Called once at
// fan-out time, before any task is published.
func (g *Group) InitGroup(ctx context.Context, jobID string, size int) error {
	if err := g.rdb.Set(ctx, groupKey(jobID), size, groupTTL).Err(); err != nil {
		return fmt.Errorf("group SET %s: %w", jobID, err)
	}
	// A re-run of the same job must not inherit completions from the last run.
	if err := g.rdb.Del(ctx, doneKey(jobID)).Err(); err != nil {
		return fmt.Errorf("group reset done set %s: %w", jobID, err)
	}
	return nil
}

// CompleteTask marks one task of the group finished, success or failure
// alike, and reports whether it was the last one. taskKey identifies the task
// within its job (the staged file path); completing the same key again is a
// redelivery and leaves the counter alone.
func (g *Group) CompleteTask(ctx context.Context, jobID, taskKey string) (bool, error) {
	added, err := g.rdb.SAdd(ctx, doneKey(jobID), taskKey).Result()
	if err != nil {
		return false, fmt.Errorf("group SADD %s: %w", jobID, err)
	}
	if added == 0 {
		slog.Debug("task completion redelivered", "job_id", jobID, "task_key", taskKey)
		return false, nil
	}
	if err := g.rdb.Expire(ctx, doneKey(jobID), groupTTL).Err(); err != nil {
		slog.Warn("group done-set expire failed", "job_id", jobID, "error", err)
	}

	left, err := g.rdb.Decr(ctx, groupKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("group DECR %s: %w", jobID, err)
	}
	if left < 0 {
		// Counter expired or was never initialised; nothing to join.
		slog.Warn("group counter underflow", "job_id", jobID, "left", left)
		return false, nil
	}
	if left > 0 {
		return false, nil
	}

	// Last member: both keys are done. Removal is best effort.
	if err := g.rdb.Del(ctx, groupKey(jobID), doneKey(jobID)).Err(); err != nil {
		slog.Warn("group counter cleanup failed", "job_id", jobID, "error", err)
	}
	return true, nil
}
