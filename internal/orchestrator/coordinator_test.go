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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailstore/ingestion/internal/models"
	"github.com/mailstore/ingestion/internal/queue"
)

type fakeJobs struct {
	jobs    map[string]*models.Job
	nextID  int
	created []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*models.Job{}}
}

func (f *fakeJobs) Create(ctx context.Context, source, inputRoot string) (*models.Job, error) {
	f.nextID++
	job := &models.Job{
		ID:        fmt.Sprintf("job-%d", f.nextID),
		Status:    models.StatusQueued,
		Source:    source,
		InputRoot: inputRoot,
	}
	f.jobs[job.ID] = job
	f.created = append(f.created, job.ID)
	return job, nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) SetStatus(ctx context.Context, id string, status models.JobStatus) error {
	f.jobs[id].Status = status
	return nil
}

func (f *fakeJobs) MarkParsing(ctx context.Context, id string, fileCount int) error {
	f.jobs[id].Status = models.StatusParsing
	f.jobs[id].FileCount = fileCount
	return nil
}

type fakeQueue struct {
	started     []string
	tasks       []queue.ParseTask
	groups      map[string]int
	pending     map[string]int
	done        map[string]map[string]bool
	failPublish bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		groups:  map[string]int{},
		pending: map[string]int{},
		done:    map[string]map[string]bool{},
	}
}

func (f *fakeQueue) PublishStartJob(ctx context.Context, jobID string) error {
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeQueue) PublishParseTask(ctx context.Context, task queue.ParseTask) error {
	if f.failPublish {
		return errors.New("redis unavailable")
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) InitGroup(ctx context.Context, jobID string, size int) error {
	f.groups[jobID] = size
	f.pending[jobID] = size
	f.done[jobID] = map[string]bool{}
	return nil
}

func (f *fakeQueue) CompleteTask(ctx context.Context, jobID, taskKey string) (bool, error) {
	if f.done[jobID][taskKey] {
		return false, nil
	}
	f.done[jobID][taskKey] = true
	f.pending[jobID]--
	return f.pending[jobID] == 0, nil
}

// stageTree writes K parseable files under a fresh root.
func stageTree(t *testing.T, k int) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "alice", "inbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < k; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%d.eml", i))
		if err := os.WriteFile(name, []byte("Subject: s\r\n\r\nbody\r\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// TestSubmit verifies job creation plus the start envelope.
func TestSubmit(t *testing.T) {
	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	id, err := c.Submit(context.Background(), "/staged/tree", "archive.zip")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job := jobs.jobs[id]
	if job == nil {
		t.Fatal("job was not created")
	}
	if job.Status != models.StatusQueued {
		t.Errorf("status = %s, want QUEUED", job.Status)
	}
	if len(tasks.started) != 1 || tasks.started[0] != id {
		t.Errorf("started = %v, want [%s]", tasks.started, id)
	}
}

// TestStart_UnknownJob verifies the stale-handle no-op failure.
func TestStart_UnknownJob(t *testing.T) {
	c := New(newFakeJobs(), newFakeQueue())

	err := c.Start(context.Background(), "nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

// TestStart_EmptyTree verifies the EMPTY short-circuit: no fan-out at all.
func TestStart_EmptyTree(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "alice"), 0o755); err != nil {
		t.Fatal(err)
	}

	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", root)
	if err := c.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := jobs.jobs[job.ID].Status; got != models.StatusEmpty {
		t.Errorf("status = %s, want EMPTY", got)
	}
	if jobs.jobs[job.ID].FileCount != 0 {
		t.Errorf("file_count = %d, want 0", jobs.jobs[job.ID].FileCount)
	}
	if len(tasks.tasks) != 0 || len(tasks.groups) != 0 {
		t.Errorf("unexpected fan-out: tasks=%v groups=%v", tasks.tasks, tasks.groups)
	}
}

// TestStart_FanOut verifies file_count, PARSING, group size, and one task per
// file.
func TestStart_FanOut(t *testing.T) {
	root := stageTree(t, 3)

	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", root)
	if err := c.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := jobs.jobs[job.ID].Status; got != models.StatusParsing {
		t.Errorf("status = %s, want PARSING", got)
	}
	if got := jobs.jobs[job.ID].FileCount; got != 3 {
		t.Errorf("file_count = %d, want 3", got)
	}
	if tasks.groups[job.ID] != 3 {
		t.Errorf("group size = %d, want 3", tasks.groups[job.ID])
	}
	if len(tasks.tasks) != 3 {
		t.Fatalf("published %d tasks, want 3", len(tasks.tasks))
	}
	for i, task := range tasks.tasks {
		if task.JobID != job.ID {
			t.Errorf("task %d job = %s", i, task.JobID)
		}
		if task.Source.Owner != "alice" || task.Source.Folder != "inbox" {
			t.Errorf("task %d source = %v", i, task.Source)
		}
	}
}

// TestStart_UnreadableRoot verifies the staging-failure path.
func TestStart_UnreadableRoot(t *testing.T) {
	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", filepath.Join(t.TempDir(), "missing"))
	if err := c.Start(context.Background(), job.ID); err == nil {
		t.Fatal("expected an error")
	}

	if got := jobs.jobs[job.ID].Status; got != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
	if len(tasks.tasks) != 0 {
		t.Errorf("tasks fanned out despite failure: %v", tasks.tasks)
	}
}

// TestStart_PublishFailure verifies a fan-out-level publish failure fails the
// job.
func TestStart_PublishFailure(t *testing.T) {
	root := stageTree(t, 2)

	jobs := newFakeJobs()
	tasks := newFakeQueue()
	tasks.failPublish = true
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", root)
	if err := c.Start(context.Background(), job.ID); err == nil {
		t.Fatal("expected an error")
	}
	if got := jobs.jobs[job.ID].Status; got != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

// TestFinishTask verifies fan-in: the job turns PARSED exactly when the last
// group member completes.
func TestFinishTask(t *testing.T) {
	root := stageTree(t, 3)

	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", root)
	if err := c.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.FinishTask(context.Background(), job.ID, tasks.tasks[i].Path); err != nil {
			t.Fatalf("FinishTask %d: %v", i, err)
		}
		if got := jobs.jobs[job.ID].Status; got != models.StatusParsing {
			t.Fatalf("status after %d completions = %s, want PARSING", i+1, got)
		}
	}

	if err := c.FinishTask(context.Background(), job.ID, tasks.tasks[2].Path); err != nil {
		t.Fatalf("final FinishTask: %v", err)
	}
	if got := jobs.jobs[job.ID].Status; got != models.StatusParsed {
		t.Errorf("status = %s, want PARSED", got)
	}
}

// TestFinishTask_Redelivered verifies a duplicate completion of the same task
// cannot drain the group early: the job stays PARSING until every distinct
// task has finished once.
func TestFinishTask_Redelivered(t *testing.T) {
	root := stageTree(t, 2)

	jobs := newFakeJobs()
	tasks := newFakeQueue()
	c := New(jobs, tasks)

	job, _ := jobs.Create(context.Background(), "src", root)
	if err := c.Start(context.Background(), job.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := tasks.tasks[0].Path
	for i := 0; i < 3; i++ {
		if err := c.FinishTask(context.Background(), job.ID, first); err != nil {
			t.Fatalf("FinishTask: %v", err)
		}
	}
	if got := jobs.jobs[job.ID].Status; got != models.StatusParsing {
		t.Fatalf("status after redeliveries = %s, want PARSING", got)
	}

	if err := c.FinishTask(context.Background(), job.ID, tasks.tasks[1].Path); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	if got := jobs.jobs[job.ID].Status; got != models.StatusParsed {
		t.Errorf("status = %s, want PARSED", got)
	}
}

// TestGetJob verifies the status projection and not-found mapping.
func TestGetJob(t *testing.T) {
	jobs := newFakeJobs()
	c := New(jobs, newFakeQueue())

	job, _ := jobs.Create(context.Background(), "src", "/tree")
	got, err := c.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != job.ID || got.Source != "src" {
		t.Errorf("GetJob = %+v", got)
	}

	if _, err := c.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}
