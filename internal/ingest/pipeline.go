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

// Package ingest executes parse tasks end to end: read the staged file,
// normalize it, resolve its identity, and merge it into the shared store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mailstore/ingestion/internal/identity"
	"github.com/mailstore/ingestion/internal/models"
	"github.com/mailstore/ingestion/internal/normalize"
	"github.com/mailstore/ingestion/internal/walker"
)

// MergeStore is the upsert surface of the document store.
type MergeStore interface {
	Merge(ctx context.Context, e *models.Email) (created bool, err error)
}

// Pipeline turns staged files into canonical records.
type Pipeline struct {
	store MergeStore
}

// NewPipeline creates a pipeline writing through the given store.
func NewPipeline(store MergeStore) *Pipeline {
	return &Pipeline{store: store}
}

// IngestFile processes one file. The returned bool reports whether the merge
// created a new record (false: an existing identity gained a location).
func (p *Pipeline) IngestFile(ctx context.Context, path string, src models.SourceLocation) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	rec, err := normalize.Parse(raw, src)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	rec.DedupeKey = identity.Resolve(rec)

	created, err := p.store.Merge(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("merge %s: %w", rec.DedupeKey, err)
	}

	slog.Debug("file ingested",
		"dedupe_key", rec.DedupeKey,
		"owner", src.Owner,
		"folder", src.Folder,
		"filename", src.Filename,
		"created", created,
	)
	return created, nil
}

// TreeResult summarises a synchronous local ingestion run.
type TreeResult struct {
	Seen    int
	Created int
	Merged  int
	Failed  int
}

// IngestTree walks a staged tree and ingests every file in place, without the
// task queue. Per-file failures are logged and tallied, never fatal; only an
// unreadable tree aborts the run.
func (p *Pipeline) IngestTree(ctx context.Context, root string) (*TreeResult, error) {
	res := &TreeResult{}
	err := walker.Walk(root, func(e walker.Entry) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Seen++
		created, err := p.IngestFile(ctx, e.Path, e.Source)
		if err != nil {
			res.Failed++
			slog.Warn("file ingestion failed", "path", e.Path, "error", err)
			return nil
		}
		if created {
			res.Created++
		} else {
			res.Merged++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("tree ingested",
		"root", root,
		"seen", res.Seen,
		"created", res.Created,
		"merged", res.Merged,
		"failed", res.Failed,
	)
	return res, nil
}
