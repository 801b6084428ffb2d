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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailstore/ingestion/internal/models"
)

// testPool connects to the Postgres named by TEST_DATABASE_URL, skipping the
// test when none is configured.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func testEmail(key string, loc models.SourceLocation) *models.Email {
	sent := time.Date(2001, 4, 23, 17, 15, 0, 0, time.UTC)
	return &models.Email{
		DedupeKey:       key,
		MessageID:       key,
		SentAt:          &sent,
		Sender:          "alice@example.com",
		Recipients:      []string{"bob@example.com"},
		Subject:         "original subject",
		Body:            "original body",
		Headers:         map[string]string{"subject": "original subject"},
		SourceLocations: []models.SourceLocation{loc},
	}
}

// TestMerge_CreateThenUnion drives the upsert through its two arms against a
// real database: first sight inserts, later sights only grow the location set
// and leave every other field as first written.
func TestMerge_CreateThenUnion(t *testing.T) {
	ctx := context.Background()
	s, err := NewEmailStore(ctx, testPool(t))
	if err != nil {
		t.Fatalf("NewEmailStore: %v", err)
	}

	key := "test-" + uuid.New().String()
	t.Cleanup(func() { s.pool.Exec(ctx, `DELETE FROM emails WHERE dedupe_key = $1`, key) })

	locA := models.SourceLocation{Owner: "alice", Folder: "inbox", Filename: "1.eml"}
	locB := models.SourceLocation{Owner: "bob", Folder: "archive", Filename: "copy.eml"}

	created, err := s.Merge(ctx, testEmail(key, locA))
	if err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	if !created {
		t.Error("first sighting should report created")
	}

	// Conflicting content on the second sighting must not overwrite anything.
	second := testEmail(key, locB)
	second.Subject = "conflicting subject"
	second.Body = "conflicting body"
	created, err = s.Merge(ctx, second)
	if err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	if created {
		t.Error("second sighting should report merged, not created")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("record missing after merge")
	}
	if rec.Subject != "original subject" || rec.Body != "original body" {
		t.Errorf("content rewritten on merge: subject=%q body=%q", rec.Subject, rec.Body)
	}
	if len(rec.SourceLocations) != 2 {
		t.Fatalf("SourceLocations = %v, want both sightings", rec.SourceLocations)
	}
	seen := map[models.SourceLocation]bool{}
	for _, loc := range rec.SourceLocations {
		seen[loc] = true
	}
	if !seen[locA] || !seen[locB] {
		t.Errorf("SourceLocations = %v, want %v and %v", rec.SourceLocations, locA, locB)
	}

	var rows int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails WHERE dedupe_key = $1`, key).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Errorf("rows for key = %d, want 1", rows)
	}
}

// TestMerge_RepeatedLocation verifies merging the exact same sighting twice is
// idempotent: the location set does not grow.
func TestMerge_RepeatedLocation(t *testing.T) {
	ctx := context.Background()
	s, err := NewEmailStore(ctx, testPool(t))
	if err != nil {
		t.Fatalf("NewEmailStore: %v", err)
	}

	key := "test-" + uuid.New().String()
	t.Cleanup(func() { s.pool.Exec(ctx, `DELETE FROM emails WHERE dedupe_key = $1`, key) })

	loc := models.SourceLocation{Owner: "alice", Folder: "inbox", Filename: "1.eml"}
	for i := 0; i < 3; i++ {
		if _, err := s.Merge(ctx, testEmail(key, loc)); err != nil {
			t.Fatalf("Merge %d: %v", i, err)
		}
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("record missing")
	}
	if len(rec.SourceLocations) != 1 {
		t.Errorf("SourceLocations = %v, want exactly one entry", rec.SourceLocations)
	}
}

// TestGet_Missing verifies the nil-for-missing contract against the real
// store.
func TestGet_Missing(t *testing.T) {
	ctx := context.Background()
	s, err := NewEmailStore(ctx, testPool(t))
	if err != nil {
		t.Fatalf("NewEmailStore: %v", err)
	}

	rec, err := s.Get(ctx, "test-absent-"+uuid.New().String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}
