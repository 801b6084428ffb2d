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

// Package store provides Postgres-backed persistence for canonical email
// records and ingestion jobs.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailstore/ingestion/internal/models"
)

// EmailStore persists canonical email records keyed by dedupe key.
type EmailStore struct {
	pool *pgxpool.Pool
}

// NewEmailStore creates an email store backed by the given Postgres pool.
// It ensures the emails table and its indexes exist on creation.
func NewEmailStore(ctx context.Context, pool *pgxpool.Pool) (*EmailStore, error) {
	s := &EmailStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email schema: %w", err)
	}
	slog.Info("email store initialised")
	return s, nil
}

func (s *EmailStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			dedupe_key       TEXT PRIMARY KEY,
			message_id       TEXT,
			sent_at          TIMESTAMPTZ,
			sender           TEXT NOT NULL DEFAULT '',
			recipients       JSONB NOT NULL DEFAULT '[]',
			cc               JSONB NOT NULL DEFAULT '[]',
			bcc              JSONB NOT NULL DEFAULT '[]',
			subject          TEXT NOT NULL DEFAULT '',
			body             TEXT NOT NULL DEFAULT '',
			attachments      JSONB NOT NULL DEFAULT '[]',
			headers          JSONB NOT NULL DEFAULT '{}',
			source_locations JSONB NOT NULL DEFAULT '[]',
			enrichment       JSONB NOT NULL DEFAULT '[]',
			created_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender);
		CREATE INDEX IF NOT EXISTS idx_emails_sent_at ON emails(sent_at);
		CREATE INDEX IF NOT EXISTS idx_emails_locations ON emails USING GIN (source_locations);
	`)
	return err
}

// Merge inserts the record on first sight of its dedupe key; on every later
// sight it unions the record's source locations into the existing row and
// touches nothing else. The whole operation is one statement, so two
// concurrent first sightings of the same key cannot diverge: exactly one
// takes the insert arm, the other degrades to the location union.
//
// The returned bool reports whether this call created the record.
func (s *EmailStore) Merge(ctx context.Context, e *models.Email) (bool, error) {
	recipients, err := jsonArray(e.Recipients)
	if err != nil {
		return false, fmt.Errorf("encode recipients: %w", err)
	}
	cc, err := jsonArray(e.Cc)
	if err != nil {
		return false, fmt.Errorf("encode cc: %w", err)
	}
	bcc, err := jsonArray(e.Bcc)
	if err != nil {
		return false, fmt.Errorf("encode bcc: %w", err)
	}
	attachments, err := json.Marshal(orEmptyAttachments(e.Attachments))
	if err != nil {
		return false, fmt.Errorf("encode attachments: %w", err)
	}
	headers, err := json.Marshal(orEmptyHeaders(e.Headers))
	if err != nil {
		return false, fmt.Errorf("encode headers: %w", err)
	}
	locations, err := json.Marshal(e.SourceLocations)
	if err != nil {
		return false, fmt.Errorf("encode source locations: %w", err)
	}

	var messageID *string
	if e.MessageID != "" {
		messageID = &e.MessageID
	}

	// xmax = 0 holds only for a freshly inserted row, which is how the
	// insert arm is told apart from the union arm.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO emails
			(dedupe_key, message_id, sent_at, sender, recipients, cc, bcc,
			 subject, body, attachments, headers, source_locations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedupe_key) DO UPDATE SET
			source_locations = (
				SELECT COALESCE(jsonb_agg(DISTINCT loc), '[]'::jsonb)
				FROM jsonb_array_elements(emails.source_locations || EXCLUDED.source_locations) AS loc
			)
		RETURNING (xmax = 0)
	`, e.DedupeKey, messageID, e.SentAt, e.Sender, recipients, cc, bcc,
		e.Subject, e.Body, attachments, headers, locations)

	var created bool
	if err := row.Scan(&created); err != nil {
		return false, fmt.Errorf("merge email %s: %w", e.DedupeKey, err)
	}
	return created, nil
}

// Get retrieves one canonical record by dedupe key, or nil if absent.
func (s *EmailStore) Get(ctx context.Context, dedupeKey string) (*models.Email, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT dedupe_key, message_id, sent_at, sender, recipients, cc, bcc,
		       subject, body, attachments, headers, source_locations, enrichment
		FROM emails
		WHERE dedupe_key = $1
	`, dedupeKey)

	var (
		e           models.Email
		messageID   *string
		sentAt      *time.Time
		recipients  []byte
		cc          []byte
		bcc         []byte
		attachments []byte
		headers     []byte
		locations   []byte
		enrichment  []byte
	)
	err := row.Scan(&e.DedupeKey, &messageID, &sentAt, &e.Sender, &recipients,
		&cc, &bcc, &e.Subject, &e.Body, &attachments, &headers, &locations, &enrichment)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", dedupeKey, err)
	}

	if messageID != nil {
		e.MessageID = *messageID
	}
	e.SentAt = sentAt
	e.Enrichment = json.RawMessage(enrichment)

	decode := func(src []byte, dst any) {
		if err == nil && len(src) > 0 {
			err = json.Unmarshal(src, dst)
		}
	}
	decode(recipients, &e.Recipients)
	decode(cc, &e.Cc)
	decode(bcc, &e.Bcc)
	decode(attachments, &e.Attachments)
	decode(headers, &e.Headers)
	decode(locations, &e.SourceLocations)
	if err != nil {
		return nil, fmt.Errorf("decode email %s: %w", dedupeKey, err)
	}

	return &e, nil
}

// Count reports the number of canonical records in the store.
func (s *EmailStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

func jsonArray(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func orEmptyAttachments(a []models.Attachment) []models.Attachment {
	if a == nil {
		return []models.Attachment{}
	}
	return a
}

func orEmptyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
