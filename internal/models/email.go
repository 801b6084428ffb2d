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

// Package models defines the data structures shared across the ingestion service.
package models

import (
	"encoding/json"
	"time"
)

// SourceLocation is one place a logical email was found in the staged input
// tree: <root>/<owner>/<folder>/<filename>.
type SourceLocation struct {
	Owner    string `json:"owner"`
	Folder   string `json:"folder"`
	Filename string `json:"filename"`
}

// Attachment holds attachment metadata. Payload bytes are counted for Size
// and then discarded; they are never stored.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Email is the canonical, deduplicated representation of one logical email.
//
// Every field except SourceLocations is written exactly once, when the record
// is first inserted under its dedupe key. Later sightings of the same key only
// grow the location set, even if their parsed content differs.
type Email struct {
	DedupeKey       string            `json:"dedupe_key"`
	MessageID       string            `json:"message_id,omitempty"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	Sender          string            `json:"sender"`
	Recipients      []string          `json:"recipients"`
	Cc              []string          `json:"cc"`
	Bcc             []string          `json:"bcc"`
	Subject         string            `json:"subject"`
	Body            string            `json:"body"`
	Attachments     []Attachment      `json:"attachments"`
	Headers         map[string]string `json:"headers"`
	SourceLocations []SourceLocation  `json:"source_locations"`

	// Enrichment is reserved for downstream processing (entity extraction).
	// Empty at creation.
	Enrichment json.RawMessage `json:"enrichment,omitempty"`
}
