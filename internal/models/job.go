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

package models

import "time"

// JobStatus is the lifecycle state of an ingestion batch.
type JobStatus string

const (
	// StatusQueued: job created, staging not started.
	StatusQueued JobStatus = "QUEUED"
	// StatusStaging: archive extraction in progress.
	StatusStaging JobStatus = "STAGING"
	// StatusParsing: parse tasks fanned out, not all finished.
	StatusParsing JobStatus = "PARSING"
	// StatusParsed: every fanned-out task finished (terminal).
	StatusParsed JobStatus = "PARSED"
	// StatusEmpty: the input tree contained no files (terminal).
	StatusEmpty JobStatus = "EMPTY"
	// StatusFailed: staging or fan-out failed (terminal).
	StatusFailed JobStatus = "FAILED"
)

// Job tracks one ingestion batch.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Source    string    `json:"source"`
	InputRoot string    `json:"input_root"`
	FileCount int       `json:"file_count"`
	CreatedAt time.Time `json:"created_at"`
}
