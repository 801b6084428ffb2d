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

// Package identity derives the dedupe key that identifies one logical email.
//
// A present Message-ID is used verbatim. Messages without one get a
// deterministic content fingerprint over a fixed field subset, so the same
// bytes always resolve to the same identity. Two genuinely distinct messages
// with identical sender, recipients, date, subject, and body prefix collapse
// to one record; that approximation is accepted.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/mailstore/ingestion/internal/models"
)

const (
	// fingerprintPrefix marks fingerprint-derived keys apart from
	// protocol-derived ones.
	fingerprintPrefix = "hash_"

	// bodyPreviewRunes caps the body contribution so the hash stays stable
	// across trailing noise.
	bodyPreviewRunes = 2000
)

// Resolve returns the dedupe key for a parsed record.
func Resolve(e *models.Email) string {
	if id := strings.TrimSpace(e.MessageID); id != "" {
		return id
	}

	date := ""
	if e.SentAt != nil {
		date = e.SentAt.UTC().Format(time.RFC3339)
	}
	to := e.Recipients
	if to == nil {
		to = []string{}
	}

	fields := map[string]any{
		"from":         e.Sender,
		"to":           to,
		"date":         date,
		"subject":      e.Subject,
		"body_preview": truncateRunes(e.Body, bodyPreviewRunes),
	}

	// json.Marshal emits map keys sorted, which is the stable encoding the
	// fingerprint depends on.
	payload, err := json.Marshal(fields)
	if err != nil {
		// Only reachable with non-UTF8-able values, which these fields
		// cannot hold; keep the key deterministic anyway.
		payload = []byte(e.Subject + date + e.Sender)
	}

	sum := sha256.Sum256(payload)
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

func truncateRunes(s string, n int) string {
	if utf8Len := len([]rune(s)); utf8Len <= n {
		return s
	}
	return string([]rune(s)[:n])
}
