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

package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/mailstore/ingestion/internal/models"
)

func sample() *models.Email {
	sent := time.Date(2001, 4, 23, 17, 15, 0, 0, time.UTC)
	return &models.Email{
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com", "carol@example.com"},
		SentAt:     &sent,
		Subject:    "Quarterly numbers",
		Body:       "Please see attached.",
	}
}

// TestResolve_MessageID verifies protocol identifiers are used verbatim,
// trimmed.
func TestResolve_MessageID(t *testing.T) {
	e := sample()
	e.MessageID = "  x@y  "

	if got := Resolve(e); got != "x@y" {
		t.Errorf("Resolve = %q, want x@y", got)
	}
}

// TestResolve_Deterministic verifies the fingerprint is stable across calls
// and across equal records.
func TestResolve_Deterministic(t *testing.T) {
	a := Resolve(sample())
	b := Resolve(sample())

	if a != b {
		t.Errorf("same fields produced different keys: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "hash_") {
		t.Errorf("fingerprint key %q lacks the hash_ marker", a)
	}
}

// TestResolve_FieldSensitivity verifies that changing any fingerprinted field
// changes the key.
func TestResolve_FieldSensitivity(t *testing.T) {
	base := Resolve(sample())

	mutations := map[string]func(*models.Email){
		"sender":     func(e *models.Email) { e.Sender = "mallory@example.com" },
		"recipients": func(e *models.Email) { e.Recipients = []string{"bob@example.com"} },
		"date":       func(e *models.Email) { e.SentAt = nil },
		"subject":    func(e *models.Email) { e.Subject = "Annual numbers" },
		"body":       func(e *models.Email) { e.Body = "Different body." },
	}

	for name, mutate := range mutations {
		e := sample()
		mutate(e)
		if got := Resolve(e); got == base {
			t.Errorf("changing %s did not change the key", name)
		}
	}
}

// TestResolve_BodyTruncation verifies that only the first 2000 runes of the
// body contribute to the fingerprint.
func TestResolve_BodyTruncation(t *testing.T) {
	prefix := strings.Repeat("é", 2000)

	a := sample()
	a.Body = prefix + " tail one"
	b := sample()
	b.Body = prefix + " a completely different tail"

	if Resolve(a) != Resolve(b) {
		t.Error("bodies equal through 2000 runes should share a key")
	}

	c := sample()
	c.Body = prefix[:len("é")*1999] + "X tail"
	if Resolve(a) == Resolve(c) {
		t.Error("bodies differing inside the preview should not share a key")
	}
}

// TestResolve_EmptyRecord verifies a record with nothing to fingerprint still
// resolves deterministically.
func TestResolve_EmptyRecord(t *testing.T) {
	a := Resolve(&models.Email{})
	b := Resolve(&models.Email{Recipients: []string{}})

	if a != b {
		t.Errorf("nil and empty recipient lists should fingerprint alike: %q vs %q", a, b)
	}
}
