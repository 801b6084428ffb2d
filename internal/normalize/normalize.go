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

// Package normalize parses one raw RFC 5322 message into a canonical email
// record. It is a pure transform: no I/O beyond the input bytes.
//
// The contract is deliberately forgiving. A bad Date header yields an absent
// timestamp, invalid addresses are dropped, and undecodable body bytes fall
// back through charset detection to Latin-1. Only a message whose structure
// cannot be read at all fails, with ErrMalformedMessage.
package normalize

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mailstore/ingestion/internal/models"
)

// ErrMalformedMessage marks a file that could not be parsed into a record.
// Callers absorb it at the task boundary; it never fails a batch.
var ErrMalformedMessage = errors.New("malformed message")

// Parse converts raw message bytes plus their source metadata into a canonical
// email record whose location set contains exactly src. The record's DedupeKey
// is left empty; identity resolution is a separate step.
func Parse(raw []byte, src models.SourceLocation) (*models.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	headers := headerMap(raw)

	rec := &models.Email{
		MessageID:       messageID(mr.Header, headers),
		SentAt:          parseDate(mr.Header, headers["date"]),
		Subject:         subject(mr.Header, headers),
		Recipients:      parseAddressList(headers["to"]),
		Cc:              parseAddressList(headers["cc"]),
		Bcc:             parseAddressList(headers["bcc"]),
		Headers:         headers,
		SourceLocations: []models.SourceLocation{src},
	}
	if from := parseAddressList(headers["from"]); len(from) > 0 {
		rec.Sender = from[0]
	}

	rec.Body, rec.Attachments = walkParts(mr, isMultipart(headers["content-type"]))
	return rec, nil
}

// walkParts collects the plain-text body and attachment metadata. For a
// single-part message the sole payload becomes the body regardless of its
// declared content type or disposition; for multipart messages every
// text/plain part contributes, concatenated in occurrence order, even when it
// is also declared as an attachment.
func walkParts(mr *mail.Reader, multipart bool) (string, []models.Attachment) {
	var body strings.Builder
	var attachments []models.Attachment

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && p == nil {
			// Truncated or broken MIME structure: keep what we have.
			break
		}

		if !multipart {
			b, _ := io.ReadAll(p.Body)
			body.WriteString(decodeText(b))
			continue
		}

		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ctype, _, _ := h.ContentType()
			if ctype == "text/plain" {
				b, _ := io.ReadAll(p.Body)
				body.WriteString(decodeText(b))
				attachments = append(attachments, models.Attachment{
					Filename:    name,
					ContentType: ctype,
					Size:        int64(len(b)),
				})
				continue
			}
			size, _ := io.Copy(io.Discard, p.Body)
			attachments = append(attachments, models.Attachment{
				Filename:    name,
				ContentType: ctype,
				Size:        size,
			})
		case *mail.InlineHeader:
			ctype, params, _ := h.ContentType()
			if ctype == "" || ctype == "text/plain" {
				b, _ := io.ReadAll(p.Body)
				body.WriteString(decodeText(b))
				if name := params["name"]; name != "" {
					attachments = append(attachments, models.Attachment{
						Filename:    name,
						ContentType: ctype,
						Size:        int64(len(b)),
					})
				}
			} else if name := params["name"]; name != "" {
				size, _ := io.Copy(io.Discard, p.Body)
				attachments = append(attachments, models.Attachment{
					Filename:    name,
					ContentType: ctype,
					Size:        size,
				})
			}
		}
	}

	return body.String(), attachments
}

// headerMap reads the raw wire headers into a lower-cased name → value map.
// Repeated headers are newline-concatenated in encounter order. A separate
// textproto pass is used because the map must reflect the wire, not the
// MIME-decoded view.
func headerMap(raw []byte) map[string]string {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	fields, err := tp.ReadMIMEHeader()
	if err != nil && len(fields) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(fields))
	for name, values := range fields {
		out[strings.ToLower(name)] = strings.Join(values, "\n")
	}
	return out
}

// parseAddressList splits comma-separated address-list syntax into normalized
// bare addresses: display names stripped, lower-cased, empties dropped. The
// input may hold several header occurrences joined by newlines.
func parseAddressList(value string) []string {
	value = strings.ReplaceAll(value, "\n", ", ")
	if strings.TrimSpace(value) == "" {
		return nil
	}

	if list, err := netmail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if addr := strings.ToLower(strings.TrimSpace(a.Address)); addr != "" {
				out = append(out, addr)
			}
		}
		return out
	}

	// Sloppy header: salvage whatever parses address-by-address.
	var out []string
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if a, err := netmail.ParseAddress(tok); err == nil {
			if addr := strings.ToLower(strings.TrimSpace(a.Address)); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// dateLayouts are fallbacks for Date headers the RFC 5322 parser rejects.
// Zoneless layouts are interpreted as UTC.
var dateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04",
	"2006-01-02 15:04:05",
}

// parseDate normalizes the Date header to UTC. Unparseable dates yield nil;
// a single bad date must not abort ingestion.
func parseDate(h mail.Header, rawValue string) *time.Time {
	if t, err := h.Date(); err == nil && !t.IsZero() {
		u := t.UTC()
		return &u
	}
	rawValue = strings.TrimSpace(rawValue)
	if rawValue == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, rawValue, time.UTC); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func messageID(h mail.Header, headers map[string]string) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return strings.TrimSpace(id)
	}
	// Fall back to the raw header, shedding brackets ourselves.
	return strings.Trim(strings.TrimSpace(headers["message-id"]), "<>")
}

func subject(h mail.Header, headers map[string]string) string {
	if s, err := h.Subject(); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(headers["subject"])
}

func isMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "multipart/")
}
