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

package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// decodeText converts raw payload bytes to a UTF-8 string and never fails:
// detect the encoding, decode dropping invalid sequences, and fall back to
// ISO-8859-1 when detection comes up empty. Latin-1 maps every byte, so the
// fallback cannot fail either.
func decodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}

	if res, err := chardet.NewTextDetector().DetectBest(b); err == nil && res != nil {
		if enc := lookupEncoding(res.Charset); enc != nil {
			if out, err := enc.NewDecoder().Bytes(b); err == nil {
				return dropInvalid(string(out))
			}
		}
	}

	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}

// lookupEncoding resolves a detector charset name to an x/text encoding.
func lookupEncoding(name string) encoding.Encoding {
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc
	}
	if enc, err := htmlindex.Get(strings.ToLower(name)); err == nil && enc != nil {
		return enc
	}
	return nil
}

// dropInvalid removes bytes that did not survive decoding. The contract is
// that undecodable input is dropped, not surfaced as replacement runes.
func dropInvalid(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "�", "")
}
