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

package documents

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents removes combining marks: "Hélène" becomes "Helene".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// namePart turns a person name into an upper-case file-name component.
func namePart(s string) string {
	s = strings.ToUpper(foldAccents(strings.TrimSpace(s)))
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

func joinParts(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}

// MasterFileName is the deterministic name of the master file of a type:
// "<Pretty>_<LAST>_<FIRST>.pdf".
func MasterFileName(m MasterType, lastName, firstName string) string {
	return joinParts(PrettyName(m), namePart(lastName), namePart(firstName)) + ".pdf"
}

// CaseFolderName is the storage folder of a customer case: "CLIENT_<LAST>_<FIRST>".
func CaseFolderName(lastName, firstName string) string {
	return joinParts("CLIENT", namePart(lastName), namePart(firstName))
}

// PlaceholderEmail builds "first.last@domain" for a case created without a
// usable customer address. Accents are folded and spaces become hyphens.
func PlaceholderEmail(firstName, lastName, domain string) string {
	local := func(s string) string {
		s = strings.ToLower(foldAccents(strings.TrimSpace(s)))
		return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}), "-")
	}
	return joinDot(local(firstName), local(lastName)) + "@" + domain
}

func joinDot(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}
