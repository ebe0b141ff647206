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

package resolver

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/brokerdesk/intake/internal/models"
)

var (
	// forwardHeaderRe matches the sender line of a quoted forwarded header.
	forwardHeaderRe = regexp.MustCompile(`(?i)(?:^|\n)[>\s*]*(?:de|from|exp[ée]diteur|fra)\s*:\s*(?:[^\n<]*?<)?([^\s<>"'()]+@[^\s<>"'()]+)>?`)

	// bodyAddressRe finds any address in free text.
	bodyAddressRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// CandidateAddresses lists every address a message references, lowercased,
// deduplicated, and in this order: sender, To, Cc, forwarded-header senders,
// other body addresses. Malformed addresses are skipped.
func CandidateAddresses(msg *models.InboundMessage) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		addr, ok := normalize(raw)
		if !ok || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}

	add(msg.From.Address)
	for _, r := range msg.Recipients() {
		add(r.Address)
	}
	for _, m := range forwardHeaderRe.FindAllStringSubmatch(msg.Body.Content, -1) {
		add(m[1])
	}
	for _, m := range bodyAddressRe.FindAllString(msg.Body.Content, -1) {
		add(m)
	}
	return out
}

// normalize cleans punctuation left over by pattern matching and validates the result.
func normalize(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `<>"'().,;:[]`)
	if s == "" {
		return "", false
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	addr := strings.ToLower(parsed.Address)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || !strings.Contains(addr[at+1:], ".") {
		return "", false
	}
	return addr, true
}
