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

// Package models defines the data structures shared across the intake agent.
package models

import (
	"strings"
	"time"
)

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// EmailBody represents the message body content.
type EmailBody struct {
	ContentType string `json:"content_type"` // "text" or "html"
	Content     string `json:"content"`
}

// Attachment is a file attached to an inbound message, content already decoded.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     []byte `json:"-"`
}

// InboundMessage is a fully fetched email. It is never mutated after retrieval.
type InboundMessage struct {
	MessageID   string         `json:"message_id"`
	Mailbox     string         `json:"mailbox,omitempty"`
	TenantAlias string         `json:"tenant_alias,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	From        EmailAddress   `json:"from"`
	To          []EmailAddress `json:"to"`
	Cc          []EmailAddress `json:"cc,omitempty"`
	Subject     string         `json:"subject"`
	Body        EmailBody      `json:"body"`
	Attachments []Attachment   `json:"attachments"`
}

// Recipients returns the To and Cc addresses in header order.
func (m *InboundMessage) Recipients() []EmailAddress {
	out := make([]EmailAddress, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// AttachmentNames lists the attachment filenames in order.
func (m *InboundMessage) AttachmentNames() []string {
	names := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		names = append(names, a.Filename)
	}
	return names
}

// IsForwarded reports whether the message carries a forwarded thread.
func (m *InboundMessage) IsForwarded() bool {
	subject := strings.ToLower(strings.TrimSpace(m.Subject))
	for _, p := range []string{"fwd:", "fw:", "tr:"} {
		if strings.HasPrefix(subject, p) {
			return true
		}
	}
	body := strings.ToLower(m.Body.Content)
	return strings.Contains(body, "forwarded message") ||
		strings.Contains(body, "message transféré")
}
