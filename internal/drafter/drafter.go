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

// Package drafter writes the reply a broker would send the customer after a
// message has been processed.
package drafter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brokerdesk/intake/internal/models"
)

const draftSystemPrompt = `You write short, courteous replies on behalf of a loan broker to a customer.
Acknowledge what the customer sent or asked, list the documents still missing if any,
and never promise a decision. Sign with the broker's name. Answer with the email body only.`

// Generator produces free text.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Request is the context of one reply.
type Request struct {
	Message        *models.InboundMessage
	Broker         *models.Broker
	Case           *models.Case
	Classification *models.Classification
	Narrative      string
	// Stored are the master files written for this message.
	Stored []string
	// Missing are catalog document names still expected for the case.
	Missing []string
}

// Draft is a reply ready for shadow delivery.
type Draft struct {
	Subject string
	Body    string
	// Recipient is who the reply is meant for, not who receives it.
	Recipient string
	Fallback  bool
}

// Drafter writes replies.
type Drafter struct {
	gen Generator
}

// New creates a Drafter.
func New(gen Generator) *Drafter {
	return &Drafter{gen: gen}
}

// Draft writes a reply. When the generator fails a plain acknowledgement is
// used instead, so a reply is always produced.
func (d *Drafter) Draft(ctx context.Context, req Request) Draft {
	draft := Draft{
		Subject:   replySubject(req.Message.Subject),
		Recipient: req.Case.PrimaryEmail,
	}

	body, err := d.gen.Generate(ctx, draftSystemPrompt, buildPrompt(req))
	if err == nil && strings.TrimSpace(body) != "" {
		draft.Body = strings.TrimSpace(body)
		return draft
	}
	slog.Warn("reply generation failed, using template",
		"message_id", req.Message.MessageID,
		"case_id", req.Case.ID,
		"error", err,
	)
	draft.Body = templateReply(req)
	draft.Fallback = true
	return draft
}

func replySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	if s == "" {
		return "RE: your message"
	}
	return "RE: " + s
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broker: %s\n", brokerName(req.Broker))
	fmt.Fprintf(&b, "Customer: %s <%s>\n", req.Case.DisplayName(), req.Case.PrimaryEmail)
	if req.Classification != nil {
		fmt.Fprintf(&b, "Intent: %s\nSummary: %s\n", req.Classification.Intent, req.Classification.Summary)
	}
	if req.Narrative != "" {
		fmt.Fprintf(&b, "Case history: %s\n", req.Narrative)
	}
	if len(req.Stored) > 0 {
		fmt.Fprintf(&b, "Documents filed: %s\n", strings.Join(req.Stored, ", "))
	}
	if len(req.Missing) > 0 {
		fmt.Fprintf(&b, "Documents still missing: %s\n", strings.Join(req.Missing, ", "))
	}
	fmt.Fprintf(&b, "\nCustomer email subject: %s\n", req.Message.Subject)
	fmt.Fprintf(&b, "Customer email body:\n%s\n", clip(req.Message.Body.Content, 3000))
	return b.String()
}

func templateReply(req Request) string {
	var b strings.Builder
	b.WriteString("Hello,\n\nThank you for your message")
	if len(req.Stored) > 0 {
		fmt.Fprintf(&b, " and the documents you sent (%s)", strings.Join(req.Stored, ", "))
	}
	b.WriteString(". We have added them to your file.\n")
	if len(req.Missing) > 0 {
		fmt.Fprintf(&b, "\nWe still need: %s.\n", strings.Join(req.Missing, ", "))
	}
	fmt.Fprintf(&b, "\nBest regards,\n%s\n", brokerName(req.Broker))
	return b.String()
}

func brokerName(b *models.Broker) string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.Email
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
