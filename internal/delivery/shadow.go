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

// Package delivery sends drafted replies in shadow mode: to the broker for
// review, never to the customer they are written for.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ShadowPrefix marks the subject of every shadow delivery.
const ShadowPrefix = "[SHADOW] "

// Envelope is one shadow delivery.
type Envelope struct {
	To                string    `json:"to"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	IntendedRecipient string    `json:"intended_recipient"`
	OriginalSubject   string    `json:"original_subject"`
	MessageID         string    `json:"message_id"`
	CaseID            string    `json:"case_id"`
	BrokerID          string    `json:"broker_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Transport hands an envelope to the mail system.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// Shadow holds what is needed to address a draft to the broker.
type Shadow struct {
	BrokerEmail       string
	BrokerID          string
	CaseID            string
	MessageID         string
	IntendedRecipient string
	OriginalSubject   string
	DraftSubject      string
	DraftBody         string
}

// NewEnvelope builds the shadow envelope: addressed to the broker, subject
// prefixed, body opened by a banner naming the real recipient.
func NewEnvelope(s Shadow) Envelope {
	subject := strings.TrimSpace(s.DraftSubject)
	if subject == "" {
		subject = "RE: " + s.OriginalSubject
	}
	return Envelope{
		To:                s.BrokerEmail,
		Subject:           ShadowPrefix + subject,
		Body:              banner(s.IntendedRecipient, s.OriginalSubject) + s.DraftBody,
		IntendedRecipient: s.IntendedRecipient,
		OriginalSubject:   s.OriginalSubject,
		MessageID:         s.MessageID,
		CaseID:            s.CaseID,
		BrokerID:          s.BrokerID,
		CreatedAt:         time.Now().UTC(),
	}
}

func banner(recipient, subject string) string {
	line := strings.Repeat("=", 60)
	return fmt.Sprintf("%s\nDRAFT FOR REVIEW - NOT SENT TO THE CUSTOMER\nIntended recipient: %s\nOriginal subject: %s\n%s\n\n",
		line, recipient, subject, line)
}
