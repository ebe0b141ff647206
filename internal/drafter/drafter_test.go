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

package drafter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brokerdesk/intake/internal/models"
)

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func request() Request {
	return Request{
		Message: &models.InboundMessage{MessageID: "m1", Subject: "Documents", Body: models.EmailBody{Content: "Here is my ID."}},
		Broker:  &models.Broker{Email: "broker@example.com", DisplayName: "Claire Martin"},
		Case:    &models.Case{ID: "c1", LastName: "Durand", FirstName: "Anne", PrimaryEmail: "client@example.com"},
		Classification: &models.Classification{
			Intent: models.IntentDocumentsSent, Summary: "ID card sent",
		},
		Stored:  []string{"Identity_DURAND_ANNE.pdf"},
		Missing: []string{"PAYSLIP"},
	}
}

// TestDraft_UsesGenerator verifies the generated body and the prompt content.
func TestDraft_UsesGenerator(t *testing.T) {
	gen := &stubGenerator{reply: "  Dear Anne, thank you.  "}
	d := New(gen).Draft(context.Background(), request())

	assert.Equal(t, "RE: Documents", d.Subject)
	assert.Equal(t, "Dear Anne, thank you.", d.Body)
	assert.Equal(t, "client@example.com", d.Recipient)
	assert.False(t, d.Fallback)
	assert.Contains(t, gen.prompt, "Identity_DURAND_ANNE.pdf")
	assert.Contains(t, gen.prompt, "Documents still missing: PAYSLIP")
}

// TestDraft_FallsBackToTemplate verifies a reply is produced when generation fails.
func TestDraft_FallsBackToTemplate(t *testing.T) {
	d := New(&stubGenerator{err: errors.New("down")}).Draft(context.Background(), request())

	assert.True(t, d.Fallback)
	assert.Contains(t, d.Body, "Identity_DURAND_ANNE.pdf")
	assert.Contains(t, d.Body, "We still need: PAYSLIP.")
	assert.Contains(t, d.Body, "Claire Martin")
}

// TestReplySubject verifies existing reply prefixes are not doubled.
func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: hello", replySubject(" Re: hello "))
	assert.Equal(t, "RE: your message", replySubject(""))
}
