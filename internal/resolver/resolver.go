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

// Package resolver attributes an inbound message to an existing customer case
// of a known broker, looking through forwarded headers and every address the
// message references.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/brokerdesk/intake/internal/models"
)

// CaseFinder is the persistence the resolver needs. Lookups return (nil, nil)
// when nothing matches.
type CaseFinder interface {
	FindCaseByPrimaryEmail(ctx context.Context, brokerID, email string) (*models.Case, error)
	FindCaseBySecondaryEmail(ctx context.Context, brokerID, email string) (*models.Case, error)
	AddSecondaryEmail(ctx context.Context, caseID, email string) error
}

// Request identifies the message and the broker already chosen by the caller.
type Request struct {
	Message *models.InboundMessage
	Broker  *models.Broker
	// SenderIsBroker marks a broker forwarding a customer's message.
	SenderIsBroker bool
}

// Result is the outcome of a resolution. Case is nil when nothing matched.
type Result struct {
	Case           *models.Case
	MatchedAddress string
	// Candidates are the customer addresses left after exclusions, in order.
	Candidates []string
}

// Found reports whether an existing case matched.
func (r Result) Found() bool { return r.Case != nil }

// Resolver matches messages to cases.
type Resolver struct {
	cases    CaseFinder
	excluded map[string]bool
}

// New creates a resolver. systemAddresses are never treated as customers.
func New(cases CaseFinder, systemAddresses []string) *Resolver {
	excluded := make(map[string]bool, len(systemAddresses))
	for _, a := range systemAddresses {
		excluded[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &Resolver{cases: cases, excluded: excluded}
}

// Candidates returns the customer addresses of a message after excluding the
// broker, system addresses and, for a broker forward, the sender.
func (r *Resolver) Candidates(req Request) []string {
	skip := map[string]bool{strings.ToLower(req.Broker.Email): true}
	if req.SenderIsBroker {
		skip[strings.ToLower(req.Message.From.Address)] = true
	}

	var out []string
	for _, addr := range CandidateAddresses(req.Message) {
		if skip[addr] || r.excluded[addr] {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// Resolve looks up each candidate by primary address, then by secondary
// address, and returns the first match. The matched address and the sender,
// when the case did not know them yet, are appended to its secondary
// addresses. Lookup failures are returned; ambiguity never is.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	res := Result{Candidates: r.Candidates(req)}

	for _, addr := range res.Candidates {
		c, err := r.cases.FindCaseByPrimaryEmail(ctx, req.Broker.ID, addr)
		if err != nil {
			return res, fmt.Errorf("find case by primary %s: %w", addr, err)
		}
		if c == nil {
			c, err = r.cases.FindCaseBySecondaryEmail(ctx, req.Broker.ID, addr)
			if err != nil {
				return res, fmt.Errorf("find case by secondary %s: %w", addr, err)
			}
		}
		if c == nil {
			continue
		}

		// The sender is attributed too when another address matched.
		attribute := []string{addr}
		if sender := strings.ToLower(req.Message.From.Address); sender != addr && slices.Contains(res.Candidates, sender) {
			attribute = append(attribute, sender)
		}
		for _, a := range attribute {
			if c.KnowsEmail(a) {
				continue
			}
			if err := r.cases.AddSecondaryEmail(ctx, c.ID, a); err != nil {
				return res, fmt.Errorf("add secondary email: %w", err)
			}
			c.SecondaryEmails = append(c.SecondaryEmails, a)
			slog.Info("secondary email attributed to case",
				"case_id", c.ID,
				"email", a,
			)
		}

		res.Case = c
		res.MatchedAddress = addr
		return res, nil
	}

	slog.Debug("no case matched",
		"message_id", req.Message.MessageID,
		"broker_id", req.Broker.ID,
		"candidates", len(res.Candidates),
	)
	return res, nil
}
