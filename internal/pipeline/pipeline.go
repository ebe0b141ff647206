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

// Package pipeline sequences the processing of one inbound message: broker
// and case resolution, classification, case creation, document
// consolidation, narrative update and shadow delivery of a reply draft.
//
// Every state transition is logged with the message, broker and case ids so
// the path of a message can be reconstructed from the logs alone.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brokerdesk/intake/internal/blob"
	"github.com/brokerdesk/intake/internal/delivery"
	"github.com/brokerdesk/intake/internal/documents"
	"github.com/brokerdesk/intake/internal/drafter"
	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/memory"
	"github.com/brokerdesk/intake/internal/models"
	"github.com/brokerdesk/intake/internal/oracle"
	"github.com/brokerdesk/intake/internal/resolver"
)

// State is a step of the message state machine.
type State string

const (
	StateStart              State = "start"
	StateResolveBroker      State = "resolve_broker"
	StateResolveCase        State = "resolve_case"
	StateClassify           State = "classify"
	StateCreateCase         State = "create_case"
	StateApplyIntent        State = "apply_intent"
	StateProcessAttachments State = "process_attachments"
	StateUpdateMemory       State = "update_memory"
	StateDraftDeliver       State = "draft_deliver"
	StateDone               State = "done"
	StateAbandoned          State = "abandoned"
	StateFailed             State = "failed"
)

// DefaultLoanType is used when the classifier extracted none.
const DefaultLoanType = "real_estate"

// Store is the persistence the pipeline reads and writes directly.
type Store interface {
	FindBrokerByEmail(ctx context.Context, email string) (*models.Broker, error)
	FindCaseByPrimaryEmail(ctx context.Context, brokerID, email string) (*models.Case, error)
	CreateCase(ctx context.Context, c *models.Case) error
	ListRecords(ctx context.Context, caseID string) ([]models.DocumentRecord, error)
	CreateRecord(ctx context.Context, r *models.DocumentRecord) error
}

// Classifier returns the intent of a message. It never fails.
type Classifier interface {
	Classify(ctx context.Context, req oracle.ClassifyRequest) *models.Classification
}

// Consolidator stores the attachments of one message in its case folder.
type Consolidator interface {
	Consolidate(ctx context.Context, c *models.Case, attachments []models.Attachment) (*documents.Report, error)
}

// Deps are the components a Pipeline sequences. All are required.
type Deps struct {
	Store      Store
	Blobs      blob.Store
	Resolver   *resolver.Resolver
	Classifier Classifier
	Engine     Consolidator
	Memory     *memory.Memory
	Drafter    *drafter.Drafter
	Transport  delivery.Transport
	Catalog    *documents.Catalog
	// PlaceholderDomain completes the primary address of a case created
	// without a usable customer address.
	PlaceholderDomain string
}

// Pipeline processes inbound messages one at a time. It is safe for
// concurrent use; cases of one broker are created under a per-broker lock.
type Pipeline struct {
	store             Store
	blobs             blob.Store
	resolver          *resolver.Resolver
	classifier        Classifier
	engine            Consolidator
	memory            *memory.Memory
	drafter           *drafter.Drafter
	transport         delivery.Transport
	catalog           *documents.Catalog
	placeholderDomain string
	brokerLocks       *documents.KeyedLocker
	handlers          map[models.Intent]intentHandler
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	domain := d.PlaceholderDomain
	if domain == "" {
		domain = "placeholder.invalid"
	}
	return &Pipeline{
		store:             d.Store,
		blobs:             d.Blobs,
		resolver:          d.Resolver,
		classifier:        d.Classifier,
		engine:            d.Engine,
		memory:            d.Memory,
		drafter:           d.Drafter,
		transport:         d.Transport,
		catalog:           d.Catalog,
		placeholderDomain: domain,
		brokerLocks:       documents.NewKeyedLocker(),
		handlers:          intentHandlers(),
	}
}

// Outcome is what happened to one message.
type Outcome struct {
	MessageID string
	// State is the last state reached: done, abandoned or failed.
	State State
	// Processed is false when the message was abandoned or failed.
	Processed   bool
	BrokerID    string
	CaseID      string
	CaseCreated bool
	Intent      models.Intent
	Fallback    bool
	Stored      []string
	Duplicates  []string
	// GroupFailures are attachment groups that could not be consolidated.
	// They do not make the message fail.
	GroupFailures []documents.GroupResult
	Delivered     bool
	Err           error
}

func (o *Outcome) transition(s State, outcome string, attrs ...any) {
	o.State = s
	args := []any{
		"message_id", o.MessageID,
		"state", string(s),
		"broker_id", o.BrokerID,
		"case_id", o.CaseID,
		"outcome", outcome,
	}
	slog.Info("pipeline transition", append(args, attrs...)...)
}

func (o *Outcome) fail(s State, err error) Outcome {
	o.Err = err
	o.Processed = false
	o.transition(s, "error", "from", string(o.State), "reason", failure.TextCode(err), "error", err)
	return *o
}

// Process runs one message through the state machine. A message that cannot
// be attributed to a broker or a customer is reported in the Outcome, never
// returned as an error; Outcome.Err carries the reason.
func (p *Pipeline) Process(ctx context.Context, msg *models.InboundMessage) Outcome {
	o := &Outcome{MessageID: msg.MessageID}
	o.transition(StateStart, "received",
		"mailbox", msg.Mailbox,
		"attachments", len(msg.Attachments),
	)

	// Broker.
	broker, senderIsBroker, err := p.resolveBroker(ctx, msg)
	if err != nil {
		return o.fail(StateFailed, err)
	}
	if broker == nil {
		return o.fail(StateAbandoned, failure.BrokerNotFound(msg.MessageID))
	}
	o.BrokerID = broker.ID
	o.transition(StateResolveBroker, "found", "sender_is_broker", senderIsBroker)

	// Existing case.
	req := resolver.Request{Message: msg, Broker: broker, SenderIsBroker: senderIsBroker}
	res, err := p.resolver.Resolve(ctx, req)
	if err != nil {
		return o.fail(StateFailed, failure.Persistence(err, "resolve case"))
	}
	c := res.Case
	narrative := ""
	if res.Found() {
		o.CaseID = c.ID
		o.transition(StateResolveCase, "found", "matched_address", res.MatchedAddress)
		if n, err := p.memory.Get(ctx, c.ID); err != nil {
			slog.Warn("narrative unavailable for classification", "case_id", c.ID, "error", err)
		} else {
			narrative = n.Summary
		}
	} else {
		o.transition(StateResolveCase, "not_found", "candidates", len(res.Candidates))
	}

	// Classification.
	cls := p.classifier.Classify(ctx, oracle.ClassifyRequest{
		Message:    msg,
		Broker:     broker,
		CaseExists: res.Found(),
		Narrative:  narrative,
	})
	o.Intent = cls.Intent
	o.Fallback = cls.Fallback
	o.transition(StateClassify, string(cls.Intent),
		"confidence", cls.Confidence,
		"fallback", cls.Fallback,
	)

	// New case.
	if c == nil {
		var created bool
		c, created, err = p.createCase(ctx, broker, msg, res.Candidates, cls)
		if err != nil {
			return o.fail(StateFailed, err)
		}
		o.CaseID = c.ID
		o.CaseCreated = created
		outcome := "created"
		if !created {
			outcome = "joined_existing"
		}
		o.transition(StateCreateCase, outcome, "primary_email", c.PrimaryEmail)
	}

	// Intent.
	handle, ok := p.handlers[cls.Intent]
	if !ok {
		handle = p.handlers[models.IntentQuestion]
	}
	event, err := handle(ctx, p, intentInput{msg: msg, broker: broker, c: c, cls: cls, created: o.CaseCreated})
	if err != nil {
		slog.Warn("intent handler failed", "message_id", msg.MessageID, "intent", cls.Intent, "error", err)
		o.transition(StateApplyIntent, "error")
	} else {
		o.transition(StateApplyIntent, "applied")
	}

	// Attachments.
	if len(msg.Attachments) > 0 {
		report, err := p.engine.Consolidate(ctx, c, msg.Attachments)
		if err != nil {
			return o.fail(StateFailed, err)
		}
		o.Stored = report.Stored()
		o.Duplicates = report.Duplicates
		o.GroupFailures = report.Failed()
		outcome := "consolidated"
		if len(o.GroupFailures) > 0 {
			outcome = "partial"
		}
		o.transition(StateProcessAttachments, outcome,
			"stored", len(o.Stored),
			"duplicates", len(o.Duplicates),
			"group_failures", len(o.GroupFailures),
		)
	}

	// Memory.
	if len(o.Stored) > 0 {
		event += " Documents filed: " + strings.Join(o.Stored, ", ") + "."
	}
	n, err := p.memory.Fold(ctx, c.ID, event)
	switch {
	case err != nil:
		o.transition(StateUpdateMemory, "kept_prior", "error", err)
	default:
		o.transition(StateUpdateMemory, "folded")
	}
	if n != nil {
		narrative = n.Summary
	}

	// Draft and shadow delivery.
	draft := p.drafter.Draft(ctx, drafter.Request{
		Message:        msg,
		Broker:         broker,
		Case:           c,
		Classification: cls,
		Narrative:      narrative,
		Stored:         o.Stored,
		Missing:        p.missingDocuments(ctx, c.ID),
	})
	env := delivery.NewEnvelope(delivery.Shadow{
		BrokerEmail:       broker.Email,
		BrokerID:          broker.ID,
		CaseID:            c.ID,
		MessageID:         msg.MessageID,
		IntendedRecipient: draft.Recipient,
		OriginalSubject:   msg.Subject,
		DraftSubject:      draft.Subject,
		DraftBody:         draft.Body,
	})
	if err := p.transport.Send(ctx, env); err != nil {
		slog.Error("shadow delivery failed",
			"message_id", msg.MessageID,
			"case_id", c.ID,
			"error", err,
		)
		o.transition(StateDraftDeliver, "not_delivered", "draft_fallback", draft.Fallback)
	} else {
		o.Delivered = true
		o.transition(StateDraftDeliver, "delivered", "to", env.To, "draft_fallback", draft.Fallback)
	}

	o.Processed = true
	o.transition(StateDone, "processed")
	return *o
}

// resolveBroker looks the sender up first; a broker sender means the message
// is a forward. Otherwise the first recipient that is a broker wins.
func (p *Pipeline) resolveBroker(ctx context.Context, msg *models.InboundMessage) (*models.Broker, bool, error) {
	if sender := strings.TrimSpace(msg.From.Address); sender != "" {
		b, err := p.store.FindBrokerByEmail(ctx, sender)
		if err != nil {
			return nil, false, failure.Persistence(fmt.Errorf("find broker %s: %w", sender, err), "find broker")
		}
		if b != nil {
			return b, true, nil
		}
	}
	for _, r := range msg.Recipients() {
		addr := strings.TrimSpace(r.Address)
		if addr == "" {
			continue
		}
		b, err := p.store.FindBrokerByEmail(ctx, addr)
		if err != nil {
			return nil, false, failure.Persistence(fmt.Errorf("find broker %s: %w", addr, err), "find broker")
		}
		if b != nil {
			return b, false, nil
		}
	}
	return nil, false, nil
}

// missingDocuments names the catalog types still expected for a case.
func (p *Pipeline) missingDocuments(ctx context.Context, caseID string) []string {
	records, err := p.store.ListRecords(ctx, caseID)
	if err != nil {
		slog.Warn("could not list records for draft", "case_id", caseID, "error", err)
		return nil
	}
	var out []string
	for _, r := range records {
		if r.Status != models.DocumentMissing {
			continue
		}
		if t, ok := p.catalog.ByID(r.TypeID); ok {
			out = append(out, t.Name)
		}
	}
	return out
}
