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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brokerdesk/intake/internal/models"
)

type intentInput struct {
	msg     *models.InboundMessage
	broker  *models.Broker
	c       *models.Case
	cls     *models.Classification
	created bool
}

// intentHandler applies the side effects of an intent and returns the event
// text folded into the case narrative.
type intentHandler func(ctx context.Context, p *Pipeline, in intentInput) (string, error)

func intentHandlers() map[models.Intent]intentHandler {
	return map[models.Intent]intentHandler{
		models.IntentNewCase:       handleNewCase,
		models.IntentDocumentsSent: handleDocumentsSent,
		models.IntentModifyList:    handleModifyList,
		models.IntentQuestion:      handleQuestion,
		models.IntentContext:       handleContext,
	}
}

func handleNewCase(ctx context.Context, p *Pipeline, in intentInput) (string, error) {
	var b strings.Builder
	if in.created {
		fmt.Fprintf(&b, "New case opened for %s (%s).", in.c.DisplayName(), in.c.LoanType)
	} else {
		fmt.Fprintf(&b, "New loan request from %s.", in.c.DisplayName())
	}
	if in.cls.Summary != "" {
		fmt.Fprintf(&b, " %s", in.cls.Summary)
	}
	added, err := p.expectDocuments(ctx, in.c, in.cls.DetailList(models.DetailPiecesMentioned))
	if len(added) > 0 {
		fmt.Fprintf(&b, " Expected documents: %s.", strings.Join(added, ", "))
	}
	return b.String(), err
}

func handleDocumentsSent(_ context.Context, _ *Pipeline, in intentInput) (string, error) {
	names := in.msg.AttachmentNames()
	if len(names) == 0 {
		return fmt.Sprintf("Customer announced documents without attachments. %s", in.cls.Summary), nil
	}
	return fmt.Sprintf("Customer sent %d attachment(s): %s.", len(names), strings.Join(names, ", ")), nil
}

// handleModifyList registers added pieces. Removed pieces are only noted:
// records are never deleted or downgraded.
func handleModifyList(ctx context.Context, p *Pipeline, in intentInput) (string, error) {
	var b strings.Builder
	b.WriteString("Document list changed.")
	added, err := p.expectDocuments(ctx, in.c, in.cls.DetailList(models.DetailPiecesToAdd))
	if len(added) > 0 {
		fmt.Fprintf(&b, " Added: %s.", strings.Join(added, ", "))
	}
	if removed := in.cls.DetailList(models.DetailPiecesToRemove); len(removed) > 0 {
		fmt.Fprintf(&b, " No longer required: %s.", strings.Join(removed, ", "))
	}
	return b.String(), err
}

func handleQuestion(_ context.Context, _ *Pipeline, in intentInput) (string, error) {
	return fmt.Sprintf("Customer asked: %s", summaryOrSubject(in)), nil
}

func handleContext(_ context.Context, _ *Pipeline, in intentInput) (string, error) {
	return fmt.Sprintf("Information received: %s", summaryOrSubject(in)), nil
}

func summaryOrSubject(in intentInput) string {
	if in.cls.Summary != "" {
		return in.cls.Summary
	}
	return in.msg.Subject
}

// expectDocuments creates a missing record for each named piece that
// resolves to a catalog type the case has no record of yet. It returns the
// catalog names registered.
func (p *Pipeline) expectDocuments(ctx context.Context, c *models.Case, pieces []string) ([]string, error) {
	if len(pieces) == 0 {
		return nil, nil
	}
	records, err := p.store.ListRecords(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	known := make(map[string]bool, len(records))
	for _, r := range records {
		if r.TypeID != "" {
			known[r.TypeID] = true
		}
	}

	var added []string
	for _, piece := range pieces {
		t, ok := p.catalog.Lookup(piece)
		if !ok {
			slog.Debug("mentioned piece not in catalog", "case_id", c.ID, "piece", piece)
			continue
		}
		if known[t.ID] {
			continue
		}
		rec := &models.DocumentRecord{
			CaseID:   c.ID,
			TypeID:   t.ID,
			Status:   models.DocumentMissing,
			Metadata: map[string]any{"requested_as": piece},
		}
		if err := p.store.CreateRecord(ctx, rec); err != nil {
			return added, fmt.Errorf("register %s: %w", t.Name, err)
		}
		known[t.ID] = true
		added = append(added, t.Name)
	}
	return added, nil
}
