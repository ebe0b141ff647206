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
	"net/mail"
	"strings"

	"github.com/brokerdesk/intake/internal/blob"
	"github.com/brokerdesk/intake/internal/documents"
	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/models"
)

// createCase opens a case for a message no existing case matched. The
// customer's last name is mandatory. Creation runs under the broker's lock
// and re-checks the primary address first, so two messages from the same
// new customer end up in one case.
func (p *Pipeline) createCase(ctx context.Context, broker *models.Broker, msg *models.InboundMessage, candidates []string, cls *models.Classification) (*models.Case, bool, error) {
	last := cls.Detail(models.DetailClientLastName)
	first := cls.Detail(models.DetailClientFirstName)
	if last == "" {
		return nil, false, failure.ClientNotIdentified(msg.MessageID)
	}
	email := p.primaryEmail(broker, candidates, cls, first, last)

	unlock := p.brokerLocks.Lock(broker.ID)
	defer unlock()

	existing, err := p.store.FindCaseByPrimaryEmail(ctx, broker.ID, email)
	if err != nil {
		return nil, false, failure.Persistence(fmt.Errorf("re-check case %s: %w", email, err), "find case")
	}
	if existing != nil {
		return existing, false, nil
	}

	folderID, err := p.caseFolder(ctx, broker, last, first)
	if err != nil {
		return nil, false, err
	}

	loanType := cls.Detail(models.DetailLoanType)
	if loanType == "" {
		loanType = DefaultLoanType
	}
	c := &models.Case{
		BrokerID:     broker.ID,
		LastName:     last,
		FirstName:    first,
		PrimaryEmail: email,
		LoanType:     loanType,
		Status:       models.CaseOpen,
		FolderID:     folderID,
	}
	if err := p.store.CreateCase(ctx, c); err != nil {
		return nil, false, failure.Persistence(fmt.Errorf("create case %s: %w", email, err), "create case")
	}
	slog.Info("case created",
		"case_id", c.ID,
		"broker_id", broker.ID,
		"client", c.DisplayName(),
		"primary_email", c.PrimaryEmail,
		"folder_id", folderID,
	)
	return c, true, nil
}

// primaryEmail picks the first customer address of the message, then the
// address the classifier extracted, then a placeholder built from the name.
func (p *Pipeline) primaryEmail(broker *models.Broker, candidates []string, cls *models.Classification, first, last string) string {
	if len(candidates) > 0 {
		return candidates[0]
	}
	if raw := cls.Detail(models.DetailClientEmail); raw != "" {
		if a, err := mail.ParseAddress(raw); err == nil && !strings.EqualFold(a.Address, broker.Email) {
			return strings.ToLower(a.Address)
		}
	}
	return documents.PlaceholderEmail(first, last, p.placeholderDomain)
}

// caseFolder gets or creates the customer folder under the broker root. A
// broker without a usable root folder is a data integrity problem.
func (p *Pipeline) caseFolder(ctx context.Context, broker *models.Broker, last, first string) (string, error) {
	if broker.RootFolderID == "" {
		return "", failure.FolderMissing("broker", broker.ID)
	}
	ok, err := p.blobs.FolderExists(ctx, broker.RootFolderID)
	if err != nil {
		return "", failure.Storage(fmt.Errorf("check root folder of broker %s: %w", broker.ID, err), "folder check")
	}
	if !ok {
		return "", failure.FolderMissing("broker", broker.ID)
	}
	id, err := blob.GetOrCreateFolder(ctx, p.blobs, documents.CaseFolderName(last, first), broker.RootFolderID)
	if err != nil {
		return "", failure.Storage(fmt.Errorf("case folder: %w", err), "create folder")
	}
	return id, nil
}
