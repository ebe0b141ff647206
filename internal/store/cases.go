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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brokerdesk/intake/internal/models"
)

const caseColumns = `id, broker_id, last_name, first_name, primary_email, secondary_emails,
	loan_type, status, folder_id, created_at, updated_at`

// CreateCase inserts a new case. The folder reference is mandatory.
func (s *Postgres) CreateCase(ctx context.Context, c *models.Case) error {
	if c.FolderID == "" {
		return fmt.Errorf("case for %s has no folder reference", c.PrimaryEmail)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CaseOpen
	}
	if c.SecondaryEmails == nil {
		c.SecondaryEmails = []string{}
	}
	c.PrimaryEmail = normEmail(c.PrimaryEmail)
	return s.pool.QueryRow(ctx, `
		INSERT INTO cases
			(id, broker_id, last_name, first_name, primary_email, secondary_emails, loan_type, status, folder_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, c.ID, c.BrokerID, c.LastName, c.FirstName, c.PrimaryEmail, c.SecondaryEmails,
		c.LoanType, string(c.Status), c.FolderID).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetCase retrieves a case by id.
func (s *Postgres) GetCase(ctx context.Context, id string) (*models.Case, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	return scanCase(row)
}

// FindCaseByPrimaryEmail looks up a broker's case by its primary address.
func (s *Postgres) FindCaseByPrimaryEmail(ctx context.Context, brokerID, email string) (*models.Case, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE broker_id = $1 AND primary_email = $2
		ORDER BY created_at LIMIT 1
	`, brokerID, normEmail(email))
	return scanCase(row)
}

// FindCaseBySecondaryEmail looks up a broker's case listing email as a secondary address.
func (s *Postgres) FindCaseBySecondaryEmail(ctx context.Context, brokerID, email string) (*models.Case, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+` FROM cases
		WHERE broker_id = $1 AND $2 = ANY(secondary_emails)
		ORDER BY created_at LIMIT 1
	`, brokerID, normEmail(email))
	return scanCase(row)
}

// AddSecondaryEmail appends email to the case's secondary list unless it is
// already the primary or a listed secondary address.
func (s *Postgres) AddSecondaryEmail(ctx context.Context, caseID, email string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cases
		SET secondary_emails = array_append(secondary_emails, $2), updated_at = NOW()
		WHERE id = $1 AND primary_email <> $2 AND NOT ($2 = ANY(secondary_emails))
	`, caseID, normEmail(email))
	return err
}

// ListCasesByBroker returns a broker's cases, newest first.
func (s *Postgres) ListCasesByBroker(ctx context.Context, brokerID string) ([]models.Case, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+caseColumns+` FROM cases WHERE broker_id = $1 ORDER BY created_at DESC
	`, brokerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCase(row pgx.Row) (*models.Case, error) {
	var c models.Case
	var status string
	err := row.Scan(
		&c.ID, &c.BrokerID, &c.LastName, &c.FirstName, &c.PrimaryEmail, &c.SecondaryEmails,
		&c.LoanType, &status, &c.FolderID, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	return &c, nil
}
