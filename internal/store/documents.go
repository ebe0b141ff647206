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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brokerdesk/intake/internal/models"
)

// UpsertDocumentType inserts or updates a catalog entry keyed on name.
func (s *Postgres) UpsertDocumentType(ctx context.Context, t *models.DocumentType) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO document_types (id, name, category, mandatory)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			category  = EXCLUDED.category,
			mandatory = EXCLUDED.mandatory
		RETURNING id
	`, t.ID, t.Name, t.Category, t.Mandatory).Scan(&t.ID)
}

// ListDocumentTypes returns the whole catalog.
func (s *Postgres) ListDocumentTypes(ctx context.Context) ([]models.DocumentType, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, category, mandatory FROM document_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentType
	for rows.Next() {
		var t models.DocumentType
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Mandatory); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const recordColumns = `id, case_id, COALESCE(type_id, ''), status, file_id, content_hash, hashes,
	received_at, metadata, created_at, updated_at`

// ListRecords returns every document record of a case.
func (s *Postgres) ListRecords(ctx context.Context, caseID string) ([]models.DocumentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM document_records WHERE case_id = $1 ORDER BY created_at
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// FindRecordByHash returns the record of a case that already holds content with hash.
func (s *Postgres) FindRecordByHash(ctx context.Context, caseID, hash string) (*models.DocumentRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM document_records
		WHERE case_id = $1 AND (content_hash = $2 OR $2 = ANY(hashes))
		LIMIT 1
	`, caseID, hash)
	return scanRecord(row)
}

// CreateRecord inserts a document record.
func (s *Postgres) CreateRecord(ctx context.Context, r *models.DocumentRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Hashes == nil {
		r.Hashes = []string{}
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO document_records
			(id, case_id, type_id, status, file_id, content_hash, hashes, received_at, metadata)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, r.ID, r.CaseID, r.TypeID, string(r.Status), r.FileID, r.ContentHash, r.Hashes,
		r.ReceivedAt, r.Metadata).Scan(&r.CreatedAt, &r.UpdatedAt)
}

// UpdateRecord overwrites the mutable fields of a record.
func (s *Postgres) UpdateRecord(ctx context.Context, r *models.DocumentRecord) error {
	return s.pool.QueryRow(ctx, `
		UPDATE document_records SET
			type_id      = NULLIF($2, ''),
			status       = $3,
			file_id      = $4,
			content_hash = $5,
			hashes       = $6,
			received_at  = $7,
			metadata     = $8,
			updated_at   = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, r.ID, r.TypeID, string(r.Status), r.FileID, r.ContentHash, r.Hashes,
		r.ReceivedAt, r.Metadata).Scan(&r.UpdatedAt)
}

func scanRecord(row pgx.Row) (*models.DocumentRecord, error) {
	var r models.DocumentRecord
	var status string
	err := row.Scan(
		&r.ID, &r.CaseID, &r.TypeID, &status, &r.FileID, &r.ContentHash, &r.Hashes,
		&r.ReceivedAt, &r.Metadata, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.DocumentStatus(status)
	return &r, nil
}
