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

// Package store is the persistence service for brokers, cases, the document
// type catalog, document records, case narratives and mailbox cursors.
//
// Postgres is the production implementation. Memory holds the same data in
// process and backs tests and dry runs. Lookups that find nothing return
// (nil, nil) so "not found" is an ordinary result.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres provides CRUD operations backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure intake schema: %w", err)
	}
	slog.Info("intake store initialised")
	return s, nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS brokers (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL UNIQUE,
			display_name   TEXT DEFAULT '',
			active         BOOLEAN DEFAULT TRUE,
			root_folder_id TEXT DEFAULT '',
			created_at     TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS cases (
			id               TEXT PRIMARY KEY,
			broker_id        TEXT NOT NULL REFERENCES brokers(id),
			last_name        TEXT NOT NULL,
			first_name       TEXT DEFAULT '',
			primary_email    TEXT NOT NULL,
			secondary_emails TEXT[] DEFAULT '{}',
			loan_type        TEXT DEFAULT '',
			status           TEXT DEFAULT 'open',
			folder_id        TEXT NOT NULL,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(broker_id, primary_email)
		);
		CREATE INDEX IF NOT EXISTS idx_cases_secondary ON cases USING GIN (secondary_emails);
		CREATE TABLE IF NOT EXISTS document_types (
			id        TEXT PRIMARY KEY,
			name      TEXT NOT NULL UNIQUE,
			category  TEXT DEFAULT '',
			mandatory BOOLEAN DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS document_records (
			id           TEXT PRIMARY KEY,
			case_id      TEXT NOT NULL REFERENCES cases(id),
			type_id      TEXT REFERENCES document_types(id),
			status       TEXT NOT NULL,
			file_id      TEXT DEFAULT '',
			content_hash TEXT DEFAULT '',
			hashes       TEXT[] DEFAULT '{}',
			received_at  TIMESTAMPTZ,
			metadata     JSONB DEFAULT '{}',
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_records_case ON document_records(case_id);
		CREATE TABLE IF NOT EXISTS narratives (
			case_id    TEXT PRIMARY KEY REFERENCES cases(id),
			summary    TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS mailbox_cursors (
			tenant_id  TEXT NOT NULL,
			mailbox    TEXT NOT NULL,
			delta_link TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (tenant_id, mailbox)
		);
	`)
	return err
}

// SaveDeltaLink persists the retrieval high-water mark for a mailbox.
func (s *Postgres) SaveDeltaLink(ctx context.Context, tenantID, mailbox, deltaLink string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_cursors (tenant_id, mailbox, delta_link)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, mailbox) DO UPDATE SET
			delta_link = EXCLUDED.delta_link,
			updated_at = NOW()
	`, tenantID, strings.ToLower(mailbox), deltaLink)
	return err
}

// GetDeltaLink returns the stored delta link, or "" when none exists.
func (s *Postgres) GetDeltaLink(ctx context.Context, tenantID, mailbox string) (string, error) {
	var link string
	err := s.pool.QueryRow(ctx, `
		SELECT delta_link FROM mailbox_cursors WHERE tenant_id = $1 AND mailbox = $2
	`, tenantID, strings.ToLower(mailbox)).Scan(&link)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return link, err
}

// normEmail is the canonical stored form of an address.
func normEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
