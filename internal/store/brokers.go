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

const brokerColumns = `id, email, display_name, active, root_folder_id, created_at`

// UpsertBroker inserts or updates a broker keyed on email.
func (s *Postgres) UpsertBroker(ctx context.Context, b *models.Broker) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.Email = normEmail(b.Email)
	return s.pool.QueryRow(ctx, `
		INSERT INTO brokers (id, email, display_name, active, root_folder_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			display_name   = EXCLUDED.display_name,
			active         = EXCLUDED.active,
			root_folder_id = EXCLUDED.root_folder_id
		RETURNING id, created_at
	`, b.ID, b.Email, b.DisplayName, b.Active, b.RootFolderID).Scan(&b.ID, &b.CreatedAt)
}

// GetBroker retrieves a broker by id.
func (s *Postgres) GetBroker(ctx context.Context, id string) (*models.Broker, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE id = $1`, id)
	return scanBroker(row)
}

// FindBrokerByEmail retrieves an active broker by address.
func (s *Postgres) FindBrokerByEmail(ctx context.Context, email string) (*models.Broker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+brokerColumns+` FROM brokers WHERE email = $1 AND active
	`, normEmail(email))
	return scanBroker(row)
}

// ListBrokers returns every broker ordered by email.
func (s *Postgres) ListBrokers(ctx context.Context) ([]models.Broker, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+brokerColumns+` FROM brokers ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Broker
	for rows.Next() {
		b, err := scanBroker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBroker(row pgx.Row) (*models.Broker, error) {
	var b models.Broker
	err := row.Scan(&b.ID, &b.Email, &b.DisplayName, &b.Active, &b.RootFolderID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
