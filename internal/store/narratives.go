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

	"github.com/jackc/pgx/v5"

	"github.com/brokerdesk/intake/internal/models"
)

// GetNarrative returns the narrative of a case, or nil when none exists yet.
func (s *Postgres) GetNarrative(ctx context.Context, caseID string) (*models.Narrative, error) {
	var n models.Narrative
	err := s.pool.QueryRow(ctx, `
		SELECT case_id, summary, updated_at FROM narratives WHERE case_id = $1
	`, caseID).Scan(&n.CaseID, &n.Summary, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// SaveNarrative upserts the narrative of a case.
func (s *Postgres) SaveNarrative(ctx context.Context, n *models.Narrative) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO narratives (case_id, summary, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id) DO UPDATE SET
			summary    = EXCLUDED.summary,
			updated_at = EXCLUDED.updated_at
	`, n.CaseID, n.Summary, n.UpdatedAt)
	return err
}
