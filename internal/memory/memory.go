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

// Package memory keeps one running narrative per case. New events are folded
// into the prior narrative by the text generator; a failed fold leaves the
// stored narrative as it was.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokerdesk/intake/internal/models"
)

// Placeholder is the narrative of a case nothing has happened to yet.
const Placeholder = "Case opened. No history yet."

const foldSystemPrompt = `You maintain the running summary of a loan application file for a broker.
Rewrite the summary so it includes the new event. Keep every fact already in the summary
unless the event explicitly replaces it. Answer with the new summary only, in at most 10 sentences.`

const maxEventChars = 1500

// Store persists narratives. GetNarrative returns (nil, nil) when none exists.
type Store interface {
	GetNarrative(ctx context.Context, caseID string) (*models.Narrative, error)
	SaveNarrative(ctx context.Context, n *models.Narrative) error
}

// Generator produces free text.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Memory folds events into case narratives.
type Memory struct {
	store Store
	gen   Generator
	now   func() time.Time
}

// New creates a Memory.
func New(store Store, gen Generator) *Memory {
	return &Memory{
		store: store,
		gen:   gen,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the case narrative, creating the placeholder on first access.
func (m *Memory) Get(ctx context.Context, caseID string) (*models.Narrative, error) {
	n, err := m.store.GetNarrative(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("get narrative: %w", err)
	}
	if n != nil {
		return n, nil
	}

	n = &models.Narrative{CaseID: caseID, Summary: Placeholder, UpdatedAt: m.now()}
	if err := m.store.SaveNarrative(ctx, n); err != nil {
		return nil, fmt.Errorf("create narrative: %w", err)
	}
	slog.Debug("narrative created", "case_id", caseID)
	return n, nil
}

// Fold rewrites the narrative to include event. On any failure the stored
// narrative is left untouched and the prior narrative is returned with the error.
func (m *Memory) Fold(ctx context.Context, caseID, event string) (*models.Narrative, error) {
	prior, err := m.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Current summary:\n%s\n\nNew event:\n%s", prior.Summary, clip(event, maxEventChars))
	text, err := m.gen.Generate(ctx, foldSystemPrompt, prompt)
	if err != nil {
		slog.Warn("narrative fold failed, keeping prior summary",
			"case_id", caseID,
			"error", err,
		)
		return prior, fmt.Errorf("fold narrative: %w", err)
	}

	next := &models.Narrative{CaseID: caseID, Summary: text, UpdatedAt: m.now()}
	if err := m.store.SaveNarrative(ctx, next); err != nil {
		return prior, fmt.Errorf("save narrative: %w", err)
	}
	return next, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
