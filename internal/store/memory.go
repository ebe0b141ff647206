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
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brokerdesk/intake/internal/models"
)

// Memory is an in-process implementation of the persistence service.
// Returned values are copies; callers never alias stored state.
type Memory struct {
	mu         sync.RWMutex
	brokers    map[string]models.Broker
	cases      map[string]models.Case
	types      map[string]models.DocumentType
	records    map[string]models.DocumentRecord
	narratives map[string]models.Narrative
	cursors    map[string]string
	now        func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		brokers:    make(map[string]models.Broker),
		cases:      make(map[string]models.Case),
		types:      make(map[string]models.DocumentType),
		records:    make(map[string]models.DocumentRecord),
		narratives: make(map[string]models.Narrative),
		cursors:    make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) UpsertBroker(_ context.Context, b *models.Broker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Email = normEmail(b.Email)
	for id, existing := range m.brokers {
		if existing.Email == b.Email {
			b.ID = id
			b.CreatedAt = existing.CreatedAt
		}
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	m.brokers[b.ID] = *b
	return nil
}

func (m *Memory) GetBroker(_ context.Context, id string) (*models.Broker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.brokers[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) FindBrokerByEmail(_ context.Context, email string) (*models.Broker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = normEmail(email)
	for _, b := range m.brokers {
		if b.Email == email && b.Active {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListBrokers(context.Context) ([]models.Broker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.brokers))
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *Memory) CreateCase(_ context.Context, c *models.Case) error {
	if c.FolderID == "" {
		return fmt.Errorf("case for %s has no folder reference", c.PrimaryEmail)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.PrimaryEmail = normEmail(c.PrimaryEmail)
	for _, existing := range m.cases {
		if existing.BrokerID == c.BrokerID && existing.PrimaryEmail == c.PrimaryEmail {
			return fmt.Errorf("case for %s already exists", c.PrimaryEmail)
		}
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
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	m.cases[c.ID] = cloneCase(*c)
	return nil
}

func (m *Memory) GetCase(_ context.Context, id string) (*models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cases[id]; ok {
		out := cloneCase(c)
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) FindCaseByPrimaryEmail(_ context.Context, brokerID, email string) (*models.Case, error) {
	return m.findCase(func(c models.Case) bool {
		return c.BrokerID == brokerID && c.PrimaryEmail == normEmail(email)
	}), nil
}

func (m *Memory) FindCaseBySecondaryEmail(_ context.Context, brokerID, email string) (*models.Case, error) {
	return m.findCase(func(c models.Case) bool {
		return c.BrokerID == brokerID && slices.Contains(c.SecondaryEmails, normEmail(email))
	}), nil
}

func (m *Memory) findCase(match func(models.Case) bool) *models.Case {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Case
	for _, c := range m.cases {
		if match(c) && (found == nil || c.CreatedAt.Before(found.CreatedAt)) {
			cc := cloneCase(c)
			found = &cc
		}
	}
	return found
}

func (m *Memory) AddSecondaryEmail(_ context.Context, caseID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s not found", caseID)
	}
	email = normEmail(email)
	if c.PrimaryEmail == email || slices.Contains(c.SecondaryEmails, email) {
		return nil
	}
	c.SecondaryEmails = append(slices.Clone(c.SecondaryEmails), email)
	c.UpdatedAt = m.now()
	m.cases[caseID] = c
	return nil
}

func (m *Memory) ListCasesByBroker(_ context.Context, brokerID string) ([]models.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Case
	for _, c := range m.cases {
		if c.BrokerID == brokerID {
			out = append(out, cloneCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpsertDocumentType(_ context.Context, t *models.DocumentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.types {
		if existing.Name == t.Name {
			t.ID = id
		}
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	m.types[t.ID] = *t
	return nil
}

func (m *Memory) ListDocumentTypes(context.Context) ([]models.DocumentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.types))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListRecords(_ context.Context, caseID string) ([]models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DocumentRecord
	for _, r := range m.records {
		if r.CaseID == caseID {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindRecordByHash(_ context.Context, caseID, hash string) (*models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.CaseID == caseID && r.HasHash(hash) {
			out := cloneRecord(r)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateRecord(_ context.Context, r *models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = m.now()
	r.UpdatedAt = r.CreatedAt
	m.records[r.ID] = cloneRecord(*r)
	return nil
}

func (m *Memory) UpdateRecord(_ context.Context, r *models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[r.ID]
	if !ok {
		return fmt.Errorf("document record %s not found", r.ID)
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.now()
	m.records[r.ID] = cloneRecord(*r)
	return nil
}

func (m *Memory) GetNarrative(_ context.Context, caseID string) (*models.Narrative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.narratives[caseID]; ok {
		return &n, nil
	}
	return nil, nil
}

func (m *Memory) SaveNarrative(_ context.Context, n *models.Narrative) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.narratives[n.CaseID] = *n
	return nil
}

func (m *Memory) SaveDeltaLink(_ context.Context, tenantID, mailbox, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[tenantID+":"+normEmail(mailbox)] = link
	return nil
}

func (m *Memory) GetDeltaLink(_ context.Context, tenantID, mailbox string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[tenantID+":"+normEmail(mailbox)], nil
}

func cloneCase(c models.Case) models.Case {
	c.SecondaryEmails = slices.Clone(c.SecondaryEmails)
	return c
}

func cloneRecord(r models.DocumentRecord) models.DocumentRecord {
	r.Hashes = slices.Clone(r.Hashes)
	r.Metadata = maps.Clone(r.Metadata)
	if r.ReceivedAt != nil {
		t := *r.ReceivedAt
		r.ReceivedAt = &t
	}
	return r
}
