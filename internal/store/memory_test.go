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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/intake/internal/models"
)

func seedCase(t *testing.T, m *Memory) *models.Case {
	t.Helper()
	ctx := context.Background()
	b := &models.Broker{Email: "Broker@Example.com", Active: true, RootFolderID: "root/"}
	require.NoError(t, m.UpsertBroker(ctx, b))
	c := &models.Case{BrokerID: b.ID, LastName: "Durand", PrimaryEmail: "Client@Example.com", FolderID: "root/CLIENT_DURAND/"}
	require.NoError(t, m.CreateCase(ctx, c))
	return c
}

// TestMemory_CaseLookups verifies primary and secondary address lookups.
func TestMemory_CaseLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := seedCase(t, m)

	found, err := m.FindCaseByPrimaryEmail(ctx, c.BrokerID, "client@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, c.ID, found.ID)

	require.NoError(t, m.AddSecondaryEmail(ctx, c.ID, "Spouse@Example.com"))
	require.NoError(t, m.AddSecondaryEmail(ctx, c.ID, "spouse@example.com"))
	require.NoError(t, m.AddSecondaryEmail(ctx, c.ID, "client@example.com"))

	got, err := m.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"spouse@example.com"}, got.SecondaryEmails)

	found, err = m.FindCaseBySecondaryEmail(ctx, c.BrokerID, "spouse@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, c.ID, found.ID)

	missing, err := m.FindCaseByPrimaryEmail(ctx, "other-broker", "client@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestMemory_CreateCaseRequiresFolder verifies the folder reference is mandatory.
func TestMemory_CreateCaseRequiresFolder(t *testing.T) {
	m := NewMemory()
	err := m.CreateCase(context.Background(), &models.Case{BrokerID: "b", PrimaryEmail: "x@example.com"})
	assert.Error(t, err)
}

// TestMemory_RecordHashLookup verifies lookups by current and historical hashes.
func TestMemory_RecordHashLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := seedCase(t, m)

	rec := &models.DocumentRecord{
		CaseID:      c.ID,
		Status:      models.DocumentReceived,
		ContentHash: "h2",
		Hashes:      []string{"h1", "h2"},
		Metadata:    map[string]any{"filename": "a.pdf"},
	}
	require.NoError(t, m.CreateRecord(ctx, rec))

	for _, h := range []string{"h1", "h2"} {
		found, err := m.FindRecordByHash(ctx, c.ID, h)
		require.NoError(t, err)
		require.NotNil(t, found, "hash %s", h)
		assert.Equal(t, rec.ID, found.ID)
	}

	none, err := m.FindRecordByHash(ctx, c.ID, "h3")
	require.NoError(t, err)
	assert.Nil(t, none)

	// Mutating a returned copy must not change stored state.
	list, err := m.ListRecords(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list[0].Metadata["filename"] = "changed.pdf"
	again, _ := m.ListRecords(ctx, c.ID)
	assert.Equal(t, "a.pdf", again[0].Metadata["filename"])
}

// TestMemory_DeltaLinks verifies cursor round trips are keyed per mailbox.
func TestMemory_DeltaLinks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.SaveDeltaLink(ctx, "t1", "Agent@Example.com", "delta://1"))
	link, err := m.GetDeltaLink(ctx, "t1", "agent@example.com")
	require.NoError(t, err)
	assert.Equal(t, "delta://1", link)

	link, err = m.GetDeltaLink(ctx, "t2", "agent@example.com")
	require.NoError(t, err)
	assert.Empty(t, link)
}
