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

package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/intake/internal/models"
	"github.com/brokerdesk/intake/internal/store"
)

type fixture struct {
	store  *store.Memory
	broker *models.Broker
	res    *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	broker := &models.Broker{Email: "broker@example.com", Active: true, RootFolderID: "root"}
	require.NoError(t, mem.UpsertBroker(ctx, broker))
	return &fixture{
		store:  mem,
		broker: broker,
		res:    New(mem, []string{"noreply@agent.example.com"}),
	}
}

func (f *fixture) addCase(t *testing.T, primary string, secondary ...string) *models.Case {
	t.Helper()
	c := &models.Case{
		BrokerID:        f.broker.ID,
		LastName:        "Durand",
		PrimaryEmail:    primary,
		SecondaryEmails: secondary,
		FolderID:        "folder-" + primary,
	}
	require.NoError(t, f.store.CreateCase(context.Background(), c))
	return c
}

// TestCandidateAddresses_Order verifies order, dedup and pattern sources.
func TestCandidateAddresses_Order(t *testing.T) {
	msg := &models.InboundMessage{
		From: models.EmailAddress{Address: "Broker@Example.com"},
		To:   []models.EmailAddress{{Address: "agent@example.com"}},
		Cc:   []models.EmailAddress{{Address: "broker@example.com"}},
		Body: models.EmailBody{Content: "Voir ci-dessous.\n\n---------- Forwarded message ---------\n" +
			"De : Anne Durand <Anne.Durand@Mail.fr>\nDate: lundi\n" +
			"Expéditeur: \"Paul\" <paul@mail.fr>\n" +
			"Contact her spouse at marc@mail.fr or not-an-address@ or (x@y)."},
	}

	got := CandidateAddresses(msg)
	assert.Equal(t, []string{
		"broker@example.com",
		"agent@example.com",
		"anne.durand@mail.fr",
		"paul@mail.fr",
		"marc@mail.fr",
	}, got)
}

// TestResolve_PrimaryMatch verifies the common case.
func TestResolve_PrimaryMatch(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, "client@example.com")

	msg := &models.InboundMessage{
		From: models.EmailAddress{Address: "Client@Example.com"},
		To:   []models.EmailAddress{{Address: "broker@example.com"}},
	}
	res, err := f.res.Resolve(context.Background(), Request{Message: msg, Broker: f.broker})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, c.ID, res.Case.ID)
	assert.Equal(t, "client@example.com", res.MatchedAddress)
	assert.Empty(t, res.Case.SecondaryEmails)
}

// TestResolve_SecondaryMatchAttributesSender verifies a co-borrower writing
// with the customer in copy is matched and recorded once.
func TestResolve_SecondaryMatchAttributesSender(t *testing.T) {
	f := newFixture(t)
	c := f.addCase(t, "client@example.com")

	msg := &models.InboundMessage{
		From: models.EmailAddress{Address: "spouse@example.com"},
		To:   []models.EmailAddress{{Address: "broker@example.com"}},
		Cc:   []models.EmailAddress{{Address: "client@example.com"}},
	}
	req := Request{Message: msg, Broker: f.broker}

	for i := 0; i < 2; i++ {
		res, err := f.res.Resolve(context.Background(), req)
		require.NoError(t, err)
		require.True(t, res.Found())
		assert.Equal(t, c.ID, res.Case.ID)
	}

	stored, err := f.store.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"spouse@example.com"}, stored.SecondaryEmails)

	// Next time the spouse is found through the secondary list alone.
	alone := &models.InboundMessage{From: models.EmailAddress{Address: "spouse@example.com"}}
	res, err := f.res.Resolve(context.Background(), Request{Message: alone, Broker: f.broker})
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "spouse@example.com", res.MatchedAddress)
}

// TestResolve_BrokerForwardExcludesSender verifies a forwarding broker is
// never resolved as the customer.
func TestResolve_BrokerForwardExcludesSender(t *testing.T) {
	f := newFixture(t)
	other := &models.Broker{Email: "colleague@example.com", Active: true, RootFolderID: "root2"}
	require.NoError(t, f.store.UpsertBroker(context.Background(), other))
	// A stale case accidentally keyed on the forwarding broker's address.
	f.addCase(t, "colleague@example.com")

	msg := &models.InboundMessage{
		From:    models.EmailAddress{Address: "colleague@example.com"},
		To:      []models.EmailAddress{{Address: "broker@example.com"}},
		Subject: "Fwd: dossier",
		Body:    models.EmailBody{Content: "---------- Forwarded message ---------\nFrom: New Customer <new@customer.fr>"},
	}
	res, err := f.res.Resolve(context.Background(), Request{Message: msg, Broker: f.broker, SenderIsBroker: true})
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, []string{"new@customer.fr"}, res.Candidates)
}

// TestResolve_ExcludesSystemAddresses verifies configured service mailboxes are skipped.
func TestResolve_ExcludesSystemAddresses(t *testing.T) {
	f := newFixture(t)
	msg := &models.InboundMessage{
		From: models.EmailAddress{Address: "NoReply@agent.example.com"},
		To:   []models.EmailAddress{{Address: "broker@example.com"}},
	}
	assert.Empty(t, f.res.Candidates(Request{Message: msg, Broker: f.broker}))
}

type failingFinder struct{ CaseFinder }

func (failingFinder) FindCaseByPrimaryEmail(context.Context, string, string) (*models.Case, error) {
	return nil, errors.New("db down")
}

// TestResolve_LookupErrorPropagates verifies persistence failures are not
// mistaken for "not found".
func TestResolve_LookupErrorPropagates(t *testing.T) {
	r := New(failingFinder{}, nil)
	msg := &models.InboundMessage{From: models.EmailAddress{Address: "client@example.com"}}
	_, err := r.Resolve(context.Background(), Request{Message: msg, Broker: &models.Broker{ID: "b", Email: "broker@example.com"}})
	assert.Error(t, err)
}
