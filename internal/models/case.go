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

package models

import (
	"strings"
	"time"
)

// Broker is the professional account that owns cases and a root storage folder.
type Broker struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Active       bool      `json:"active"`
	RootFolderID string    `json:"root_folder_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CaseStatus is the lifecycle state of a customer dossier.
type CaseStatus string

const (
	CaseOpen     CaseStatus = "open"
	CaseComplete CaseStatus = "complete"
	CaseArchived CaseStatus = "archived"
)

// Case is a customer's document-collection dossier.
//
// FolderID is set at creation and never changes. SecondaryEmails only grows.
type Case struct {
	ID              string     `json:"id"`
	BrokerID        string     `json:"broker_id"`
	LastName        string     `json:"last_name"`
	FirstName       string     `json:"first_name"`
	PrimaryEmail    string     `json:"primary_email"`
	SecondaryEmails []string   `json:"secondary_emails"`
	LoanType        string     `json:"loan_type"`
	Status          CaseStatus `json:"status"`
	FolderID        string     `json:"folder_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DisplayName renders "LASTNAME Firstname".
func (c *Case) DisplayName() string {
	return strings.TrimSpace(strings.ToUpper(c.LastName) + " " + c.FirstName)
}

// KnowsEmail reports whether addr is already the primary or a secondary address.
func (c *Case) KnowsEmail(addr string) bool {
	addr = strings.ToLower(addr)
	if strings.ToLower(c.PrimaryEmail) == addr {
		return true
	}
	for _, e := range c.SecondaryEmails {
		if strings.ToLower(e) == addr {
			return true
		}
	}
	return false
}

// Narrative is the running summary of everything known about a case.
type Narrative struct {
	CaseID    string    `json:"case_id"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}
