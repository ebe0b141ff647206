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

import "time"

// DocumentType is a catalog entry for an expected piece of a case.
type DocumentType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Mandatory bool   `json:"mandatory"`
}

// DocumentStatus tracks a Document Record through review.
type DocumentStatus string

const (
	DocumentMissing       DocumentStatus = "missing"
	DocumentReceived      DocumentStatus = "received"
	DocumentNonConforming DocumentStatus = "non_conforming"
	DocumentUnrecognized  DocumentStatus = "unrecognized"
)

// DocumentRecord is the persisted state of one (case, document type) master file.
//
// TypeID is empty for ad-hoc types. Hashes holds every content hash folded into
// the master file; ContentHash is the most recent one.
type DocumentRecord struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	TypeID      string         `json:"type_id,omitempty"`
	Status      DocumentStatus `json:"status"`
	FileID      string         `json:"file_id,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Hashes      []string       `json:"hashes,omitempty"`
	ReceivedAt  *time.Time     `json:"received_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasHash reports whether the record already folded in content with hash h.
func (r *DocumentRecord) HasHash(h string) bool {
	if h == "" {
		return false
	}
	if r.ContentHash == h {
		return true
	}
	for _, x := range r.Hashes {
		if x == h {
			return true
		}
	}
	return false
}
