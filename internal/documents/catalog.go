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

package documents

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/brokerdesk/intake/internal/models"
)

// aliasTables are tried in order after an exact lookup misses. Each table is
// a list of equivalence groups; the members of the group holding the key are
// tried in the order listed and the first catalog hit wins.
var aliasTables = [][][]string{
	// Legacy catalog names.
	{
		{"IDENTITY", "PIECE_D_IDENTITE", "CARTE_NATIONALE_D_IDENTITE", "CNI", "PASSEPORT"},
		{"PAYSLIP", "BULLETINS_DE_SALAIRE", "BULLETIN_DE_SALAIRE", "BULLETINS_DE_PAIE", "FICHES_DE_PAIE"},
		{"TAX_NOTICE", "AVIS_D_IMPOSITION", "AVIS_D_IMPOT", "DERNIER_AVIS_D_IMPOSITION"},
		{"COMPANY_REGISTRATION", "KBIS", "EXTRAIT_KBIS"},
		{"BANK_STATEMENT", "RELEVES_DE_COMPTE", "RELEVES_BANCAIRES", "RELEVES_DE_COMPTES"},
		{"FAMILY_RECORD", "LIVRET_DE_FAMILLE"},
	},
	// English variants.
	{
		{"IDENTITY", "IDENTITY_DOCUMENT", "ID_CARD", "PASSPORT"},
		{"PAYSLIP", "PAYSLIPS", "PAY_SLIPS"},
		{"TAX_NOTICE", "TAX_NOTICES", "TAX_RETURN"},
		{"COMPANY_REGISTRATION", "CERTIFICATE_OF_INCORPORATION"},
		{"BANK_STATEMENT", "BANK_STATEMENTS"},
		{"FAMILY_RECORD", "FAMILY_RECORD_BOOK"},
	},
}

// NormalizeKey maps a type name to its lookup key: upper case, accents
// removed, every run of other characters collapsed to one underscore.
func NormalizeKey(name string) string {
	s := strings.ToUpper(foldAccents(strings.TrimSpace(name)))
	var b strings.Builder
	pending := false
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			pending = false
			continue
		}
		pending = true
	}
	return b.String()
}

// TypeLister loads the document type catalog.
type TypeLister interface {
	ListDocumentTypes(ctx context.Context) ([]models.DocumentType, error)
}

// Catalog is the read-only document type lookup of one process run.
type Catalog struct {
	byKey map[string]models.DocumentType
}

// NewCatalog indexes types by normalized name.
func NewCatalog(types []models.DocumentType) *Catalog {
	c := &Catalog{byKey: make(map[string]models.DocumentType, len(types))}
	for _, t := range types {
		if k := NormalizeKey(t.Name); k != "" {
			c.byKey[k] = t
		}
	}
	return c
}

// LoadCatalog reads the catalog once from persistence.
func LoadCatalog(ctx context.Context, l TypeLister) (*Catalog, error) {
	types, err := l.ListDocumentTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document types: %w", err)
	}
	return NewCatalog(types), nil
}

// ByID returns the catalog entry with the given id.
func (c *Catalog) ByID(id string) (models.DocumentType, bool) {
	if c == nil || id == "" {
		return models.DocumentType{}, false
	}
	for _, t := range c.byKey {
		if t.ID == id {
			return t, true
		}
	}
	return models.DocumentType{}, false
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.byKey) }

// Lookup resolves a free-text type name: exact key first, then each alias
// table in order.
func (c *Catalog) Lookup(name string) (models.DocumentType, bool) {
	if c == nil {
		return models.DocumentType{}, false
	}
	key := NormalizeKey(name)
	if key == "" {
		return models.DocumentType{}, false
	}
	if t, ok := c.byKey[key]; ok {
		return t, true
	}
	for _, table := range aliasTables {
		for _, group := range table {
			if !contains(group, key) {
				continue
			}
			for _, alias := range group {
				if t, ok := c.byKey[alias]; ok {
					return t, true
				}
			}
		}
	}
	return models.DocumentType{}, false
}

// Resolve maps a master type to its catalog entry. The other-documents bucket
// never resolves.
func (c *Catalog) Resolve(m MasterType) (models.DocumentType, bool) {
	if m == MasterOther {
		return models.DocumentType{}, false
	}
	return c.Lookup(string(m))
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
