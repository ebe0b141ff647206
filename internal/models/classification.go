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
	"fmt"
	"strconv"
	"strings"
)

// Intent is what the sender wants from the broker.
type Intent string

const (
	IntentNewCase       Intent = "new_case"
	IntentDocumentsSent Intent = "documents_sent"
	IntentModifyList    Intent = "modify_list"
	IntentQuestion      Intent = "question"
	IntentContext       Intent = "context"
)

// Detail keys returned by the classification oracle.
const (
	DetailClientLastName  = "client_last_name"
	DetailClientFirstName = "client_first_name"
	DetailClientEmail     = "client_email"
	DetailLoanType        = "loan_type"
	DetailPiecesMentioned = "pieces_mentioned"
	DetailAttachmentCount = "attachment_count"
	DetailPiecesToAdd     = "pieces_to_add"
	DetailPiecesToRemove  = "pieces_to_remove"
	DetailSubject         = "subject"
	DetailUrgent          = "urgent"
	DetailCategory        = "category"
)

var intentAliases = map[string]Intent{
	"NEW_CASE":        IntentNewCase,
	"NOUVEAU_DOSSIER": IntentNewCase,
	"DOCUMENTS_SENT":  IntentDocumentsSent,
	"ENVOI_DOCUMENTS": IntentDocumentsSent,
	"MODIFY_LIST":     IntentModifyList,
	"MODIFIER_LISTE":  IntentModifyList,
	"QUESTION":        IntentQuestion,
	"CONTEXT":         IntentContext,
	"CONTEXTE":        IntentContext,
}

// ParseIntent maps an oracle action label onto an Intent.
func ParseIntent(label string) (Intent, error) {
	key := strings.ToUpper(strings.TrimSpace(label))
	key = strings.ReplaceAll(key, " ", "_")
	if in, ok := intentAliases[key]; ok {
		return in, nil
	}
	return "", fmt.Errorf("unknown intent %q", label)
}

// Classification is the oracle's verdict on one inbound message.
type Classification struct {
	Intent     Intent         `json:"intent"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details"`
	Fallback   bool           `json:"fallback"`
}

// Detail returns a detail value rendered as a trimmed string.
func (c *Classification) Detail(key string) string {
	v, ok := c.Details[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// DetailList returns a list detail as strings. A single string value is
// returned as a one-element list.
func (c *Classification) DetailList(key string) []string {
	v, ok := c.Details[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, x := range t {
			if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}
