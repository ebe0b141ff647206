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

package oracle

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = `You sort email sent to a loan broker by their customers.
Answer with one JSON object and nothing else:
{"action": "...", "summary": "...", "confidence": 0.0, "details": {}}

action is one of:
- NEW_CASE: a customer starts a new loan application
- DOCUMENTS_SENT: the customer sends documents
- MODIFY_LIST: the broker or customer changes the list of expected documents
- QUESTION: the customer asks something
- CONTEXT: information about the case, no action expected

summary: at most 200 characters.
confidence: between 0 and 1.
details may contain: client_last_name, client_first_name, client_email, loan_type,
pieces_mentioned (list), attachment_count (number), pieces_to_add (list),
pieces_to_remove (list), subject, urgent (bool), category.`

// forwardedRule is appended when the message carries a forwarded thread.
// Intent comes from the newest reply; identity comes from the quoted history.
const forwardedRule = `This message contains a forwarded thread.
Decide the action from the most recent reply only, at the top of the body.
Extract the customer's name and email from the forwarded history below it.`

const noCaseHint = `No case exists yet for this customer. Prefer NEW_CASE when the customer is
introducing a loan request, even if documents are attached.`

const caseHint = `A case already exists for this customer. Do not answer NEW_CASE for a new list of
documents; use MODIFY_LIST or DOCUMENTS_SENT.`

const maxBodyChars = 6000

func buildClassifyPrompt(req ClassifyRequest) []ChatMessage {
	system := classifySystemPrompt
	if req.Message.IsForwarded() {
		system += "\n\n" + forwardedRule
	}
	if req.CaseExists {
		system += "\n\n" + caseHint
	} else {
		system += "\n\n" + noCaseHint
	}

	var b strings.Builder
	if req.Broker != nil {
		fmt.Fprintf(&b, "Broker: %s <%s>\n", req.Broker.DisplayName, req.Broker.Email)
	}
	fmt.Fprintf(&b, "From: %s\n", req.Message.From.Address)
	fmt.Fprintf(&b, "Subject: %s\n", req.Message.Subject)
	if len(req.Message.Attachments) > 0 {
		b.WriteString("Attachments:\n")
		for _, a := range req.Message.Attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Filename, a.ContentType)
		}
	}
	if req.Narrative != "" {
		fmt.Fprintf(&b, "Case history: %s\n", req.Narrative)
	}
	b.WriteString("\nBody:\n")
	b.WriteString(truncate(req.Message.Body.Content, maxBodyChars))

	return []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}
