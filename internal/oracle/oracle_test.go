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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/models"
)

// scriptedChat replays canned replies and records each call.
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   [][]ChatMessage
}

func (s *scriptedChat) Complete(_ context.Context, messages []ChatMessage, _ CompletionOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, messages)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func (s *scriptedChat) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func fastOracle(chat Completer) *Oracle {
	return New(chat, Config{Timeout: time.Second, MaxAttempts: 3, BackoffBase: time.Millisecond})
}

func message(attachments int) *models.InboundMessage {
	msg := &models.InboundMessage{
		MessageID: "m1",
		From:      models.EmailAddress{Address: "client@example.com"},
		Subject:   "Documents",
		Body:      models.EmailBody{Content: "Please find my documents."},
	}
	for i := 0; i < attachments; i++ {
		msg.Attachments = append(msg.Attachments, models.Attachment{Filename: "doc.pdf", ContentType: "application/pdf"})
	}
	return msg
}

// TestClassify_OverHTTP verifies a full round trip through the chat client.
func TestClassify_OverHTTP(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		content := `{"action":"DOCUMENTS_SENT","summary":"Payslips sent","confidence":0.92,"details":{"attachment_count":1}}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	defer server.Close()

	o := fastOracle(NewChatClient(server.Client(), server.URL+"/v1/", "key", "small"))
	res := o.Classify(context.Background(), ClassifyRequest{Message: message(1), CaseExists: true})

	assert.Equal(t, models.IntentDocumentsSent, res.Intent)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.False(t, res.Fallback)
	assert.Equal(t, "1", res.Detail(models.DetailAttachmentCount))

	assert.Equal(t, "small", gotBody["model"])
	assert.InDelta(t, 0.1, gotBody["temperature"], 1e-9)
	assert.NotNil(t, gotBody["response_format"])
}

// TestClassify_RetriesMalformed verifies non-JSON replies are retried.
func TestClassify_RetriesMalformed(t *testing.T) {
	chat := &scriptedChat{replies: []string{
		"I think this is about documents",
		"```json\n{\"action\":\"QUESTION\",\"summary\":\"asks about rates\",\"confidence\":1.7}\n```",
	}}
	res := fastOracle(chat).Classify(context.Background(), ClassifyRequest{Message: message(0)})

	assert.Equal(t, 2, chat.callCount())
	assert.Equal(t, models.IntentQuestion, res.Intent)
	assert.Equal(t, 1.0, res.Confidence, "confidence is clamped to 1")
	assert.NotNil(t, res.Details)
}

// TestClassify_UnreachableFallsBack verifies the documents-sent fallback
// carries the attachment count and a low confidence.
func TestClassify_UnreachableFallsBack(t *testing.T) {
	down := errors.New("connection refused")
	chat := &scriptedChat{errs: []error{down, down, down, down}}

	res := fastOracle(chat).Classify(context.Background(), ClassifyRequest{Message: message(3)})

	assert.Equal(t, 3, chat.callCount())
	assert.True(t, res.Fallback)
	assert.Equal(t, models.IntentDocumentsSent, res.Intent)
	assert.LessOrEqual(t, res.Confidence, 0.5)
	assert.Equal(t, "3", res.Detail(models.DetailAttachmentCount))
}

// TestFallback_NoAttachments verifies the question fallback.
func TestFallback_NoAttachments(t *testing.T) {
	res := Fallback(message(0))
	assert.Equal(t, models.IntentQuestion, res.Intent)
	assert.Equal(t, FallbackConfidence, res.Confidence)
	assert.Empty(t, res.Details)
}

// TestGenerate_ExhaustedRetries verifies Generate reports a classified error.
func TestGenerate_ExhaustedRetries(t *testing.T) {
	down := errors.New("timeout")
	chat := &scriptedChat{errs: []error{down, down, down}}

	_, err := fastOracle(chat).Generate(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.Equal(t, failure.CodeOracleUnavailable, failure.TextCode(err))
	assert.Equal(t, 3, chat.callCount())
}

// TestGenerate_TrimsOutput verifies generated text is trimmed.
func TestGenerate_TrimsOutput(t *testing.T) {
	chat := &scriptedChat{replies: []string{"  Case opened for DURAND.  \n"}}
	out, err := fastOracle(chat).Generate(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Case opened for DURAND.", out)
}

// TestClassify_CancelledContext verifies a cancelled batch does not hang.
func TestClassify_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chat := &scriptedChat{errs: []error{errors.New("x")}}
	res := New(chat, Config{BackoffBase: time.Hour}).Classify(ctx, ClassifyRequest{Message: message(1)})
	assert.True(t, res.Fallback)
}

// TestBuildClassifyPrompt_Forwarded verifies the forwarded-thread rule and
// case-exists hint reach the system prompt.
func TestBuildClassifyPrompt_Forwarded(t *testing.T) {
	msg := message(1)
	msg.Subject = "Fwd: pieces"

	prompt := buildClassifyPrompt(ClassifyRequest{Message: msg, CaseExists: false, Narrative: "opened"})
	require.Len(t, prompt, 2)
	assert.Contains(t, prompt[0].Content, "most recent reply")
	assert.Contains(t, prompt[0].Content, "No case exists yet")
	assert.Contains(t, prompt[1].Content, "doc.pdf")
	assert.Contains(t, prompt[1].Content, "Case history: opened")

	plain := buildClassifyPrompt(ClassifyRequest{Message: message(0), CaseExists: true})
	assert.False(t, strings.Contains(plain[0].Content, "forwarded thread"))
	assert.Contains(t, plain[0].Content, "already exists")
}
