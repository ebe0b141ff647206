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

// Package oracle classifies inbound messages and generates free text through
// an external language model. Calls are rate limited, bounded by a timeout,
// and retried; classification degrades to a low-confidence fallback instead
// of failing.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/metrics"
	"github.com/brokerdesk/intake/internal/models"
)

// FallbackConfidence is attached to every fallback classification.
const FallbackConfidence = 0.3

const maxSummaryChars = 200

// errMalformed marks a response that arrived but could not be used.
var errMalformed = errors.New("malformed oracle response")

// Completer is the chat completion capability the oracle needs.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error)
}

// ClassifyRequest is everything the classifier sees about one message.
type ClassifyRequest struct {
	Message    *models.InboundMessage
	Broker     *models.Broker
	CaseExists bool
	Narrative  string
}

// Oracle wraps a Completer with retries, backoff, rate limiting and fallback.
type Oracle struct {
	chat        Completer
	limiter     *rate.Limiter
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	metrics     *metrics.Metrics
}

// Config holds oracle tuning.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	RatePerSec  float64
	// BackoffBase scales both the linear and the exponential backoff.
	BackoffBase time.Duration
	Metrics     *metrics.Metrics
}

// New creates an Oracle.
func New(chat Completer, cfg Config) *Oracle {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Oracle{
		chat:        chat,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		metrics:     cfg.Metrics,
	}
}

// Classify returns the oracle's verdict, or a fallback classification when
// every attempt failed. The fallback has Fallback set and low confidence.
func (o *Oracle) Classify(ctx context.Context, req ClassifyRequest) *models.Classification {
	messages := buildClassifyPrompt(req)

	var result *models.Classification
	err := o.withRetry(ctx, "classify", func(ctx context.Context) error {
		raw, err := o.chat.Complete(ctx, messages, CompletionOptions{Temperature: 0.1, JSON: true})
		if err != nil {
			return err
		}
		result, err = parseClassification(raw)
		return err
	})
	if err == nil {
		return result
	}

	slog.Warn("classification fell back to default",
		"message_id", req.Message.MessageID,
		"error", err,
	)
	o.metrics.OracleFallback()
	return Fallback(req.Message)
}

// Generate asks for free text (narrative folds, reply drafts).
func (o *Oracle) Generate(ctx context.Context, system, prompt string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	var out string
	err := o.withRetry(ctx, "generate", func(ctx context.Context) error {
		raw, err := o.chat.Complete(ctx, messages, CompletionOptions{Temperature: 0.3})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(raw)
		if out == "" {
			return fmt.Errorf("%w: empty text", errMalformed)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// withRetry runs call up to maxAttempts times. Malformed responses back off
// linearly, transport failures exponentially.
func (o *Oracle) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			o.metrics.OracleRetry()
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return failure.OracleUnavailable(err, attempt-1)
		}

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		lastErr = call(callCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		slog.Warn("oracle call failed",
			"op", op,
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt == o.maxAttempts {
			break
		}

		delay := o.backoffBase * time.Duration(1<<attempt)
		if errors.Is(lastErr, errMalformed) {
			delay = o.backoffBase * time.Duration(attempt)
		}
		select {
		case <-ctx.Done():
			return failure.OracleUnavailable(ctx.Err(), attempt)
		case <-time.After(delay):
		}
	}
	return failure.OracleUnavailable(lastErr, o.maxAttempts)
}

// Fallback is the conservative classification used when the oracle is unavailable.
func Fallback(msg *models.InboundMessage) *models.Classification {
	if n := len(msg.Attachments); n > 0 {
		return &models.Classification{
			Intent:     models.IntentDocumentsSent,
			Summary:    fmt.Sprintf("%d attachment(s) received, automatic classification unavailable", n),
			Confidence: FallbackConfidence,
			Details:    map[string]any{models.DetailAttachmentCount: n},
			Fallback:   true,
		}
	}
	return &models.Classification{
		Intent:     models.IntentQuestion,
		Summary:    "message received, automatic classification unavailable",
		Confidence: FallbackConfidence,
		Details:    map[string]any{},
		Fallback:   true,
	}
}

type rawClassification struct {
	Action     string         `json:"action"`
	Summary    string         `json:"summary"`
	Confidence *float64       `json:"confidence"`
	Details    map[string]any `json:"details"`
}

func parseClassification(raw string) (*models.Classification, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object", errMalformed)
	}

	var rc rawClassification
	if err := json.Unmarshal([]byte(body), &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	intent, err := models.ParseIntent(rc.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	confidence := 0.5
	if rc.Confidence != nil {
		confidence = min(max(*rc.Confidence, 0), 1)
	}
	if rc.Details == nil {
		rc.Details = map[string]any{}
	}
	return &models.Classification{
		Intent:     intent,
		Summary:    truncate(strings.TrimSpace(rc.Summary), maxSummaryChars),
		Confidence: confidence,
		Details:    rc.Details,
	}, nil
}

// extractJSON strips code fences and surrounding prose around a JSON object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
