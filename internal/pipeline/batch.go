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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/metrics"
	"github.com/brokerdesk/intake/internal/models"
)

// Batch statuses.
const (
	StatusCompleted = "completed"
	StatusPaused    = "paused"
)

// Failure is one triage line of a batch summary.
type Failure struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
}

// Summary is the result of one batch.
type Summary struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	// Failures lists failed messages and the attachment groups that failed
	// inside otherwise processed messages.
	Failures []Failure     `json:"failures"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Processor handles one message.
type Processor interface {
	Process(ctx context.Context, msg *models.InboundMessage) Outcome
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// Workers is the number of messages processed at once. Zero means one.
	Workers         int
	MaintenanceMode bool
	// MessageTimeout bounds one message. Zero means five minutes.
	MessageTimeout time.Duration
	Metrics        *metrics.Metrics
}

// Runner processes batches of messages.
type Runner struct {
	proc        Processor
	workers     int
	maintenance bool
	timeout     time.Duration
	metrics     *metrics.Metrics
}

// NewRunner creates a Runner.
func NewRunner(proc Processor, cfg RunnerConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 5 * time.Minute
	}
	return &Runner{
		proc:        proc,
		workers:     cfg.Workers,
		maintenance: cfg.MaintenanceMode,
		timeout:     cfg.MessageTimeout,
		metrics:     cfg.Metrics,
	}
}

// Run processes msgs in order (concurrently when workers > 1) and always
// completes the batch. The returned error joins the fatal failures, such as
// a missing storage folder, that need operator attention.
func (r *Runner) Run(ctx context.Context, msgs []*models.InboundMessage) (Summary, error) {
	if r.maintenance {
		slog.Warn("maintenance mode enabled, batch skipped", "pending", len(msgs))
		return Summary{Status: StatusPaused, Total: len(msgs), Failures: []Failure{}}, nil
	}

	start := time.Now()
	outcomes := make([]Outcome, len(msgs))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, msg := range msgs {
		g.Go(func() error {
			msgCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			outcomes[i] = r.proc.Process(msgCtx, msg)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Status: StatusCompleted, Total: len(msgs), Failures: []Failure{}}
	var fatal []error
	for _, o := range outcomes {
		r.metrics.MessageOutcome(string(o.State))
		if o.Processed {
			sum.Succeeded++
		} else {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{
				MessageID: o.MessageID,
				Reason:    failure.TextCode(o.Err),
				Error:     errString(o.Err),
			})
			if failure.IsFatal(o.Err) {
				fatal = append(fatal, fmt.Errorf("message %s: %w", o.MessageID, o.Err))
			}
		}
		for _, gf := range o.GroupFailures {
			sum.Failures = append(sum.Failures, Failure{
				MessageID: o.MessageID,
				Reason:    failure.CodeGroupFailed,
				Error:     errString(gf.Err),
			})
		}
	}
	sum.Elapsed = time.Since(start)
	r.metrics.BatchSeconds(sum.Elapsed.Seconds())

	slog.Info("batch complete",
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"failures", len(sum.Failures),
		"elapsed", sum.Elapsed,
	)
	return sum, errors.Join(fatal...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
