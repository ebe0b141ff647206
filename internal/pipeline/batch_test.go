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
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/intake/internal/documents"
	"github.com/brokerdesk/intake/internal/failure"
	"github.com/brokerdesk/intake/internal/metrics"
	"github.com/brokerdesk/intake/internal/models"
)

// outcomeProcessor returns a canned outcome per message id.
type outcomeProcessor struct {
	outcomes map[string]Outcome
	calls    atomic.Int32
}

func (p *outcomeProcessor) Process(_ context.Context, msg *models.InboundMessage) Outcome {
	p.calls.Add(1)
	o := p.outcomes[msg.MessageID]
	o.MessageID = msg.MessageID
	return o
}

func batchOf(ids ...string) []*models.InboundMessage {
	out := make([]*models.InboundMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.InboundMessage{MessageID: id})
	}
	return out
}

// TestRun_Summary verifies counts, triage reasons and that the batch runs
// past failed messages.
func TestRun_Summary(t *testing.T) {
	proc := &outcomeProcessor{outcomes: map[string]Outcome{
		"ok":       {State: StateDone, Processed: true},
		"orphan":   {State: StateAbandoned, Err: failure.BrokerNotFound("orphan")},
		"nameless": {State: StateFailed, Err: failure.ClientNotIdentified("nameless")},
		"partial": {State: StateDone, Processed: true, GroupFailures: []documents.GroupResult{
			{MasterType: documents.MasterPayslip, Err: failure.GroupFailed(errors.New("corrupt"), "PAYSLIP")},
		}},
	}}
	r := NewRunner(proc, RunnerConfig{Workers: 2, Metrics: metrics.New(prometheus.NewRegistry())})

	sum, err := r.Run(context.Background(), batchOf("ok", "orphan", "nameless", "partial"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sum.Status)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)

	reasons := map[string]string{}
	for _, f := range sum.Failures {
		reasons[f.MessageID] = f.Reason
	}
	assert.Equal(t, map[string]string{
		"orphan":   failure.CodeBrokerNotFound,
		"nameless": failure.CodeClientNotIdentified,
		"partial":  failure.CodeGroupFailed,
	}, reasons)
}

// TestRun_FatalIsReturned verifies integrity failures surface as an error
// while the rest of the batch still runs.
func TestRun_FatalIsReturned(t *testing.T) {
	proc := &outcomeProcessor{outcomes: map[string]Outcome{
		"bad":  {State: StateFailed, Err: failure.FolderMissing("case", "c-1")},
		"good": {State: StateDone, Processed: true},
	}}
	sum, err := NewRunner(proc, RunnerConfig{}).Run(context.Background(), batchOf("bad", "good"))
	require.Error(t, err)
	assert.True(t, failure.IsFatal(err))
	assert.Equal(t, 1, sum.Succeeded)
	assert.EqualValues(t, 2, proc.calls.Load())
}

// TestRun_MaintenancePauses verifies nothing is processed in maintenance mode.
func TestRun_MaintenancePauses(t *testing.T) {
	proc := &outcomeProcessor{}
	sum, err := NewRunner(proc, RunnerConfig{MaintenanceMode: true}).Run(context.Background(), batchOf("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, sum.Status)
	assert.Zero(t, proc.calls.Load())
}
