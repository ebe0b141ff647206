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

// Package metrics exposes the intake pipeline's Prometheus counters.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline counters.
type Metrics struct {
	messages       *prometheus.CounterVec
	oracleFallback prometheus.Counter
	oracleRetries  prometheus.Counter
	consolidated   *prometheus.CounterVec
	groupFailures  *prometheus.CounterVec
	duplicates     prometheus.Counter
	batchDuration  prometheus.Histogram
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Inbound messages by final outcome.",
		}, []string{"outcome"}),
		oracleFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "intake_oracle_fallbacks_total",
			Help: "Classifications that fell back after exhausting retries.",
		}),
		oracleRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "intake_oracle_retries_total",
			Help: "Oracle call attempts beyond the first.",
		}),
		consolidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_documents_consolidated_total",
			Help: "Master files created or appended, by master type.",
		}, []string{"master_type", "mode"}),
		groupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_attachment_group_failures_total",
			Help: "Attachment groups that failed consolidation.",
		}, []string{"master_type"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "intake_duplicate_attachments_total",
			Help: "Attachments skipped because their content hash was already stored.",
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_batch_duration_seconds",
			Help:    "Wall time of one batch run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) MessageOutcome(outcome string) {
	if m != nil {
		m.messages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OracleFallback() {
	if m != nil {
		m.oracleFallback.Inc()
	}
}

func (m *Metrics) OracleRetry() {
	if m != nil {
		m.oracleRetries.Inc()
	}
}

// Consolidated counts a master file write; mode is "created" or "appended".
func (m *Metrics) Consolidated(masterType, mode string) {
	if m != nil {
		m.consolidated.WithLabelValues(masterType, mode).Inc()
	}
}

func (m *Metrics) GroupFailed(masterType string) {
	if m != nil {
		m.groupFailures.WithLabelValues(masterType).Inc()
	}
}

func (m *Metrics) DuplicateAttachment() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) BatchSeconds(s float64) {
	if m != nil {
		m.batchDuration.Observe(s)
	}
}
