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

// Package app wires the intake agent from its configuration: persistence,
// blob storage, Redis, the oracle, the pipeline and the mailbox readers.
// Both commands build their process through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/brokerdesk/intake/internal/blob"
	"github.com/brokerdesk/intake/internal/config"
	"github.com/brokerdesk/intake/internal/dedup"
	"github.com/brokerdesk/intake/internal/delivery"
	"github.com/brokerdesk/intake/internal/documents"
	"github.com/brokerdesk/intake/internal/drafter"
	"github.com/brokerdesk/intake/internal/mailbox"
	"github.com/brokerdesk/intake/internal/memory"
	"github.com/brokerdesk/intake/internal/metrics"
	"github.com/brokerdesk/intake/internal/models"
	"github.com/brokerdesk/intake/internal/oracle"
	"github.com/brokerdesk/intake/internal/pdfdoc"
	"github.com/brokerdesk/intake/internal/pipeline"
	"github.com/brokerdesk/intake/internal/resolver"
	"github.com/brokerdesk/intake/internal/store"
)

const checkTimeout = 5 * time.Second

// App is a wired intake agent.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Health   healthcheck.Handler

	Pipeline   *pipeline.Pipeline
	Runner     *pipeline.Runner
	Syncer     *mailbox.Syncer
	Backfiller *mailbox.Backfiller

	store *store.Postgres
	pool  *pgxpool.Pool
	rdb   *redis.Client
}

// Build connects every backend and assembles the pipeline. The document
// type catalog is loaded once here and stays read-only.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Health:   healthcheck.NewHandler(),
	}
	a.Metrics = metrics.New(a.Registry)
	a.Health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(1000))

	// --- PostgreSQL ---
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.Agent.StoreTimeout.Milliseconds(), 10)
	a.pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := a.pool.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	a.store, err = store.NewPostgres(ctx, a.pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Health.AddReadinessCheck("postgres", pingCheck(a.store.Ping))

	// --- Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.rdb = redis.NewClient(opt)
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("connected to Redis")
	a.Health.AddReadinessCheck("redis", pingCheck(func(ctx context.Context) error {
		return a.rdb.Ping(ctx).Err()
	}))

	// --- Blob storage ---
	blobs, err := a.buildBlobs(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// --- Shadow delivery ---
	var transport delivery.Transport
	switch cfg.DeliveryMode {
	case "smtp":
		transport = delivery.NewSMTP(cfg.SMTP)
	default:
		transport = delivery.NewOutbox(a.rdb, cfg.OutboxQueue)
	}

	// --- Oracle ---
	chat := oracle.NewChatClient(&http.Client{Timeout: cfg.LLM.Timeout}, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	orc := oracle.New(chat, oracle.Config{
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxAttempts,
		RatePerSec:  cfg.LLM.RatePerSec,
		Metrics:     a.Metrics,
	})

	// --- Catalog and engine ---
	catalog, err := documents.LoadCatalog(ctx, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}
	slog.Info("document catalog loaded", "types", catalog.Len())

	pdf := pdfdoc.NewProcessor()
	engine := documents.NewEngine(blobs, a.store, pdf, catalog, documents.Config{
		Workers:            cfg.Agent.Workers,
		Text:               pdf,
		Metrics:            a.Metrics,
		Lease:              documents.NewRedisLease(a.rdb, 0),
		MaxAttachmentBytes: int64(cfg.Agent.MaxAttachmentMB) << 20,
	})

	a.Pipeline = pipeline.New(pipeline.Deps{
		Store:             a.store,
		Blobs:             blobs,
		Resolver:          resolver.New(a.store, a.systemAddresses()),
		Classifier:        orc,
		Engine:            engine,
		Memory:            memory.New(a.store, orc),
		Drafter:           drafter.New(orc),
		Transport:         transport,
		Catalog:           catalog,
		PlaceholderDomain: cfg.Agent.PlaceholderDomain,
	})
	a.Runner = pipeline.NewRunner(a.Pipeline, pipeline.RunnerConfig{
		Workers:         cfg.Agent.Workers,
		MaintenanceMode: cfg.Agent.MaintenanceMode,
		Metrics:         a.Metrics,
	})

	// --- Mailboxes ---
	seen := dedup.NewFilter(a.rdb, dedup.DefaultTTL)
	fetcher := mailbox.NewFetcher(mailbox.GraphBaseURL)
	a.Syncer = mailbox.NewSyncer(mailbox.SyncerConfig{
		GraphBaseURL: mailbox.GraphBaseURL,
		Fetcher:      fetcher,
		Seen:         seen,
		Store:        a.store,
	})
	a.Backfiller = mailbox.NewBackfiller(mailbox.GraphBaseURL, fetcher, seen, 0)

	return a, nil
}

func (a *App) buildBlobs(ctx context.Context) (blob.Store, error) {
	cfg := a.Config
	var s blob.Store
	switch cfg.Storage.Driver {
	case "minio":
		m, err := blob.NewMinio(cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Storage.Bucket, err)
		}
		a.Health.AddReadinessCheck("blob", pingCheck(m.Ping))
		slog.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.Bucket)
		s = m
	default:
		slog.Warn("using in-memory blob storage, files are lost on exit")
		s = blob.NewMemory()
	}
	return blob.Bounded{Store: s, Timeout: cfg.Agent.StorageTimeout}, nil
}

// systemAddresses are never customers: the configured list plus every agent mailbox.
func (a *App) systemAddresses() []string {
	out := append([]string{}, a.Config.Agent.SystemAddresses...)
	for _, t := range a.Config.Tenants {
		out = append(out, t.Mailboxes...)
	}
	return out
}

// Sources lists the agent mailboxes of every tenant, or of one tenant when
// alias is set.
func (a *App) Sources(ctx context.Context, alias string) []mailbox.Source {
	var out []mailbox.Source
	for _, t := range a.Config.Tenants {
		if alias != "" && t.Alias != alias {
			continue
		}
		client := mailbox.NewGraphClient(ctx, t)
		for _, mb := range t.Mailboxes {
			out = append(out, mailbox.Source{
				TenantID:    t.TenantID,
				TenantAlias: t.Alias,
				Mailbox:     mb,
				Client:      client,
			})
		}
	}
	return out
}

// RunOnce processes one batch per mailbox. The delta link of a mailbox is
// committed once its batch has been processed.
func (a *App) RunOnce(ctx context.Context, sources []mailbox.Source) error {
	var lastErr error
	for _, src := range sources {
		batch, err := a.Syncer.Pull(ctx, src)
		if err != nil {
			slog.Error("mailbox pull failed", "tenant", src.TenantAlias, "mailbox", src.Mailbox, "error", err)
			lastErr = err
			continue
		}
		if !batch.Initial {
			if err := a.process(ctx, src, batch.Messages); err != nil {
				lastErr = err
			}
		}
		if err := a.Syncer.Commit(ctx, batch); err != nil {
			slog.Error("delta commit failed", "mailbox", src.Mailbox, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Backfill replays the messages of the last since through the pipeline.
func (a *App) Backfill(ctx context.Context, sources []mailbox.Source, since time.Duration) error {
	var lastErr error
	for _, src := range sources {
		batch, res, err := a.Backfiller.Collect(ctx, src, since)
		if err != nil {
			slog.Error("backfill listing failed", "mailbox", src.Mailbox, "error", err)
			lastErr = err
		}
		if batch == nil || len(batch.Messages) == 0 {
			continue
		}
		slog.Info("replaying backfilled messages", "mailbox", res.Mailbox, "fetched", res.Fetched)
		if err := a.process(ctx, src, batch.Messages); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (a *App) process(ctx context.Context, src mailbox.Source, msgs []*models.InboundMessage) error {
	sum, err := a.Runner.Run(ctx, msgs)
	slog.Info("mailbox batch summary",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
		"status", sum.Status,
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
	)
	for _, f := range sum.Failures {
		slog.Warn("message failure",
			"mailbox", src.Mailbox,
			"message_id", f.MessageID,
			"reason", f.Reason,
			"error", f.Error,
		)
	}
	if err != nil {
		slog.Error("batch hit integrity failures, operator attention needed",
			"mailbox", src.Mailbox,
			"error", err,
		)
	}
	return err
}

// Close releases the backend connections.
func (a *App) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func pingCheck(ping func(context.Context) error) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return ping(ctx)
	}
}
