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

// Intake Agent
//
// Entry point of the document intake agent. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL, Redis and object storage
//  3. Pulls new messages from every agent mailbox (Graph delta sync)
//  4. Runs each message through the intake pipeline
//  5. Serves /live, /ready and /metrics
//  6. Handles graceful shutdown on SIGTERM/SIGINT
//
// With -once it processes a single batch and exits, for cron triggers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brokerdesk/intake/internal/app"
	"github.com/brokerdesk/intake/internal/config"
	"github.com/brokerdesk/intake/internal/logging"
	"github.com/brokerdesk/intake/internal/mailbox"
)

func main() {
	once := flag.Bool("once", false, "Process one batch and exit")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("starting intake agent",
		"tenants", len(cfg.Tenants),
		"batch_interval", cfg.Agent.BatchInterval,
		"workers", cfg.Agent.Workers,
		"delivery", cfg.DeliveryMode,
		"maintenance", cfg.Agent.MaintenanceMode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	agent, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start intake agent", "error", err)
		os.Exit(1)
	}
	defer agent.Close()

	sources := agent.Sources(ctx, "")
	if len(sources) == 0 {
		slog.Warn("no agent mailboxes configured")
	}

	if *once {
		if err := agent.RunOnce(ctx, sources); err != nil {
			slog.Error("batch finished with errors", "error", err)
			os.Exit(1)
		}
		return
	}

	// --- Health and Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/live", agent.Health.LiveEndpoint)
	mux.HandleFunc("/ready", agent.Health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(agent.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("health server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// --- Batch Loop ---
	runLoop(ctx, agent, sources, cfg.Agent.BatchInterval)

	// --- Graceful Shutdown ---
	slog.Info("received shutdown signal")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("intake agent stopped")
}

// runLoop processes a batch immediately, then on every tick until ctx ends.
func runLoop(ctx context.Context, agent *app.App, sources []mailbox.Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := agent.RunOnce(ctx, sources); err != nil {
			slog.Error("batch finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
