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

// Intake Agent: Historical Backfill Command
//
// Standalone CLI tool that replays the messages of a lookback window from
// the agent mailboxes of one tenant through the intake pipeline. Messages
// already handed to the pipeline are skipped by the dedup filter.
//
// Usage:
//
//	go run ./cmd/backfill/ --tenant <alias> [--mailboxes a@org.com,b@org.com] [--since 168h]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brokerdesk/intake/internal/app"
	"github.com/brokerdesk/intake/internal/config"
	"github.com/brokerdesk/intake/internal/logging"
	"github.com/brokerdesk/intake/internal/mailbox"
)

func main() {
	// --- CLI Flags ---
	tenantFlag := flag.String("tenant", "", "Tenant alias to backfill (required)")
	mailboxesFlag := flag.String("mailboxes", "", "Comma-separated agent mailboxes (optional; empty = all configured for the tenant)")
	sinceFlag := flag.String("since", "168h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	flag.Parse()

	if *tenantFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --tenant is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		slog.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if _, ok := cfg.Tenant(*tenantFlag); !ok {
		slog.Error("tenant not found in configuration", "alias", *tenantFlag)
		os.Exit(1)
	}

	slog.Info("starting historical backfill",
		"tenant", *tenantFlag,
		"since", sinceDuration,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	agent, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to start intake agent", "error", err)
		os.Exit(1)
	}
	defer agent.Close()

	sources := filterMailboxes(agent.Sources(ctx, *tenantFlag), *mailboxesFlag)
	if len(sources) == 0 {
		slog.Error("no mailboxes to backfill")
		os.Exit(1)
	}

	start := time.Now()
	if err := agent.Backfill(ctx, sources, sinceDuration); err != nil {
		slog.Error("backfill finished with errors", "error", err, "elapsed", time.Since(start))
		os.Exit(1)
	}
	slog.Info("backfill complete",
		"tenant", *tenantFlag,
		"mailboxes", len(sources),
		"elapsed", time.Since(start),
	)
}

// filterMailboxes keeps the sources named in a comma-separated list. An
// empty list keeps them all.
func filterMailboxes(sources []mailbox.Source, list string) []mailbox.Source {
	wanted := map[string]bool{}
	for _, m := range strings.Split(list, ",") {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			wanted[m] = true
		}
	}
	if len(wanted) == 0 {
		return sources
	}
	var out []mailbox.Source
	for _, s := range sources {
		if wanted[strings.ToLower(s.Mailbox)] {
			out = append(out, s)
		}
	}
	return out
}
