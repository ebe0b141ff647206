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

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/brokerdesk/intake/internal/models"
)

// DeltaStore persists the delta link of each mailbox: the high-water mark
// of what was already retrieved.
type DeltaStore interface {
	SaveDeltaLink(ctx context.Context, tenantID, mailbox, deltaLink string) error
	GetDeltaLink(ctx context.Context, tenantID, mailbox string) (string, error)
}

// SeenFilter marks message ids as handed to the pipeline.
type SeenFilter interface {
	IsNew(ctx context.Context, mailbox, messageID string) (bool, error)
}

// Batch is what one pull retrieved. Committing it advances the high-water mark.
type Batch struct {
	Source   Source
	Messages []*models.InboundMessage
	// Initial marks a first sync that only collected the token.
	Initial   bool
	deltaLink string
}

type deltaResponse struct {
	Value     []deltaMessage `json:"value"`
	NextLink  string         `json:"@odata.nextLink"`
	DeltaLink string         `json:"@odata.deltaLink"`
}

type deltaMessage struct {
	ID      string `json:"id"`
	Removed *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// Syncer pulls new inbox messages with Graph delta queries.
type Syncer struct {
	graphBaseURL string
	fetcher      *Fetcher
	seen         SeenFilter
	store        DeltaStore
}

// SyncerConfig holds the Syncer dependencies. Seen may be nil.
type SyncerConfig struct {
	GraphBaseURL string
	Fetcher      *Fetcher
	Seen         SeenFilter
	Store        DeltaStore
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	return &Syncer{
		graphBaseURL: cfg.GraphBaseURL,
		fetcher:      cfg.Fetcher,
		seen:         cfg.Seen,
		store:        cfg.Store,
	}
}

// Pull retrieves the messages received since the stored delta link. Without a
// link it only collects one, so a new mailbox starts from now.
func (s *Syncer) Pull(ctx context.Context, src Source) (*Batch, error) {
	link, err := s.store.GetDeltaLink(ctx, src.TenantID, src.Mailbox)
	if err != nil {
		return nil, fmt.Errorf("load delta link: %w", err)
	}
	if link == "" {
		return s.initialSync(ctx, src)
	}

	batch, err := s.incrementalSync(ctx, src, link)
	if isGone(err) {
		slog.Warn("delta token expired (410 Gone), performing full re-sync",
			"tenant", src.TenantAlias,
			"mailbox", src.Mailbox,
		)
		return s.initialSync(ctx, src)
	}
	return batch, err
}

// Commit persists the batch's delta link. Call it once the batch is processed.
func (s *Syncer) Commit(ctx context.Context, b *Batch) error {
	if b.deltaLink == "" {
		return nil
	}
	if err := s.store.SaveDeltaLink(ctx, b.Source.TenantID, b.Source.Mailbox, b.deltaLink); err != nil {
		return fmt.Errorf("persist delta link: %w", err)
	}
	slog.Debug("delta link saved", "tenant", b.Source.TenantAlias, "mailbox", b.Source.Mailbox)
	return nil
}

func (s *Syncer) deltaURL(mailbox string) string {
	params := url.Values{}
	params.Set("$select", "id")
	return fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages/delta?%s",
		s.graphBaseURL, url.PathEscape(mailbox), params.Encode())
}

func (s *Syncer) initialSync(ctx context.Context, src Source) (*Batch, error) {
	slog.Info("starting initial delta sync (collecting token)",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
	)

	pageCount := 0
	for nextURL := s.deltaURL(src.Mailbox); nextURL != ""; {
		var page deltaResponse
		if err := getJSON(ctx, src.Client, nextURL, "odata.maxpagesize=100", &page); err != nil {
			return nil, fmt.Errorf("initial delta sync page %d: %w", pageCount, err)
		}
		pageCount++
		if page.DeltaLink != "" {
			return &Batch{Source: src, Initial: true, deltaLink: page.DeltaLink}, nil
		}
		nextURL = page.NextLink
	}
	return nil, errors.New("initial delta sync completed without receiving deltaLink")
}

func (s *Syncer) incrementalSync(ctx context.Context, src Source, deltaLink string) (*Batch, error) {
	slog.Info("starting incremental delta sync",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
	)

	batch := &Batch{Source: src}
	for nextURL := deltaLink; nextURL != ""; {
		var page deltaResponse
		if err := getJSON(ctx, src.Client, nextURL, "odata.maxpagesize=100", &page); err != nil {
			if isGone(err) {
				return nil, err
			}
			return nil, fmt.Errorf("incremental delta sync: %w", err)
		}

		for _, m := range page.Value {
			if m.Removed != nil {
				continue
			}
			if msg := s.fetchNew(ctx, src, m.ID); msg != nil {
				batch.Messages = append(batch.Messages, msg)
			}
		}

		if page.DeltaLink != "" {
			batch.deltaLink = page.DeltaLink
			break
		}
		nextURL = page.NextLink
	}

	sort.SliceStable(batch.Messages, func(i, j int) bool {
		return batch.Messages[i].ReceivedAt.Before(batch.Messages[j].ReceivedAt)
	})
	slog.Info("incremental delta sync complete",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
		"new_messages", len(batch.Messages),
	)
	return batch, nil
}

// fetchNew returns the full message unless it was seen before or cannot be fetched.
func (s *Syncer) fetchNew(ctx context.Context, src Source, id string) *models.InboundMessage {
	if s.seen != nil {
		isNew, err := s.seen.IsNew(ctx, src.Mailbox, id)
		if err != nil {
			slog.Warn("dedup check failed during delta sync", "error", err)
		} else if !isNew {
			return nil
		}
	}
	msg, err := s.fetcher.FetchMessage(ctx, src, id)
	if err != nil {
		slog.Error("delta sync: fetch message failed",
			"message_id", id,
			"error", err,
		)
		return nil
	}
	return msg
}
