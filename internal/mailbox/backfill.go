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
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// BackfillResult counts what a backfill of one mailbox did.
type BackfillResult struct {
	Mailbox string
	Fetched int
	Skipped int
	Errors  int
	Pages   int
}

type messagesResponse struct {
	Value    []messageStub `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

type messageStub struct {
	ID string `json:"id"`
}

// Backfiller lists and fetches the messages of a lookback window.
type Backfiller struct {
	graphBaseURL string
	fetcher      *Fetcher
	seen         SeenFilter
	pageDelay    time.Duration
}

// NewBackfiller creates a Backfiller. seen may be nil; a zero pageDelay
// waits 500ms between pages to stay clear of throttling.
func NewBackfiller(graphBaseURL string, fetcher *Fetcher, seen SeenFilter, pageDelay time.Duration) *Backfiller {
	if pageDelay == 0 {
		pageDelay = 500 * time.Millisecond
	}
	return &Backfiller{
		graphBaseURL: graphBaseURL,
		fetcher:      fetcher,
		seen:         seen,
		pageDelay:    pageDelay,
	}
}

// Collect returns the messages received in the last since, oldest first.
// The returned batch carries no delta link.
func (b *Backfiller) Collect(ctx context.Context, src Source, since time.Duration) (*Batch, BackfillResult, error) {
	res := BackfillResult{Mailbox: src.Mailbox}
	sinceTime := time.Now().UTC().Add(-since).Format(time.RFC3339)

	slog.Info("backfilling mailbox",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
		"since", sinceTime,
	)

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", sinceTime))
	params.Set("$select", "id")
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", "50")
	listURL := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?%s",
		b.graphBaseURL, url.PathEscape(src.Mailbox), params.Encode())

	batch := &Batch{Source: src}
	for nextURL := listURL; nextURL != ""; {
		if res.Pages > 0 {
			select {
			case <-ctx.Done():
				return batch, res, ctx.Err()
			case <-time.After(b.pageDelay):
			}
		}

		var page messagesResponse
		if err := getJSON(ctx, src.Client, nextURL, "odata.maxpagesize=50", &page); err != nil {
			return batch, res, fmt.Errorf("fetch page %d: %w", res.Pages, err)
		}
		res.Pages++

		for _, stub := range page.Value {
			if b.seen != nil {
				isNew, err := b.seen.IsNew(ctx, src.Mailbox, stub.ID)
				if err != nil {
					slog.Warn("dedup check failed", "error", err)
				} else if !isNew {
					res.Skipped++
					continue
				}
			}

			msg, err := b.fetcher.FetchMessage(ctx, src, stub.ID)
			if err != nil {
				slog.Warn("backfill: fetch message failed",
					"message_id", stub.ID,
					"error", err,
				)
				res.Errors++
				continue
			}
			if msg == nil {
				res.Skipped++
				continue
			}
			batch.Messages = append(batch.Messages, msg)
			res.Fetched++
		}
		nextURL = page.NextLink
	}

	slog.Info("mailbox backfill complete",
		"tenant", src.TenantAlias,
		"mailbox", src.Mailbox,
		"fetched", res.Fetched,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"pages", res.Pages,
	)
	return batch, res, nil
}
