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

// Package mailbox retrieves inbound messages from the agent mailboxes through
// Microsoft Graph: incremental delta sync for regular runs and a dated
// listing for backfills.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/brokerdesk/intake/internal/config"
	"github.com/brokerdesk/intake/internal/models"
)

// GraphBaseURL is the Microsoft Graph v1.0 endpoint.
const GraphBaseURL = "https://graph.microsoft.com/v1.0"

// NewGraphClient returns an HTTP client that authenticates as the tenant's
// application with the client-credentials flow.
func NewGraphClient(ctx context.Context, tenant config.TenantConfig) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     tenant.ClientID,
		ClientSecret: tenant.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	client := creds.Client(ctx)
	client.Timeout = 60 * time.Second
	return client
}

// Source is one mailbox of one tenant.
type Source struct {
	TenantID    string
	TenantAlias string
	Mailbox     string
	Client      *http.Client
}

// Fetcher downloads full messages, attachments included.
type Fetcher struct {
	graphBaseURL string
}

// NewFetcher creates a Fetcher.
func NewFetcher(graphBaseURL string) *Fetcher {
	return &Fetcher{graphBaseURL: graphBaseURL}
}

// FetchMessage retrieves one message. A deleted message yields (nil, nil).
func (f *Fetcher) FetchMessage(ctx context.Context, src Source, messageID string) (*models.InboundMessage, error) {
	params := url.Values{}
	params.Set("$select", "id,subject,from,toRecipients,ccRecipients,body,receivedDateTime,hasAttachments")
	params.Set("$expand", "attachments")
	u := fmt.Sprintf("%s/users/%s/messages/%s?%s", f.graphBaseURL, url.PathEscape(src.Mailbox), url.PathEscape(messageID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "outlook.body-content-type=\"text\"")

	resp, err := src.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found (may have been deleted)",
			"mailbox", src.Mailbox,
			"message_id", messageID,
		)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	msg, err := parseGraphMessage(resp.Body, src)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return msg, nil
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
}

type graphAttachment struct {
	ODataType   string `json:"@odata.type"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	IsInline    bool   `json:"isInline"`
	// Base64 in the payload; encoding/json decodes it into bytes.
	ContentBytes []byte `json:"contentBytes"`
}

type graphMessage struct {
	ID               string         `json:"id"`
	Subject          string         `json:"subject"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	From             graphAddress   `json:"from"`
	ToRecipients     []graphAddress `json:"toRecipients"`
	CcRecipients     []graphAddress `json:"ccRecipients"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Attachments []graphAttachment `json:"attachments"`
}

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// parseGraphMessage converts a Graph message into an InboundMessage. Only
// non-inline file attachments are kept, in the order Graph lists them.
func parseGraphMessage(body io.Reader, src Source) (*models.InboundMessage, error) {
	var msg graphMessage
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode graph message: %w", err)
	}

	received := msg.ReceivedDateTime.UTC()
	if msg.ReceivedDateTime.IsZero() {
		received = time.Now().UTC()
	}

	out := &models.InboundMessage{
		MessageID:   msg.ID,
		Mailbox:     src.Mailbox,
		TenantAlias: src.TenantAlias,
		ReceivedAt:  received,
		From:        toAddress(msg.From),
		To:          toAddresses(msg.ToRecipients),
		Cc:          toAddresses(msg.CcRecipients),
		Subject:     msg.Subject,
		Body: models.EmailBody{
			ContentType: msg.Body.ContentType,
			Content:     msg.Body.Content,
		},
		Attachments: []models.Attachment{},
	}

	for _, a := range msg.Attachments {
		if a.ODataType != fileAttachmentType || a.IsInline {
			continue
		}
		out.Attachments = append(out.Attachments, models.Attachment{
			Filename:    a.Name,
			ContentType: a.ContentType,
			Size:        len(a.ContentBytes),
			Content:     a.ContentBytes,
		})
	}
	return out, nil
}

func toAddress(a graphAddress) models.EmailAddress {
	return models.EmailAddress{Address: a.EmailAddress.Address, Name: a.EmailAddress.Name}
}

func toAddresses(in []graphAddress) []models.EmailAddress {
	out := make([]models.EmailAddress, 0, len(in))
	for _, a := range in {
		out = append(out, toAddress(a))
	}
	return out
}

// getJSON fetches one Graph collection page into v.
func getJSON(ctx context.Context, client *http.Client, pageURL, prefer string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", prefer)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return &goneError{}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("graph query error", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("graph query returned HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode page: %w", err)
	}
	return nil
}

// goneError is Graph's answer to an expired delta token.
type goneError struct{}

func (e *goneError) Error() string { return "delta token expired (410 Gone)" }

func isGone(err error) bool {
	_, ok := err.(*goneError)
	return ok
}
