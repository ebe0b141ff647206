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

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ListPusher is the Redis command the outbox needs.
type ListPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// outboxItem is the JSON document an external sender pops from the list.
type outboxItem struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Envelope Envelope `json:"envelope"`
}

// Outbox pushes shadow envelopes onto a Redis list.
type Outbox struct {
	rdb   ListPusher
	queue string
}

// NewOutbox creates an outbox on the named list.
func NewOutbox(rdb ListPusher, queue string) *Outbox {
	return &Outbox{rdb: rdb, queue: queue}
}

// Send serialises env and pushes it with LPUSH.
func (o *Outbox) Send(ctx context.Context, env Envelope) error {
	item := outboxItem{
		ID:       uuid.New().String(),
		Kind:     "shadow_reply",
		Envelope: env,
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal outbox item: %w", err)
	}
	if err := o.rdb.LPush(ctx, o.queue, string(data)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("queued shadow reply",
		"item_id", item.ID,
		"message_id", env.MessageID,
		"to", env.To,
		"queue", o.queue,
	)
	return nil
}
