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

// Package dedup remembers which inbound messages were already handed to the
// pipeline, so overlapping delta and backfill runs process each message once.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL outlives the longest backfill window.
	DefaultTTL = 30 * 24 * time.Hour

	keyPrefix = "intake:processed:"
)

// SetNXer is the Redis command the filter needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Filter tracks processed message ids.
type Filter struct {
	rdb SetNXer
	ttl time.Duration
}

// NewFilter creates a filter. A zero ttl uses DefaultTTL.
func NewFilter(rdb SetNXer, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// IsNew reports whether messageID has not been seen, marking it seen
// atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, mailbox, messageID string) (bool, error) {
	key := keyPrefix + mailbox + ":" + messageID
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}
