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

package documents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLeaseTTL outlives the slowest consolidation of one group. A
	// lease left behind by a crashed process expires after it.
	DefaultLeaseTTL = 2 * time.Minute

	leasePrefix       = "intake:lease:"
	leaseRetry        = 100 * time.Millisecond
	leaseReleaseLimit = 5 * time.Second
)

// releaseScript deletes the lease only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`

// Lease is a lock shared between processes.
type Lease interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LeaseClient is the Redis subset a RedisLease needs.
type LeaseClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLease implements Lease with SETNX and a token-checked delete.
type RedisLease struct {
	rdb   LeaseClient
	ttl   time.Duration
	retry time.Duration
}

// NewRedisLease creates a lease over rdb. A zero ttl uses DefaultLeaseTTL.
func NewRedisLease(rdb LeaseClient, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisLease{rdb: rdb, ttl: ttl, retry: leaseRetry}
}

// Acquire polls until key is free or ctx is done.
func (l *RedisLease) Acquire(ctx context.Context, key string) (func(), error) {
	k := leasePrefix + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseLimit)
		defer cancel()
		err := l.rdb.Eval(ctx, releaseScript, []string{k}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			slog.Warn("lease release failed, it will expire", "key", k, "error", err)
		}
	}, nil
}
