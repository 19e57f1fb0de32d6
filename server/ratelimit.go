// Copyright 2025 SQL Studio Contributors
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

package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Default rate limit applied to API routes: 100 requests per 15 minutes
// per client IP.
const (
	rateLimitMax    = 100
	rateLimitWindow = 15 * time.Minute
)

// RateLimiter decides whether a request from key is allowed right now
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisRateLimiter implements a sliding-window limit backed by a Redis
// sorted set per client. Redis failures fail open: blocking all traffic on
// a limiter outage is worse than briefly not limiting it.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter connects to Redis at redisURL and verifies the
// connection with a ping
func NewRedisRateLimiter(redisURL string, limit int, window time.Duration) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRateLimiter{client: client, limit: limit, window: window}, nil
}

// Allow records the request and reports whether key is within its window
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := "ratelimit:" + key

	pipe := rl.client.Pipeline()

	// Drop timestamps that have slid out of the window
	minScore := now.Add(-rl.window).UnixNano()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", minScore))

	pipe.ZCard(ctx, redisKey)

	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	pipe.Expire(ctx, redisKey, rl.window*2)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("Warning: Redis rate limit check failed for %s: %v (failing open)", key, err)
		return true, nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	return count < int64(rl.limit), nil
}

// Close releases the Redis connection
func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}

// MemoryRateLimiter is the in-process fallback used when no Redis URL is
// configured. Same sliding-window semantics, scoped to a single process.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewMemoryRateLimiter creates an in-memory sliding-window limiter
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
	}
}

// Allow records the request and reports whether key is within its window
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep at most once per window so buckets for clients that stopped
	// sending do not accumulate forever.
	if now.Sub(rl.lastSweep) >= rl.window {
		for k, bucket := range rl.buckets {
			if len(bucket) == 0 || !bucket[len(bucket)-1].After(cutoff) {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	kept := rl.buckets[key][:0]
	for _, ts := range rl.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.limit {
		rl.buckets[key] = kept
		return false, nil
	}

	rl.buckets[key] = append(kept, now)
	return true, nil
}
