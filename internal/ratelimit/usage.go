package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Usage is one user's consumption for a UTC day.
type Usage struct {
	Turns  int64   `json:"turns"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// UsageTracker keeps daily per-user token and cost counters in Redis.
type UsageTracker struct {
	rdb *redis.Client
	now func() time.Time
}

// NewUsageTracker creates a usage tracker. If rdb is nil, recording is a
// no-op and reads return zero usage.
func NewUsageTracker(rdb *redis.Client) *UsageTracker {
	return &UsageTracker{rdb: rdb, now: time.Now}
}

func dailyUsageKey(userID string, day time.Time) string {
	return fmt.Sprintf("aegis:usage:daily:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// RecordUsage adds one turn's tokens and cost to the user's daily counters.
func (u *UsageTracker) RecordUsage(ctx context.Context, userID string, tokens int, cost float64) error {
	if u.rdb == nil || userID == "" {
		return nil
	}

	now := u.now().UTC()
	key := dailyUsageKey(userID, now)
	pipe := u.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "turns", 1)
	if tokens > 0 {
		pipe.HIncrBy(ctx, key, "tokens", int64(tokens))
	}
	if cost > 0 {
		pipe.HIncrByFloat(ctx, key, "cost", cost)
	}
	// Expire at end of day UTC + 1 hour buffer
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// DailyUsage returns today's usage for userID.
func (u *UsageTracker) DailyUsage(ctx context.Context, userID string) (Usage, error) {
	if u.rdb == nil {
		return Usage{}, nil
	}
	vals, err := u.rdb.HGetAll(ctx, dailyUsageKey(userID, u.now())).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}

	var usage Usage
	if v, ok := vals["turns"]; ok {
		usage.Turns, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["tokens"]; ok {
		usage.Tokens, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["cost"]; ok {
		usage.Cost, _ = strconv.ParseFloat(v, 64)
	}
	return usage, nil
}
