package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestUsageTracker_NilRedis(t *testing.T) {
	u := NewUsageTracker(nil)

	if err := u.RecordUsage(context.Background(), "user-1", 100, 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	usage, err := u.DailyUsage(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage != (Usage{}) {
		t.Errorf("expected zero usage, got %+v", usage)
	}
}

func TestUsageTracker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	u := NewUsageTracker(rdb)
	u.now = func() time.Time { return now }
	ctx := context.Background()

	if err := u.RecordUsage(ctx, "user-1", 120, 0.25); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := u.RecordUsage(ctx, "user-1", 30, 0); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := u.RecordUsage(ctx, "", 30, 1); err != nil {
		t.Fatalf("anonymous usage should be ignored: %v", err)
	}

	usage, err := u.DailyUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if usage.Turns != 2 || usage.Tokens != 150 || usage.Cost != 0.25 {
		t.Errorf("unexpected usage %+v", usage)
	}

	// Expires one hour after the UTC day ends.
	if ttl := mr.TTL(dailyUsageKey("user-1", now)); ttl != 3*time.Hour {
		t.Errorf("expected ttl 3h, got %v", ttl)
	}

	now = now.Add(4 * time.Hour)
	usage, _ = u.DailyUsage(ctx, "user-1")
	if usage.Turns != 0 {
		t.Errorf("expected a fresh day, got %+v", usage)
	}
}

func TestUsageTracker_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	u := NewUsageTracker(rdb)
	if err := u.RecordUsage(context.Background(), "user-1", 1, 0); err == nil {
		t.Error("expected an error with redis down")
	}
	if _, err := u.DailyUsage(context.Background(), "user-1"); err == nil {
		t.Error("expected an error with redis down")
	}
}
