package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemory_BlockUnblock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if m.IsBlocked(ctx, "mod_quiz", "7", "site-1") {
		t.Fatalf("fresh registry must not block")
	}
	_ = m.Block(ctx, "mod_quiz", "7", "site-1", 0)
	if !m.IsBlocked(ctx, "MOD_QUIZ", "7", "site-1") {
		t.Fatalf("expected blocked (component is case-insensitive)")
	}
	if m.IsBlocked(ctx, "mod_quiz", "7", "site-2") {
		t.Fatalf("blocks are per site")
	}
	_ = m.Unblock(ctx, "mod_quiz", "7", "site-1")
	if m.IsBlocked(ctx, "mod_quiz", "7", "site-1") {
		t.Fatalf("expected unblocked")
	}
}

func TestMemory_BlockExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	_ = m.Block(ctx, "mod_quiz", "7", "site-1", time.Minute)
	if !m.IsBlocked(ctx, "mod_quiz", "7", "site-1") {
		t.Fatalf("expected blocked before expiry")
	}
	now = now.Add(2 * time.Minute)
	if m.IsBlocked(ctx, "mod_quiz", "7", "site-1") {
		t.Fatalf("expected block to expire")
	}
}

func TestRedis_UnreachableCountsAsBlocked(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	r := NewRedis(rdb, nil)
	if !r.IsBlocked(context.Background(), "mod_quiz", "7", "site-1") {
		t.Fatalf("unreachable lock store must report the resource as blocked")
	}
}
