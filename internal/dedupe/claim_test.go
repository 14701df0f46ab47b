package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryClaimer(t *testing.T) {
	c := NewMemoryClaimer(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := c.Claim(ctx, "m1"); !ok {
		t.Fatal("first Claim(m1) = false, want true")
	}
	if ok, _ := c.Claim(ctx, "m1"); ok {
		t.Fatal("second Claim(m1) = true, want false")
	}
	if ok, _ := c.Claim(ctx, "m2"); !ok {
		t.Fatal("Claim(m2) = false, want true")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := c.Claim(ctx, "m1"); !ok {
		t.Fatal("Claim(m1) after expiry = false, want true")
	}
	c.mu.Lock()
	n := len(c.claims)
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("claims after sweep = %d, want 1", n)
	}
}

func newTestClaimer(t *testing.T, owner string) (*RedisClaimer, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewRedisClaimer(client, owner, 5*time.Second, nil), client
}

func TestRedisClaimer_OnlyOneWinner(t *testing.T) {
	a, client := newTestClaimer(t, "replica-a")
	b := NewRedisClaimer(client, "replica-b", 5*time.Second, nil)
	ctx := context.Background()

	okA, err := a.Claim(ctx, "test_msg_1")
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	okB, err := b.Claim(ctx, "test_msg_1")
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if !okA || okB {
		t.Fatalf("claims = (%v, %v), want (true, false)", okA, okB)
	}

	owner, err := b.Owner(ctx, "test_msg_1")
	if err != nil {
		t.Fatalf("Owner() error: %v", err)
	}
	if owner != "replica-a" {
		t.Errorf("Owner() = %q, want %q", owner, "replica-a")
	}
}

func TestRedisClaimer_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	c := NewRedisClaimer(client, "x", time.Second, nil)

	ok, err := c.Claim(context.Background(), "test_msg_2")
	if err == nil {
		t.Skip("unexpectedly reached a server on localhost:1")
	}
	if !ok {
		t.Error("Claim() = false on backend error, want true (fail open)")
	}
}
