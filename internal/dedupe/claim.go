// Package dedupe makes sure only one bot process acts on a given message when
// several replicas share a gateway session or a guild. A replica claims a
// message before deleting it; the loser of the race leaves it alone.
package dedupe

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a claim is remembered. Gateway redeliveries arrive
// well within this window.
const DefaultTTL = 10 * time.Minute

// KeyPrefix namespaces claim keys in Redis.
const KeyPrefix = "ciabot:claim:"

// Claimer grants exclusive ownership of a message id.
type Claimer interface {
	// Claim reports whether the caller now owns id. On backend errors it
	// fails open and returns true along with the error.
	Claim(ctx context.Context, id string) (bool, error)
}

// OwnerLookup is implemented by claimers that record which process holds a
// claim.
type OwnerLookup interface {
	Owner(ctx context.Context, id string) (string, error)
}

// RedisClaimer stores claims in Redis with SET NX + TTL.
type RedisClaimer struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	logger *log.Logger
}

var _ OwnerLookup = (*RedisClaimer)(nil)

// NewRedisClaimer creates a claimer backed by client. owner identifies this
// process in the stored value, which helps when inspecting keys by hand.
func NewRedisClaimer(client *redis.Client, owner string, ttl time.Duration, logger *log.Logger) *RedisClaimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &RedisClaimer{client: client, owner: owner, ttl: ttl, logger: logger.WithPrefix("dedupe")}
}

// Claim sets the claim key if it does not exist yet. A Redis outage must not
// stop the bot, so errors fail open.
func (c *RedisClaimer) Claim(ctx context.Context, id string) (bool, error) {
	key := KeyPrefix + id

	ok, err := c.client.SetNX(ctx, key, c.owner, c.ttl).Result()
	if err != nil {
		c.logger.Warn("redis SETNX failed, failing open", "key", key, "err", err)
		return true, err
	}
	if !ok {
		c.logger.Debug("message already claimed", "key", key)
	}
	return ok, nil
}

// Owner returns which process holds the claim on id, or "" if unclaimed.
func (c *RedisClaimer) Owner(ctx context.Context, id string) (string, error) {
	v, err := c.client.Get(ctx, KeyPrefix+id).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// MemoryClaimer keeps claims in process memory. It deduplicates redelivered
// events for a single replica and is used when no Redis is configured.
type MemoryClaimer struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	claims    map[string]time.Time // id -> expiry
	lastSweep time.Time
}

// NewMemoryClaimer creates an in-memory claimer.
func NewMemoryClaimer(ttl time.Duration) *MemoryClaimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryClaimer{
		ttl:    ttl,
		now:    time.Now,
		claims: make(map[string]time.Time),
	}
}

// Claim never fails.
func (c *MemoryClaimer) Claim(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.claims[id]; ok && now.Before(exp) {
		return false, nil
	}
	c.claims[id] = now.Add(c.ttl)

	// Expired entries are swept lazily, at most once a minute.
	if now.Sub(c.lastSweep) >= time.Minute {
		c.lastSweep = now
		for k, exp := range c.claims {
			if !now.Before(exp) {
				delete(c.claims, k)
			}
		}
	}
	return true, nil
}
