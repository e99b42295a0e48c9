// Package redis provides the cross-process primitives backed by
// github.com/redis/go-redis/v9: session append locks, scheduler idempotency
// keys, a per-provider token-bucket rate limiter, and the context manager's
// relevance cache. Grounded on the teacher's Redis-backed web-search
// temp-KB state idiom (JSON blob behind a namespaced key).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the namespaced helpers the service
// needs. It does not attempt to be a general-purpose cache wrapper.
type Client struct {
	raw *goredis.Client
}

// Config dials Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(cfg Config) *Client {
	return &Client{raw: goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.raw.Close() }

// ErrLockBusy is returned by AcquireSessionLock when the session is held by
// another in-flight turn past the wait timeout (§5, SessionBusy mapping
// happens at the conversation service layer).
var ErrLockBusy = errors.New("redis: lock busy")

// sessionLockKey / idempotencyKey / relevanceCacheKey / entityTrackerKey
// (and the inline ratelimit key in NewTokenBucket) namespace this service's keys
// distinctly from any other tenant of the same Redis instance.
func sessionLockKey(sessionID string) string { return fmt.Sprintf("ragcore:session-lock:%s", sessionID) }
func idempotencyKey(key string) string       { return fmt.Sprintf("ragcore:idempotency:%s", key) }
func relevanceCacheKey(sessionID string) string {
	return fmt.Sprintf("ragcore:relevance-cache:%s", sessionID)
}
func entityTrackerKey(sessionID string) string {
	return fmt.Sprintf("ragcore:entity-tracker:%s", sessionID)
}

// AcquireSessionLock attempts to take an exclusive lock on a conversation
// session for the append duration of one turn, polling until acquired or
// wait is exhausted. The returned release func must be called exactly once.
func (c *Client) AcquireSessionLock(ctx context.Context, sessionID string, ttl, wait time.Duration) (func(context.Context) error, error) {
	key := sessionLockKey(sessionID)
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	deadline := time.Now().Add(wait)
	for {
		ok, err := c.raw.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquiring session lock: %w", err)
		}
		if ok {
			release := func(releaseCtx context.Context) error {
				return c.releaseLockIfOwner(releaseCtx, key, token)
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

func (c *Client) releaseLockIfOwner(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.raw, []string{key}, token).Err()
}

// ReserveIdempotencyKey atomically claims an idempotency key for ttl,
// returning false if the key is already claimed (a duplicate job enqueue),
// backing the scheduler's exactly-once job semantics (§4.8).
func (c *Client) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.raw.SetNX(ctx, idempotencyKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: reserving idempotency key: %w", err)
	}
	return ok, nil
}

func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.raw.Del(ctx, idempotencyKey(key)).Err()
}

// RelevanceCacheEntry holds one session's most recently computed relevance
// scores, keyed by entity; the whole entry is stored under a single
// per-session key (§4.6).
type RelevanceCacheEntry struct {
	EntityKeys      []string           `json:"entity_keys"`
	RelevanceScores map[string]float32 `json:"relevance_scores"`
	ComputedAt      time.Time          `json:"computed_at"`
}

func (c *Client) SaveRelevanceCache(ctx context.Context, sessionID string, entry RelevanceCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshaling relevance cache: %w", err)
	}
	return c.raw.Set(ctx, relevanceCacheKey(sessionID), data, ttl).Err()
}

func (c *Client) LoadRelevanceCache(ctx context.Context, sessionID string) (*RelevanceCacheEntry, bool, error) {
	data, err := c.raw.Get(ctx, relevanceCacheKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: loading relevance cache: %w", err)
	}
	var entry RelevanceCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("redis: unmarshaling relevance cache: %w", err)
	}
	return &entry, true, nil
}

func (c *Client) DeleteRelevanceCache(ctx context.Context, sessionID string) error {
	return c.raw.Del(ctx, relevanceCacheKey(sessionID)).Err()
}

// TrackedEntity is one noun-phrase entity surfaced to query rewriting as a
// coreference anchor, tagged with the ordinals of its first and last
// mention in the session (§4.6).
type TrackedEntity struct {
	Text         string `json:"text"`
	FirstOrdinal int    `json:"first_ordinal"`
	LastOrdinal  int    `json:"last_ordinal"`
}

// SaveEntityTracker persists a session's entity set as a single JSON blob,
// the same whole-state-behind-one-key idiom as the temp-KB state above.
func (c *Client) SaveEntityTracker(ctx context.Context, sessionID string, entities []TrackedEntity) error {
	data, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("redis: marshaling entity tracker: %w", err)
	}
	return c.raw.Set(ctx, entityTrackerKey(sessionID), data, 0).Err()
}

func (c *Client) LoadEntityTracker(ctx context.Context, sessionID string) ([]TrackedEntity, error) {
	data, err := c.raw.Get(ctx, entityTrackerKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: loading entity tracker: %w", err)
	}
	var entities []TrackedEntity
	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("redis: unmarshaling entity tracker: %w", err)
	}
	return entities, nil
}

func (c *Client) DeleteEntityTracker(ctx context.Context, sessionID string) error {
	return c.raw.Del(ctx, entityTrackerKey(sessionID)).Err()
}

// TokenBucket implements the per-provider rate limiter described in §5:
// callers queue (block) rather than fail when the bucket is empty, up to
// the caller's own deadline.
type TokenBucket struct {
	client      *Client
	key         string
	capacity    int64
	refillEvery time.Duration
}

// NewTokenBucket configures a named token bucket shared across process
// instances via Redis, refilling by one token every refillEvery.
func (c *Client) NewTokenBucket(provider string, capacity int64, refillEvery time.Duration) *TokenBucket {
	return &TokenBucket{
		client:      c,
		key:         fmt.Sprintf("ragcore:ratelimit:%s", provider),
		capacity:    capacity,
		refillEvery: refillEvery,
	}
}

var takeTokenScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "updated_at")
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil then
	tokens = capacity
	updated_at = now_ms
end

local elapsed = now_ms - updated_at
local refilled = math.floor(elapsed / refill_ms)
tokens = math.min(capacity, tokens + refilled)
if refilled > 0 then
	updated_at = now_ms
end

if tokens < 1 then
	redis.call("HMSET", key, "tokens", tokens, "updated_at", updated_at)
	redis.call("PEXPIRE", key, refill_ms * capacity * 2)
	return 0
end

tokens = tokens - 1
redis.call("HMSET", key, "tokens", tokens, "updated_at", updated_at)
redis.call("PEXPIRE", key, refill_ms * capacity * 2)
return 1
`)

// Take blocks (polling) until a token is available or ctx is done.
func (b *TokenBucket) Take(ctx context.Context) error {
	for {
		got, err := takeTokenScript.Run(ctx, b.client.raw, []string{b.key},
			b.capacity, b.refillEvery.Milliseconds(), time.Now().UnixMilli()).Int64()
		if err != nil {
			return fmt.Errorf("redis: token bucket take: %w", err)
		}
		if got == 1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.refillEvery / 4):
		}
	}
}
