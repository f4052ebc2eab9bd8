package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/launchdarkly-labs/ld-toolkit/pkg/ldapi"
)

// EntryCache stores detailed audit log entries in Redis keyed by entry id.
// Failures are logged and reported as a miss.
type EntryCache struct {
	client  redis.UniversalClient
	logger  *slog.Logger
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisEntryCache connects to Redis and verifies the connection.
func NewRedisEntryCache(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*EntryCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewEntryCache(client, ttl, logger), nil
}

// NewEntryCache wraps an existing Redis client.
func NewEntryCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *EntryCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryCache{
		client:  client,
		logger:  logger,
		prefix:  "ldtoolkit:auditlog:",
		ttl:     ttl,
		timeout: 500 * time.Millisecond,
	}
}

// Get returns the cached entry for id.
func (c *EntryCache) Get(ctx context.Context, id string) (ldapi.AuditLogEntry, bool) {
	var entry ldapi.AuditLogEntry
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.prefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logRedisError("get", err)
		}
		return entry, false
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logRedisError("decode", err)
		return entry, false
	}
	return entry, true
}

// Put caches entry under its id.
func (c *EntryCache) Put(ctx context.Context, entry ldapi.AuditLogEntry) {
	if entry.ID == "" {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logRedisError("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+entry.ID, data, c.ttl).Err(); err != nil {
		c.logRedisError("set", err)
	}
}

// Close releases the Redis connection.
func (c *EntryCache) Close() {
	if c.client != nil {
		_ = c.client.Close()
	}
}

func (c *EntryCache) logRedisError(op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("audit entry cache error", "op", op, "error", err)
}
