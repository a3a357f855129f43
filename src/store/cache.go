package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quickna/socket/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CacheConfig holds connection settings for the Redis history cache.
type CacheConfig struct {
	Addr     string        // Redis address, default "localhost:6379"
	Password string        // Redis password, default ""
	DB       int           // Redis database number, default 0
	Prefix   string        // Key prefix, default "quickna:history:"
	TTL      time.Duration // Entry lifetime, default 5 minutes
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:   "localhost:6379",
		Prefix: "quickna:history:",
		TTL:    5 * time.Minute,
	}
}

// CacheConfigFromEnv loads cache configuration from environment variables.
// Falls back to defaults for any missing values.
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_HISTORY_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if ttlStr := os.Getenv("REDIS_HISTORY_TTL"); ttlStr != "" {
		if ttl, err := time.ParseDuration(ttlStr); err == nil {
			cfg.TTL = ttl
		}
	}
	return cfg
}

// CachedMessages wraps a message source with a Redis cache-aside layer for
// room history reads. Cache failures degrade to the underlying store and
// never fail a read; writes always hit the store first and then invalidate
// the room's cached history.
type CachedMessages struct {
	inner  MessageSource
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// MessageSource is the persistence backend the cache decorates.
type MessageSource interface {
	RecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error)
	SaveMessage(ctx context.Context, roomID, content string, author *string) (types.Message, error)
}

// NewCachedMessages creates the caching decorator. The caller is expected to
// have pinged the client; an unreachable Redis only costs a warning per read.
func NewCachedMessages(inner MessageSource, client *redis.Client, cfg *CacheConfig, logger zerolog.Logger) *CachedMessages {
	return &CachedMessages{
		inner:  inner,
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With().Str("component", "history-cache").Logger(),
	}
}

// historyKey builds the cache key for one room at one fetch limit.
func (c *CachedMessages) historyKey(roomID string, limit int) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, roomID, limit)
}

// RecentMessages serves history from Redis when present, filling the cache
// from the store on a miss.
func (c *CachedMessages) RecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	key := c.historyKey(roomID, limit)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var messages []types.Message
		if err := json.Unmarshal(data, &messages); err == nil {
			return messages, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	} else if err != redis.Nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, falling back to store")
	}

	messages, err := c.inner.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(messages); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache fill failed")
		}
	}
	return messages, nil
}

// SaveMessage writes through to the store and invalidates every cached
// history entry for the room.
func (c *CachedMessages) SaveMessage(ctx context.Context, roomID, content string, author *string) (types.Message, error) {
	msg, err := c.inner.SaveMessage(ctx, roomID, content, author)
	if err != nil {
		return types.Message{}, err
	}

	if err := c.invalidateRoom(ctx, roomID); err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("cache invalidation failed")
	}
	return msg, nil
}

// invalidateRoom deletes all cached history keys for a room, scanning since
// entries exist per fetch limit.
func (c *CachedMessages) invalidateRoom(ctx context.Context, roomID string) error {
	pattern := fmt.Sprintf("%s%s:*", c.prefix, roomID)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
