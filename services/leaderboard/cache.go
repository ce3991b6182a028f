package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"escapade/pkg/metrics"
)

// CacheKey holds the serialized board.
const CacheKey = "escapade:leaderboard"

var errMiss = errors.New("cache miss")

type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

type redisBackend struct {
	client *redis.Client
}

func (b redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMiss
	}
	return data, err
}

func (b redisBackend) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b redisBackend) del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// Cached fronts a Source with a short-lived Redis copy so a wall of public
// displays polling the board costs one projection per TTL. Redis failures
// fall back to the source.
type Cached struct {
	source  Source
	backend backend
	ttl     time.Duration
	log     zerolog.Logger
}

// NewCached wraps source with a Redis cache holding results for ttl.
func NewCached(source Source, client *redis.Client, ttl time.Duration, logger zerolog.Logger) (*Cached, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return newCached(source, redisBackend{client: client}, ttl, logger)
}

func newCached(source Source, b backend, ttl time.Duration, logger zerolog.Logger) (*Cached, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Cached{
		source:  source,
		backend: b,
		ttl:     ttl,
		log:     logger.With().Str("component", "leaderboard_cache").Logger(),
	}, nil
}

// Leaderboard serves the cached board, projecting a fresh one on a miss.
func (c *Cached) Leaderboard(ctx context.Context) ([]Entry, error) {
	data, err := c.backend.get(ctx, CacheKey)
	switch {
	case err == nil:
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err == nil {
			metrics.LeaderboardCache.WithLabelValues("hit").Inc()
			return entries, nil
		}
		c.log.Warn().Msg("discarding undecodable cached leaderboard")
	case errors.Is(err, errMiss):
	default:
		metrics.LeaderboardCache.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Msg("read leaderboard cache")
	}
	metrics.LeaderboardCache.WithLabelValues("miss").Inc()

	entries, err := c.source.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		if err := c.backend.set(ctx, CacheKey, data, c.ttl); err != nil {
			c.log.Warn().Err(err).Msg("write leaderboard cache")
		}
	}
	return entries, nil
}

// Invalidate drops the cached board.
func (c *Cached) Invalidate(ctx context.Context) error {
	return c.backend.del(ctx, CacheKey)
}
