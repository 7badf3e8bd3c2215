package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	leaderboardKeyPrefix = "leaderboard:top:"
	playerKeyPrefix      = "player:"
)

func leaderboardKey(limit int) string {
	return fmt.Sprintf("%s%d", leaderboardKeyPrefix, limit)
}

func lastSessionsKey(playerID int64, limit int) string {
	return fmt.Sprintf("%s%d:last_sessions:%d", playerKeyPrefix, playerID, limit)
}

func lastSessionsPrefix(playerID int64) string {
	return fmt.Sprintf("%s%d:last_sessions:", playerKeyPrefix, playerID)
}

func playerByNameKey(name string) string {
	return playerKeyPrefix + "name:" + name
}

// CacheTTLs configures how long each read path is cached.
type CacheTTLs struct {
	Leaderboard  time.Duration
	LastSessions time.Duration
	Player       time.Duration
}

// DefaultCacheTTLs returns the production expiry choices.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Leaderboard:  5 * time.Minute,
		LastSessions: 2 * time.Minute,
		Player:       10 * time.Minute,
	}
}

type nopCache struct{}

func (nopCache) GetJSON(context.Context, string, any) (bool, error)          { return false, nil }
func (nopCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (nopCache) Delete(context.Context, ...string) error                    { return nil }
func (nopCache) DeletePrefix(context.Context, string) error                 { return nil }

func cacheOrNop(c Cache) Cache {
	if c == nil {
		return nopCache{}
	}
	return c
}

// readThrough consults the cache, then load. Cache failures are logged and
// otherwise ignored; concurrent misses for one key share a single load.
// A load that overlapped an invalidation (gen moved) is returned but not kept.
func readThrough[T any](ctx context.Context, c Cache, sf *singleflight.Group, gen *atomic.Uint64, logger *slog.Logger, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	found, err := c.GetJSON(ctx, key, &cached)
	if err != nil {
		logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
	} else if found {
		return cached, nil
	}

	result, err, _ := sf.Do(key, func() (interface{}, error) {
		seen := gen.Load()
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		if gen.Load() != seen {
			return value, nil
		}
		if err := c.SetJSON(ctx, key, value, ttl); err != nil {
			logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		}
		// An invalidation may have slipped in between the check and the write.
		if gen.Load() != seen {
			invalidateKeys(ctx, c, nil, logger, key)
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// invalidate bumps gen before deleting so in-flight loads do not store stale values.
func invalidate(ctx context.Context, c Cache, gen *atomic.Uint64, logger *slog.Logger, prefixes ...string) {
	gen.Add(1)
	for _, prefix := range prefixes {
		if err := c.DeletePrefix(ctx, prefix); err != nil {
			logger.WarnContext(ctx, "cache invalidation failed", "prefix", prefix, "error", err)
		}
	}
}

func invalidateKeys(ctx context.Context, c Cache, gen *atomic.Uint64, logger *slog.Logger, keys ...string) {
	if gen != nil {
		gen.Add(1)
	}
	if err := c.Delete(ctx, keys...); err != nil {
		logger.WarnContext(ctx, "cache invalidation failed", "keys", keys, "error", err)
	}
}
