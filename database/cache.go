package database

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// Default cache settings
	DefaultCacheExpiration = 5 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
)

// History is the read side of the store used by the query surfaces.
type History interface {
	RecentPlays(ctx context.Context, limit int) ([]Play, error)
	TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackPlays, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]TrackPlays, error)
	GetStats(ctx context.Context) (*DatabaseStats, error)
}

// QueryCache memoizes History reads in memory until they expire or the
// collector persists a new session.
type QueryCache struct {
	source History
	mem    *cache.Cache
}

// NewQueryCache wraps source with the default expiration.
func NewQueryCache(source History) *QueryCache {
	return NewQueryCacheWithConfig(source, DefaultCacheExpiration, DefaultCleanupInterval)
}

// NewQueryCacheWithConfig wraps source with custom settings.
func NewQueryCacheWithConfig(source History, expiration, cleanup time.Duration) *QueryCache {
	return &QueryCache{
		source: source,
		mem:    cache.New(expiration, cleanup),
	}
}

// normalizeQuery cleans and normalizes a query string for consistent caching
func normalizeQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	return strings.Join(strings.Fields(normalized), " ")
}

// hashKey creates a SHA256-derived cache key
func hashKey(kind string, parts ...any) string {
	hash := sha256.Sum256([]byte(kind + "\x00" + fmt.Sprintf("%#v", parts)))
	return fmt.Sprintf("%s:%x", kind, hash[:8])
}

func cached[T any](qc *QueryCache, key string, load func() (T, error)) (T, error) {
	if v, found := qc.mem.Get(key); found {
		if result, ok := v.(T); ok {
			return result, nil
		}
	}
	result, err := load()
	if err != nil {
		return result, err
	}
	qc.mem.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

// RecentPlays returns cached recent plays.
func (qc *QueryCache) RecentPlays(ctx context.Context, limit int) ([]Play, error) {
	return cached(qc, hashKey("recent", limit), func() ([]Play, error) {
		return qc.source.RecentPlays(ctx, limit)
	})
}

// TopTracks returns cached rankings. since is truncated to the minute so
// repeated relative windows share an entry.
func (qc *QueryCache) TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackPlays, error) {
	since = since.Truncate(time.Minute)
	return cached(qc, hashKey("top", since.Unix(), limit), func() ([]TrackPlays, error) {
		return qc.source.TopTracks(ctx, since, limit)
	})
}

// SearchTracks returns cached search results.
func (qc *QueryCache) SearchTracks(ctx context.Context, query string, limit int) ([]TrackPlays, error) {
	query = normalizeQuery(query)
	return cached(qc, hashKey("search", query, limit), func() ([]TrackPlays, error) {
		return qc.source.SearchTracks(ctx, query, limit)
	})
}

// GetStats returns cached statistics.
func (qc *QueryCache) GetStats(ctx context.Context) (*DatabaseStats, error) {
	return cached(qc, hashKey("stats"), func() (*DatabaseStats, error) {
		return qc.source.GetStats(ctx)
	})
}

// Invalidate drops every cached result.
func (qc *QueryCache) Invalidate() {
	qc.mem.Flush()
}

// Len returns the number of cached entries.
func (qc *QueryCache) Len() int {
	return qc.mem.ItemCount()
}
