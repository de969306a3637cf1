package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHistory struct {
	calls map[string]int
	err   error
}

func (h *countingHistory) RecentPlays(ctx context.Context, limit int) ([]Play, error) {
	h.calls["recent"]++
	return []Play{{PlayRecord: PlayRecord{ID: "r1"}}}, h.err
}

func (h *countingHistory) TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackPlays, error) {
	h.calls["top"]++
	return []TrackPlays{{Track: Track{ID: "fp"}, Plays: 2}}, h.err
}

func (h *countingHistory) SearchTracks(ctx context.Context, query string, limit int) ([]TrackPlays, error) {
	h.calls["search:"+query]++
	return nil, h.err
}

func (h *countingHistory) GetStats(ctx context.Context) (*DatabaseStats, error) {
	h.calls["stats"]++
	return &DatabaseStats{TrackCount: 1}, h.err
}

func TestQueryCacheMemoizes(t *testing.T) {
	src := &countingHistory{calls: map[string]int{}}
	qc := NewQueryCache(src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		plays, err := qc.RecentPlays(ctx, 10)
		require.NoError(t, err)
		require.Len(t, plays, 1)
		_, err = qc.GetStats(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls["recent"])
	assert.Equal(t, 1, src.calls["stats"])

	_, err := qc.RecentPlays(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["recent"], "different limit is a different entry")
}

func TestQueryCacheNormalizesSearch(t *testing.T) {
	src := &countingHistory{calls: map[string]int{}}
	qc := NewQueryCache(src)
	ctx := context.Background()

	_, _ = qc.SearchTracks(ctx, "  Blue   Song ", 10)
	_, _ = qc.SearchTracks(ctx, "blue song", 10)
	assert.Equal(t, 1, src.calls["search:blue song"])
}

func TestQueryCacheTopTracksWindow(t *testing.T) {
	src := &countingHistory{calls: map[string]int{}}
	qc := NewQueryCache(src)
	ctx := context.Background()

	since := time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)
	_, _ = qc.TopTracks(ctx, since, 10)
	_, _ = qc.TopTracks(ctx, since.Add(20*time.Second), 10)
	assert.Equal(t, 1, src.calls["top"])

	_, _ = qc.TopTracks(ctx, since.Add(2*time.Minute), 10)
	assert.Equal(t, 2, src.calls["top"])
}

func TestQueryCacheInvalidate(t *testing.T) {
	src := &countingHistory{calls: map[string]int{}}
	qc := NewQueryCache(src)
	ctx := context.Background()

	_, _ = qc.GetStats(ctx)
	assert.Equal(t, 1, qc.Len())

	qc.Invalidate()
	assert.Equal(t, 0, qc.Len())

	_, _ = qc.GetStats(ctx)
	assert.Equal(t, 2, src.calls["stats"])
}

func TestQueryCacheSkipsErrors(t *testing.T) {
	src := &countingHistory{calls: map[string]int{}, err: errors.New("boom")}
	qc := NewQueryCache(src)

	_, err := qc.GetStats(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, qc.Len())
}

func TestQueryCacheOverDatabase(t *testing.T) {
	dm := newTestDB(t)
	qc := NewQueryCache(dm)
	ctx := context.Background()

	stats, err := qc.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.PlayCount)

	require.NoError(t, dm.SaveSession(ctx, testTrack("fp1", "Song"), testRecord("r1", "fp1", time.Now(), 30)))

	stats, err = qc.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.PlayCount, "stale until invalidated")

	qc.Invalidate()
	stats, err = qc.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PlayCount)
}
