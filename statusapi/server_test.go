package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fb2kstat/collector"
	"fb2kstat/database"
)

type fakeHistory struct {
	limit int
	since time.Time
	err   error
}

func (h *fakeHistory) RecentPlays(ctx context.Context, limit int) ([]database.Play, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return []database.Play{{
		PlayRecord: database.PlayRecord{ID: "r1", TrackID: "fp", StartedAt: time.Unix(1700000000, 0).UTC(), Duration: 90},
		Track:      database.Track{ID: "fp", Title: "Song", Artists: "A|B", Duration: 120},
	}}, nil
}

func (h *fakeHistory) TopTracks(ctx context.Context, since time.Time, limit int) ([]database.TrackPlays, error) {
	h.since, h.limit = since, limit
	return []database.TrackPlays{{Track: database.Track{ID: "fp", Title: "Song"}, Plays: 3, Listened: 300}}, h.err
}

func (h *fakeHistory) SearchTracks(ctx context.Context, query string, limit int) ([]database.TrackPlays, error) {
	return nil, nil
}

func (h *fakeHistory) GetStats(ctx context.Context) (*database.DatabaseStats, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &database.DatabaseStats{TrackCount: 2, PlayCount: 5, TotalListened: 600}, nil
}

func do(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	var body map[string]any
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func TestHealth(t *testing.T) {
	rr, body := do(t, NewServer(&fakeHistory{}, nil, nil), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestNow(t *testing.T) {
	var cur *collector.PlayerState
	s := NewServer(&fakeHistory{}, func() *collector.PlayerState { return cur }, nil)

	_, body := do(t, s, "/now")
	assert.Equal(t, "disconnected", body["status"])

	cur = &collector.PlayerState{
		PlaybackState: collector.StatePaused,
		Position:      42,
		Duration:      120,
		Metadata:      collector.NewMetadata(collector.Field{Name: collector.ColumnTitle, Value: "Song"}),
		MusicID:       "fp",
	}
	_, body = do(t, s, "/now")
	assert.Equal(t, "paused", body["status"])
	assert.Equal(t, 42.0, body["position"])
	assert.Equal(t, "fp", body["music_id"])
	assert.Equal(t, map[string]any{collector.ColumnTitle: "Song"}, body["metadata"])
}

func TestRecentPlays(t *testing.T) {
	h := &fakeHistory{}
	s := NewServer(h, nil, nil)

	rr, _ := do(t, s, "/plays/recent?limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, h.limit)

	var plays []playJSON
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plays))
	require.Len(t, plays, 1)
	assert.Equal(t, "r1", plays[0].ID)
	assert.Equal(t, "A|B", plays[0].Track.Artists)

	do(t, s, "/plays/recent")
	assert.Equal(t, defaultLimit, h.limit)
	do(t, s, "/plays/recent?limit=100000")
	assert.Equal(t, maxLimit, h.limit)

	rr, body := do(t, s, "/plays/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, body["error"], "limit")
}

func TestTopTracks(t *testing.T) {
	h := &fakeHistory{}
	s := NewServer(h, nil, nil)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rr, _ := do(t, s, "/tracks/top?days=7&limit=3")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, now.AddDate(0, 0, -7), h.since)
	assert.Equal(t, 3, h.limit)

	var top []trackPlaysJSON
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &top))
	require.Len(t, top, 1)
	assert.Equal(t, int64(3), top[0].Plays)
	assert.Equal(t, "Song", top[0].Title)

	do(t, s, "/tracks/top?days=0")
	assert.True(t, h.since.IsZero(), "days=0 means all time")

	do(t, s, "/tracks/top")
	assert.Equal(t, now.AddDate(0, 0, -defaultTopDays), h.since)

	rr, _ = do(t, s, "/tracks/top?days=-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStats(t *testing.T) {
	rr, body := do(t, NewServer(&fakeHistory{}, nil, nil), "/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2.0, body["tracks"])
	assert.Equal(t, 5.0, body["plays"])
	assert.NotContains(t, body, "first_play")
}

func TestQueryErrors(t *testing.T) {
	s := NewServer(&fakeHistory{err: errors.New("db gone")}, nil, nil)
	for _, target := range []string{"/plays/recent", "/tracks/top", "/stats"} {
		rr, body := do(t, s, target)
		assert.Equal(t, http.StatusInternalServerError, rr.Code, target)
		assert.Equal(t, "internal error", body["error"], target)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := NewServer(&fakeHistory{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
