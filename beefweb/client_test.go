package beefweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fb2kstat/beefweb/model"
)

const playerJSON = `{
	"activeItem": {
		"playlistId": "p1",
		"playlistIndex": 0,
		"index": 3,
		"position": 12.5,
		"duration": 240.0,
		"columns": ["Song", "Artist A/Artist B", "Album", "240.000000"]
	},
	"info": {"name": "foobar2000", "title": "foobar2000", "version": "2.1", "pluginVersion": "0.8"},
	"playbackMode": 0,
	"playbackModes": ["Default"],
	"playbackState": "playing",
	"volume": {"isMuted": false, "max": 0, "min": -100, "type": "db", "value": -20}
}`

func TestNewClientRejectsBadRoot(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)

	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRoot, c.root.String())
}

func TestGetPlayer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/player", r.URL.Path)
		assert.Equal(t, "%title%,%artist%", r.URL.Query().Get("columns"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "pw", pass)

		fmt.Fprintf(w, `{"player": %s}`, playerJSON)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/api/", WithBasicAuth("user", "pw"))
	require.NoError(t, err)

	player, err := c.GetPlayer(context.Background(), []string{"%title%", "%artist%"})
	require.NoError(t, err)
	assert.Equal(t, model.PlaybackPlaying, player.PlaybackState)
	assert.Equal(t, 12.5, player.ActiveItem.Position)
	assert.Len(t, player.ActiveItem.Columns, 4)
	assert.Equal(t, -100.0, player.Volume.Min)
}

func TestGetPlayerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.GetPlayer(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.True(t, IsTransport(err))

	var bfErr *Error
	require.ErrorAs(t, err, &bfErr)
	assert.Equal(t, ErrStatus, bfErr.Kind)
	assert.Equal(t, "get player", bfErr.Op)
}

func TestQueryEncodesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("player"))
		assert.Equal(t, "true", q.Get("playlists"))
		assert.Equal(t, "%title%,%length_seconds_fp%", q.Get("trcolumns"))
		assert.Empty(t, q.Get("playlistItems"))
		fmt.Fprintf(w, `{"player": %s, "playlists": [{"id": "p1", "title": "Default", "isCurrent": true, "itemCount": 4}]}`, playerJSON)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	resp, err := c.Query(context.Background(), model.QueryParams{
		Player:    true,
		Playlists: true,
		TrColumns: []string{"%title%", "%length_seconds_fp%"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Player)
	require.Len(t, resp.Playlists, 1)
	assert.True(t, resp.Playlists[0].IsCurrent)
}

func TestQueryUpdatesDeliversEventsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/updates", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"player\": %s}\n\n", compact(playerJSON))
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "data: {\"playlists\": []}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "event: other\ndata: {}\n\n")
		fmt.Fprintf(w, "data: {\"player\": %s}\n\n", compact(playerJSON))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	var got []*model.QueryResponse
	err = c.QueryUpdates(context.Background(), model.QueryParams{Player: true}, func(qr *model.QueryResponse) error {
		got = append(got, qr)
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.True(t, IsTransport(err))

	require.Len(t, got, 3)
	assert.NotNil(t, got[0].Player)
	assert.Nil(t, got[1].Player)
	assert.NotNil(t, got[2].Player)
}

func TestQueryUpdatesHandlerErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: {\"player\": %s}\n\n", compact(playerJSON))
		fmt.Fprintf(w, "data: {\"player\": %s}\n\n", compact(playerJSON))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	err = c.QueryUpdates(context.Background(), model.QueryParams{Player: true}, func(*model.QueryResponse) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestQueryUpdatesContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: {\"player\": %s}\n\n", compact(playerJSON))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = c.QueryUpdates(ctx, model.QueryParams{Player: true}, func(*model.QueryResponse) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueryUpdatesUnreachable(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1/api", WithTimeout(time.Second))
	require.NoError(t, err)

	err = c.QueryUpdates(context.Background(), model.QueryParams{Player: true}, func(*model.QueryResponse) error { return nil })
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func compact(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\t' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
