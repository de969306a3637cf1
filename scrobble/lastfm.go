package scrobble

import (
	"errors"
	"fmt"
	"time"

	"github.com/shkh/lastfm-go/lastfm"
)

// ErrNotAuthenticated is returned when no session key is configured.
var ErrNotAuthenticated = errors.New("not authenticated")

// Track is the metadata submitted to Last.fm.
type Track struct {
	Artist    string
	Title     string
	Album     string
	Duration  time.Duration
	Timestamp time.Time // when playback started
}

// Client submits plays to a scrobbling service.
type Client interface {
	UpdateNowPlaying(track Track) error
	Scrobble(track Track) error
}

// LastfmClient talks to the Last.fm web API.
type LastfmClient struct {
	api        *lastfm.Api
	sessionKey string
}

// NewLastfmClient creates an authenticated client. Session keys are obtained
// once through the desktop auth flow and stored in the config.
func NewLastfmClient(apiKey, apiSecret, sessionKey string) *LastfmClient {
	api := lastfm.New(apiKey, apiSecret)
	if sessionKey != "" {
		api.SetSession(sessionKey)
	}
	return &LastfmClient{api: api, sessionKey: sessionKey}
}

func (c *LastfmClient) params(track Track) lastfm.P {
	p := lastfm.P{
		"artist": track.Artist,
		"track":  track.Title,
	}
	if track.Album != "" {
		p["album"] = track.Album
	}
	if track.Duration > 0 {
		p["duration"] = int(track.Duration.Seconds())
	}
	return p
}

// UpdateNowPlaying sends a "now playing" notification.
func (c *LastfmClient) UpdateNowPlaying(track Track) error {
	if c.sessionKey == "" {
		return ErrNotAuthenticated
	}
	if _, err := c.api.Track.UpdateNowPlaying(c.params(track)); err != nil {
		return fmt.Errorf("update now playing: %w", err)
	}
	return nil
}

// Scrobble submits a finished play.
func (c *LastfmClient) Scrobble(track Track) error {
	if c.sessionKey == "" {
		return ErrNotAuthenticated
	}
	p := c.params(track)
	p["timestamp"] = track.Timestamp.Unix()
	if _, err := c.api.Track.Scrobble(p); err != nil {
		return fmt.Errorf("scrobble: %w", err)
	}
	return nil
}
