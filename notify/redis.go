package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fb2kstat/collector"
)

const publishTimeout = 2 * time.Second

// Message types
const (
	TypeTransition = "transition"
	TypePlay       = "play"
)

// TrackInfo identifies the track a message is about.
type TrackInfo struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Artists string  `json:"artists,omitempty"`
	Album   string  `json:"album,omitempty"`
	Length  float64 `json:"length,omitempty"`
}

// Message is the JSON document published for every event.
type Message struct {
	Type     string     `json:"type"`
	Event    string     `json:"event,omitempty"`
	Time     time.Time  `json:"time"`
	State    string     `json:"state,omitempty"`
	Position float64    `json:"position,omitempty"`
	Volume   float64    `json:"volume,omitempty"`
	Track    *TrackInfo `json:"track,omitempty"`

	// set for plays
	RecordID  string    `json:"record_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Duration  float64   `json:"duration,omitempty"`
}

// Publisher forwards collector transitions to a Redis channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
	now     func() time.Time
	logger  *zap.Logger
}

// NewPublisher connects to the Redis server at url.
func NewPublisher(ctx context.Context, url, channel string, logger *zap.Logger) (*Publisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPublisherWithClient(rdb, channel, logger), nil
}

// NewPublisherWithClient uses an existing client.
func NewPublisherWithClient(rdb *redis.Client, channel string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{rdb: rdb, channel: channel, now: time.Now, logger: logger}
}

// Observe publishes the transition and, when a record was persisted, the play.
// Failures are logged only.
func (p *Publisher) Observe(ctx context.Context, tr collector.Transition) {
	if tr.Event != collector.EventIdle {
		p.publish(ctx, transitionMessage(tr, p.now()))
	}
	if f := tr.Flush; f != nil && f.Err == nil && f.Record != nil {
		p.publish(ctx, Message{
			Type: TypePlay,
			Time: p.now(),
			Track: &TrackInfo{
				ID:      f.Track.ID,
				Title:   f.Track.Title,
				Artists: f.Track.Artists,
				Album:   f.Track.Album,
				Length:  f.Track.Duration,
			},
			RecordID:  f.Record.ID,
			StartedAt: f.Record.StartedAt,
			Duration:  f.Record.Duration,
		})
	}
}

func transitionMessage(tr collector.Transition, now time.Time) Message {
	msg := Message{Type: TypeTransition, Event: tr.Event.String(), Time: now}

	s := tr.New
	if s == nil {
		s = tr.Old
		msg.State = "disconnected"
	} else {
		msg.State = s.PlaybackState.String()
		msg.Position = s.Position
		msg.Volume = s.VolumePercent
	}
	if s.HasMetadata() {
		meta := s.Metadata.Map()
		msg.Track = &TrackInfo{
			ID:      s.MusicID,
			Title:   meta[collector.ColumnTitle],
			Artists: meta[collector.ColumnArtist],
			Album:   meta[collector.ColumnAlbum],
			Length:  s.Duration,
		}
	}
	return msg
}

func (p *Publisher) publish(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to encode message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("Failed to publish", zap.String("channel", p.channel), zap.String("type", msg.Type), zap.Error(err))
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
