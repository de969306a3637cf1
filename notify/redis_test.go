package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fb2kstat/collector"
	"fb2kstat/database"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func playing(id string, pos float64) *collector.PlayerState {
	return &collector.PlayerState{
		PlaybackState: collector.StatePlaying,
		Position:      pos,
		Duration:      200,
		Metadata: collector.NewMetadata(
			collector.Field{Name: collector.ColumnTitle, Value: "Song"},
			collector.Field{Name: collector.ColumnArtist, Value: "A|B"},
		),
		MusicID:       id,
		VolumePercent: 80,
	}
}

func receive(t *testing.T, ch <-chan *redis.Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPublisherPublishesTransitionsAndPlays(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	p := NewPublisherWithClient(rdb, "events", zap.NewNop())

	p.Observe(ctx, collector.Transition{Event: collector.EventStart, Old: nil, New: playing("fp", 0)})
	msg := receive(t, ch)
	assert.Equal(t, TypeTransition, msg.Type)
	assert.Equal(t, "start", msg.Event)
	assert.Equal(t, "playing", msg.State)
	assert.Equal(t, 80.0, msg.Volume)
	require.NotNil(t, msg.Track)
	assert.Equal(t, "fp", msg.Track.ID)
	assert.Equal(t, "A|B", msg.Track.Artists)

	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Observe(ctx, collector.Transition{
		Event: collector.EventDisconnect,
		Old:   playing("fp", 100),
		Flush: &collector.FlushResult{
			Track:    database.Track{ID: "fp", Title: "Song", Duration: 200},
			Record:   &database.PlayRecord{ID: "rec-1", TrackID: "fp", StartedAt: started, Duration: 100},
			Credited: 100,
		},
	})

	msg = receive(t, ch)
	assert.Equal(t, "disconnect", msg.Event)
	assert.Equal(t, "disconnected", msg.State)
	require.NotNil(t, msg.Track)

	msg = receive(t, ch)
	assert.Equal(t, TypePlay, msg.Type)
	assert.Equal(t, "rec-1", msg.RecordID)
	assert.Equal(t, 100.0, msg.Duration)
	assert.True(t, started.Equal(msg.StartedAt))
}

func TestPublisherSkipsIdleAndUnpersisted(t *testing.T) {
	_, rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	p := NewPublisherWithClient(rdb, "events", nil)
	p.Observe(ctx, collector.Transition{Event: collector.EventIdle})
	p.Observe(ctx, collector.Transition{
		Event: collector.EventStop,
		Old:   playing("fp", 10),
		New:   &collector.PlayerState{},
		Flush: &collector.FlushResult{Track: database.Track{ID: "fp"}, Credited: 3},
	})

	msg := receive(t, ch)
	assert.Equal(t, "stop", msg.Event)
	assert.Equal(t, "stopped", msg.State)
	assert.Nil(t, msg.Track)

	select {
	case m := <-ch:
		t.Fatalf("unexpected message %s", m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublisherLogsFailures(t *testing.T) {
	mr, rdb := setupRedis(t)
	p := NewPublisherWithClient(rdb, "events", nil)
	mr.Close()

	assert.NotPanics(t, func() {
		p.Observe(context.Background(), collector.Transition{Event: collector.EventConnect, New: playing("fp", 0)})
	})
}

func TestNewPublisher(t *testing.T) {
	mr, _ := setupRedis(t)

	p, err := NewPublisher(context.Background(), "redis://"+mr.Addr(), "events", nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())

	_, err = NewPublisher(context.Background(), "not-a-url", "events", nil)
	assert.Error(t, err)
}
