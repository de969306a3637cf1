package collector

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fb2kstat/database"
)

// Store persists the outcome of a flush. SaveSession must create the track
// only if it is unknown and insert record, when not nil, atomically.
type Store interface {
	SaveSession(ctx context.Context, track database.Track, record *database.PlayRecord) error
}

// FlushResult describes one non-empty flush.
type FlushResult struct {
	Track    database.Track
	Record   *database.PlayRecord // nil when the session did not qualify
	Credited float64              // seconds
	Samples  int
	Err      error // persistence failure; the credit is dropped
}

// Accumulator turns a session buffer into a credited duration and at most
// one persistence write.
type Accumulator struct {
	store     Store
	threshold float64
	tolerance float64 // seconds
	newID     func() string
	logger    *zap.Logger
}

// NewAccumulator creates an accumulator writing to store.
func NewAccumulator(store Store, threshold float64, tolerance time.Duration, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{
		store:     store,
		threshold: threshold,
		tolerance: tolerance.Seconds(),
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// Credit returns the listening time supported by buffer at now. Each
// consecutive pair starting from a playing sample contributes its position
// delta when 0 < delta < wall delta + tolerance; a trailing playing sample
// contributes min(time left in the track, time since the sample).
func (a *Accumulator) Credit(buffer []PlayerState, now time.Time) float64 {
	var total float64
	for i := 1; i < len(buffer); i++ {
		prev, cur := buffer[i-1], buffer[i]
		if prev.PlaybackState != StatePlaying {
			continue
		}
		wall := cur.Time.Sub(prev.Time).Seconds()
		delta := cur.Position - prev.Position
		if delta > 0 && delta < wall+a.tolerance {
			total += delta
			continue
		}
		a.logger.Debug("Rejected position delta",
			zap.Float64("position_delta", delta),
			zap.Float64("wall_delta", wall),
			zap.Float64("tolerance", a.tolerance))
	}

	if len(buffer) == 0 {
		return total
	}
	last := buffer[len(buffer)-1]
	if last.PlaybackState == StatePlaying {
		remaining := last.Duration - last.Position
		elapsed := now.Sub(last.Time).Seconds()
		if tail := math.Min(remaining, elapsed); tail > 0 {
			total += tail
		}
	}
	return total
}

// Flush credits buffer, persists the track and a qualifying record, and
// reports what happened. It returns nil for a buffer without non-stopped
// samples, in which case nothing is written.
func (a *Accumulator) Flush(ctx context.Context, buffer []PlayerState, now time.Time) *FlushResult {
	samples := make([]PlayerState, 0, len(buffer))
	for _, s := range buffer {
		if s.PlaybackState != StateStopped {
			samples = append(samples, s)
		}
	}
	if len(samples) == 0 {
		return nil
	}

	first, last := samples[0], samples[len(samples)-1]
	credited := a.Credit(samples, now)
	track := trackFromState(last, now)
	result := &FlushResult{Track: track, Credited: credited, Samples: len(samples)}

	span := now.Sub(first.Time).Seconds() + a.tolerance
	switch {
	case track.Duration <= 0:
		a.logger.Info("Skipping record for track without duration", zap.String("title", track.Title))
	case span < credited:
		a.logger.Warn("Credited duration exceeds session span",
			zap.Float64("credited", credited), zap.Float64("span", span))
	case credited/track.Duration >= a.threshold:
		result.Record = &database.PlayRecord{
			ID:        a.newID(),
			TrackID:   track.ID,
			StartedAt: first.Time,
			Duration:  credited,
		}
	default:
		a.logger.Info("Session below record threshold",
			zap.String("title", track.Title),
			zap.Float64("credited", credited),
			zap.Float64("ratio", credited/track.Duration))
	}

	if err := a.store.SaveSession(ctx, track, result.Record); err != nil {
		a.logger.Error("Failed to persist session, credit lost",
			zap.String("music_id", track.ID), zap.Float64("credited", credited), zap.Error(err))
		result.Err = err
		return result
	}
	if result.Record != nil {
		a.logger.Info("Added play record",
			zap.String("title", track.Title),
			zap.Float64("duration", credited),
			zap.Time("started_at", first.Time))
	}
	return result
}

func trackFromState(s PlayerState, now time.Time) database.Track {
	title, _ := s.Metadata.Get(ColumnTitle)
	artists, _ := s.Metadata.Get(ColumnArtist)
	album, _ := s.Metadata.Get(ColumnAlbum)
	return database.Track{
		ID:        s.MusicID,
		Title:     title,
		Artists:   artists,
		Album:     album,
		Duration:  s.Duration,
		CreatedAt: now,
	}
}
