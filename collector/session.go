package collector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event names the transition between two consecutive states.
type Event int

const (
	EventIdle       Event = iota // no track before or after
	EventConnect                 // feed came up
	EventDisconnect              // feed went down
	EventStart                   // a track appeared
	EventStop                    // the track went away
	EventSwitch                  // a different track
	EventPause                   // playing to paused
	EventResume                  // paused to playing
	EventProgress                // playing to playing
	EventUpdate                  // any other change of the same track
)

var eventNames = [...]string{
	EventIdle:       "idle",
	EventConnect:    "connect",
	EventDisconnect: "disconnect",
	EventStart:      "start",
	EventStop:       "stop",
	EventSwitch:     "switch",
	EventPause:      "pause",
	EventResume:     "resume",
	EventProgress:   "progress",
	EventUpdate:     "update",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Flushes reports whether the event closes the current session.
func (e Event) Flushes() bool {
	switch e {
	case EventDisconnect, EventStop, EventSwitch, EventPause:
		return true
	default:
		return false
	}
}

// Classify names the transition from old to cur. A nil state is the
// disconnected marker.
func Classify(old, cur *PlayerState) Event {
	switch {
	case old == nil && cur == nil:
		return EventIdle
	case old == nil:
		return EventConnect
	case cur == nil:
		return EventDisconnect
	}

	oldTrack, newTrack := old.HasTrack(), cur.HasTrack()
	switch {
	case !oldTrack && !newTrack:
		return EventIdle
	case !newTrack:
		return EventStop
	case !oldTrack:
		return EventStart
	case old.MusicID != cur.MusicID:
		return EventSwitch
	}

	switch {
	case old.PlaybackState == StatePlaying && cur.PlaybackState == StatePaused:
		return EventPause
	case old.PlaybackState == StatePaused && cur.PlaybackState == StatePlaying:
		return EventResume
	case old.PlaybackState == StatePlaying && cur.PlaybackState == StatePlaying:
		return EventProgress
	default:
		return EventUpdate
	}
}

// Transition is the outcome of feeding one state to the Machine.
type Transition struct {
	Event Event
	Old   *PlayerState
	New   *PlayerState
	Flush *FlushResult // nil unless a non-empty buffer was flushed
}

// Machine owns the last state and the session buffer. It is not safe for
// concurrent use; the Collector serializes access.
type Machine struct {
	last   *PlayerState
	buffer []PlayerState
	acc    *Accumulator
	now    func() time.Time
	logger *zap.Logger
}

// NewMachine starts disconnected with an empty buffer.
func NewMachine(acc *Accumulator, now func() time.Time, logger *zap.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{acc: acc, now: now, logger: logger}
}

// Last returns the last state handled, nil when disconnected.
func (m *Machine) Last() *PlayerState {
	return m.last
}

// Buffered returns the number of states in the session buffer.
func (m *Machine) Buffered() int {
	return len(m.buffer)
}

// Handle classifies cur against the last state and applies the effects:
// append to the buffer, flush it, or both. Flushes run at cur's capture
// time, or at the clock for a disconnect.
func (m *Machine) Handle(ctx context.Context, cur *PlayerState) Transition {
	old := m.last
	ev := Classify(old, cur)
	tr := Transition{Event: ev, Old: old, New: cur}

	now := m.now()
	if cur != nil {
		now = cur.Time
	}

	switch ev {
	case EventConnect:
		m.logger.Info("Connected")
		if cur.HasTrack() {
			m.logger.Info("Now playing", zap.String("title", cur.Title()))
			m.append(*cur)
		}
	case EventDisconnect:
		m.logger.Info("Disconnected")
		tr.Flush = m.flush(ctx, now)
	case EventStart:
		m.logger.Info("Started", zap.String("title", cur.Title()))
		m.append(*cur)
	case EventStop:
		m.logger.Info("Stopped", zap.String("title", old.Title()))
		tr.Flush = m.flush(ctx, now)
	case EventSwitch:
		m.logger.Info("Switched", zap.String("from", old.Title()), zap.String("to", cur.Title()))
		tr.Flush = m.flush(ctx, now)
		m.append(*cur)
	case EventPause:
		m.logger.Info("Paused", zap.String("title", cur.Title()), zap.Float64("position", cur.Position))
		m.append(*cur)
		tr.Flush = m.flush(ctx, now)
	case EventResume:
		m.logger.Info("Resumed", zap.String("title", cur.Title()), zap.Float64("position", cur.Position))
		m.append(*cur)
	case EventProgress:
		if old.VolumePercent != cur.VolumePercent {
			m.logger.Debug("Volume changed", zap.Float64("volume", cur.VolumePercent))
		} else {
			m.logger.Debug("Position changed", zap.Float64("position", cur.Position))
		}
		m.append(*cur)
	case EventUpdate:
		m.append(*cur)
	case EventIdle:
	}

	m.last = nil
	if cur != nil {
		snapshot := *cur
		m.last = &snapshot
	}
	return tr
}

// Flush forces a flush of the buffer at the clock. It is used on shutdown.
func (m *Machine) Flush(ctx context.Context) *FlushResult {
	return m.flush(ctx, m.now())
}

func (m *Machine) append(s PlayerState) {
	m.buffer = append(m.buffer, s)
}

// flush hands the buffer to the accumulator and clears it regardless of
// the outcome.
func (m *Machine) flush(ctx context.Context, now time.Time) *FlushResult {
	if len(m.buffer) == 0 {
		return nil
	}
	buffer := m.buffer
	m.buffer = nil
	return m.acc.Flush(ctx, buffer, now)
}
