package collector

import (
	"time"

	"fb2kstat/beefweb/model"
)

// Title-format columns every query requests on top of the identity columns.
const (
	ColumnTitle    = "%title%"
	ColumnArtist   = "%artist%"
	ColumnAlbum    = "%album%"
	ColumnDuration = "%length_seconds_fp%"
)

// VoidField is what foobar2000 renders for a field the item does not have.
const VoidField = "?"

var requiredColumns = []string{ColumnTitle, ColumnArtist, ColumnAlbum, ColumnDuration}

// PlaybackState represents the playback state.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

func parsePlaybackState(s model.PlaybackState) (PlaybackState, bool) {
	switch s {
	case model.PlaybackStopped:
		return StateStopped, true
	case model.PlaybackPlaying:
		return StatePlaying, true
	case model.PlaybackPaused:
		return StatePaused, true
	default:
		return StateStopped, false
	}
}

// Field is one requested column and the value the player rendered for it.
type Field struct {
	Name  string
	Value string
}

// Metadata is an ordered, read-only set of fields. A nil *Metadata means
// the player has no active item.
type Metadata struct {
	fields []Field
}

// NewMetadata copies fields into a new Metadata.
func NewMetadata(fields ...Field) *Metadata {
	return &Metadata{fields: append([]Field(nil), fields...)}
}

// Get returns the value of the named field.
func (m *Metadata) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, f := range m.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Len returns the number of fields.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns a copy of the fields in query order.
func (m *Metadata) Fields() []Field {
	if m == nil {
		return nil
	}
	return append([]Field(nil), m.fields...)
}

// Map returns the fields keyed by name.
func (m *Metadata) Map() map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m.fields))
	for _, f := range m.fields {
		out[f.Name] = f.Value
	}
	return out
}

// with returns a copy where name holds value.
func (m *Metadata) with(name, value string) *Metadata {
	fields := m.Fields()
	for i := range fields {
		if fields[i].Name == name {
			fields[i].Value = value
			return &Metadata{fields: fields}
		}
	}
	return &Metadata{fields: append(fields, Field{Name: name, Value: value})}
}

// PlayerState is the canonical form of one snapshot. Values are never
// mutated after normalization; the disconnected marker is a nil *PlayerState.
type PlayerState struct {
	PlaybackState PlaybackState
	Position      float64 // seconds
	Duration      float64 // seconds, track length
	Metadata      *Metadata
	MusicID       string // fingerprint, empty when Metadata is nil
	VolumePercent float64
	Time          time.Time // when the snapshot was captured
}

// HasMetadata reports whether the player reported an active item.
func (s *PlayerState) HasMetadata() bool {
	return s != nil && s.Metadata != nil
}

// HasTrack reports whether the state belongs to a listening session: an
// active item that is playing or paused.
func (s *PlayerState) HasTrack() bool {
	return s.HasMetadata() && s.PlaybackState != StateStopped
}

// Title returns the title column, or an empty string.
func (s *PlayerState) Title() string {
	if s == nil {
		return ""
	}
	v, _ := s.Metadata.Get(ColumnTitle)
	return v
}

// QueryColumns normalizes the identity columns and appends the required
// columns that are missing, preserving order.
func QueryColumns(identity []string) []string {
	columns := make([]string, 0, len(identity)+len(requiredColumns))
	seen := make(map[string]bool)
	for _, c := range normalizeColumns(identity) {
		if seen[c] {
			continue
		}
		seen[c] = true
		columns = append(columns, c)
	}
	for _, c := range requiredColumns {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	return columns
}
