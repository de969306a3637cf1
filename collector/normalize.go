package collector

import (
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"fb2kstat/beefweb/model"
)

// ErrZeroVolumeRange is returned when the player reports max == min volume.
var ErrZeroVolumeRange = errors.New("volume range is zero")

// VolumePercent maps the raw volume onto 0-100. Muted is 0.
func VolumePercent(v model.Volume) (float64, error) {
	if v.IsMuted {
		return 0, nil
	}
	span := v.Max - v.Min
	if span == 0 {
		return 0, ErrZeroVolumeRange
	}
	pct := (v.Value - v.Min) / span * 100
	return math.Max(0, math.Min(100, pct)), nil
}

// Normalizer turns raw player reports into PlayerState values.
type Normalizer struct {
	columns    []string
	identity   []string
	delimiters []string
	exclusions []string
	joiner     string
	now        func() time.Time
	logger     *zap.Logger
}

// NewNormalizer builds a normalizer for the configured identity columns.
func NewNormalizer(opts Options, logger *zap.Logger) *Normalizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		columns:    QueryColumns(opts.IdentityColumns),
		identity:   normalizeColumns(opts.IdentityColumns),
		delimiters: opts.ArtistDelimiters,
		exclusions: opts.PreservedArtists,
		joiner:     opts.ArtistJoiner,
		now:        now,
		logger:     logger,
	}
}

// Columns returns the columns to request from the player, in order.
func (n *Normalizer) Columns() []string {
	return append([]string(nil), n.columns...)
}

// Normalize converts one report captured now.
func (n *Normalizer) Normalize(p *model.Player) PlayerState {
	state := PlayerState{Time: n.now()}

	playback, ok := parsePlaybackState(p.PlaybackState)
	if !ok {
		n.logger.Warn("Unknown playback state, treating as stopped", zap.String("state", string(p.PlaybackState)))
	}
	state.PlaybackState = playback
	state.Position = finiteNonNegative(p.ActiveItem.Position)
	state.Duration = finiteNonNegative(p.ActiveItem.Duration)

	vol, err := VolumePercent(p.Volume)
	if err != nil {
		n.logger.Error("Invalid volume range", zap.Float64("min", p.Volume.Min), zap.Float64("max", p.Volume.Max), zap.Error(err))
	}
	state.VolumePercent = vol

	values := p.ActiveItem.Columns
	if len(values) != len(n.columns) {
		if len(values) > 0 {
			n.logger.Debug("Column count mismatch, no active item",
				zap.Int("want", len(n.columns)), zap.Int("got", len(values)))
		}
		return state
	}

	fields := make([]Field, 0, len(values))
	for i, name := range n.columns {
		if values[i] == VoidField {
			continue
		}
		fields = append(fields, Field{Name: name, Value: values[i]})
	}
	md := NewMetadata(fields...)

	if raw, ok := md.Get(ColumnArtist); ok {
		artists := SplitArtists([]string{raw}, n.delimiters, n.exclusions)
		md = md.with(ColumnArtist, strings.Join(artists, n.joiner))
	}

	state.Metadata = md
	state.MusicID = Fingerprint(md, n.identity)
	return state
}

func finiteNonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
