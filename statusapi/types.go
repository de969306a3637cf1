package statusapi

import (
	"time"

	"fb2kstat/collector"
	"fb2kstat/database"
)

type trackJSON struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artists  string  `json:"artists"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration"`
}

type playJSON struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Duration  float64   `json:"duration"`
	Track     trackJSON `json:"track"`
}

type trackPlaysJSON struct {
	trackJSON
	Plays    int64   `json:"plays"`
	Listened float64 `json:"listened"`
}

type statsJSON struct {
	Tracks        int64      `json:"tracks"`
	Plays         int64      `json:"plays"`
	TotalListened float64    `json:"total_listened"`
	FirstPlay     *time.Time `json:"first_play,omitempty"`
	LastPlay      *time.Time `json:"last_play,omitempty"`
	DatabaseSize  int64      `json:"database_size,omitempty"`
}

type nowJSON struct {
	Status   string            `json:"status"`
	Position float64           `json:"position"`
	Duration float64           `json:"duration"`
	Volume   float64           `json:"volume"`
	MusicID  string            `json:"music_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Time     time.Time         `json:"time"`
}

func trackFromDB(t database.Track) trackJSON {
	return trackJSON{ID: t.ID, Title: t.Title, Artists: t.Artists, Album: t.Album, Duration: t.Duration}
}

func nowFromState(s *collector.PlayerState) nowJSON {
	out := nowJSON{
		Status:   s.PlaybackState.String(),
		Position: s.Position,
		Duration: s.Duration,
		Volume:   s.VolumePercent,
		MusicID:  s.MusicID,
		Time:     s.Time,
	}
	if s.HasMetadata() {
		out.Metadata = s.Metadata.Map()
	}
	return out
}
