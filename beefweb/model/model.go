package model

// PlaybackState is the player status string reported by beefweb
type PlaybackState string

const (
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

// VolumeType is either "db" or "linear"
type VolumeType string

const (
	VolumeDB     VolumeType = "db"
	VolumeLinear VolumeType = "linear"
)

// PlayerInfo identifies the player application
type PlayerInfo struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Version       string `json:"version"`
	PluginVersion string `json:"pluginVersion"`
}

// ActiveItem describes the item the player currently points at. Columns
// holds one value per requested title-format column, or fewer when nothing
// is loaded.
type ActiveItem struct {
	PlaylistID    string   `json:"playlistId"`
	PlaylistIndex int      `json:"playlistIndex"`
	Index         int      `json:"index"`
	Position      float64  `json:"position"`
	Duration      float64  `json:"duration"`
	Columns       []string `json:"columns"`
}

// Volume is the raw volume block
type Volume struct {
	IsMuted bool       `json:"isMuted"`
	Max     float64    `json:"max"`
	Min     float64    `json:"min"`
	Type    VolumeType `json:"type"`
	Value   float64    `json:"value"`
}

// Player is one raw player-state report
type Player struct {
	ActiveItem    ActiveItem    `json:"activeItem"`
	Info          PlayerInfo    `json:"info"`
	PlaybackMode  int           `json:"playbackMode"`
	PlaybackModes []string      `json:"playbackModes"`
	PlaybackState PlaybackState `json:"playbackState"`
	Volume        Volume        `json:"volume"`
}

// PlaylistInfo describes one playlist
type PlaylistInfo struct {
	ID        string  `json:"id"`
	Index     int     `json:"index"`
	Title     string  `json:"title"`
	IsCurrent bool    `json:"isCurrent"`
	ItemCount int     `json:"itemCount"`
	TotalTime float64 `json:"totalTime"`
}

// PlaylistItem holds the requested columns of one playlist entry
type PlaylistItem struct {
	Columns []string `json:"columns"`
}

// PlaylistItems is a page of playlist entries
type PlaylistItems struct {
	Offset     int            `json:"offset"`
	TotalCount int            `json:"totalCount"`
	Items      []PlaylistItem `json:"items"`
}

// PlayerResponse is the body of GET /player
type PlayerResponse struct {
	Player Player `json:"player"`
}

// QueryResponse is the body of GET /query and of each query/updates event.
// Sections that were not requested, or did not change, are nil.
type QueryResponse struct {
	Player        *Player        `json:"player,omitempty"`
	Playlists     []PlaylistInfo `json:"playlists,omitempty"`
	PlaylistItems *PlaylistItems `json:"playlistItems,omitempty"`
}

// QueryParams selects the sections of a query request
type QueryParams struct {
	Player        bool
	TrColumns     []string // columns evaluated for the active item
	Playlists     bool
	PlaylistItems bool
	PlRef         string
	PlRange       string
	PlColumns     []string
}
