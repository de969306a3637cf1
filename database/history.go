package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultLimit = 15

const playColumns = `
	p.id, p.track_id, p.started_at, p.duration,
	t.id, t.title, t.artists, t.album, t.duration, t.created_at`

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// RecentPlays returns the most recent play records, newest first.
func (dm *DatabaseManager) RecentPlays(ctx context.Context, limit int) ([]Play, error) {
	rows, err := dm.DB.QueryContext(ctx, dm.rebind(`
		SELECT`+playColumns+`
		FROM play_records p
		JOIN tracks t ON t.id = p.track_id
		ORDER BY p.started_at DESC
		LIMIT ?
	`), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plays: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var (
			play    Play
			started float64
		)
		track, err := scanTrack(scanFunc(func(dest ...any) error {
			return rows.Scan(append([]any{&play.ID, &play.TrackID, &started, &play.PlayRecord.Duration}, dest...)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		play.StartedAt = fromUnix(started)
		play.Track = *track
		plays = append(plays, play)
	}
	return plays, rows.Err()
}

// TopTracks ranks tracks by play count since the given time, breaking ties
// by total listened seconds. A zero since covers the whole history.
func (dm *DatabaseManager) TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackPlays, error) {
	var from float64
	if !since.IsZero() {
		from = toUnix(since)
	}

	rows, err := dm.DB.QueryContext(ctx, dm.rebind(`
		SELECT t.id, t.title, t.artists, t.album, t.duration, t.created_at,
			COUNT(p.id) AS plays, SUM(p.duration) AS listened
		FROM tracks t
		JOIN play_records p ON p.track_id = t.id
		WHERE p.started_at >= ?
		GROUP BY t.id, t.title, t.artists, t.album, t.duration, t.created_at
		ORDER BY plays DESC, listened DESC, t.title ASC
		LIMIT ?
	`), from, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	defer rows.Close()

	var top []TrackPlays
	for rows.Next() {
		var entry TrackPlays
		track, err := scanTrack(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &entry.Plays, &entry.Listened)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to scan top track: %w", err)
		}
		entry.Track = *track
		top = append(top, entry)
	}
	return top, rows.Err()
}

// likeEscaper quotes LIKE wildcards for ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SearchTracks matches the query against title, artists and album,
// case-insensitively. Tracks are returned with their play totals, most
// played first.
func (dm *DatabaseManager) SearchTracks(ctx context.Context, query string, limit int) ([]TrackPlays, error) {
	var conditions []string
	var args []any
	for _, term := range strings.Fields(strings.ToLower(query)) {
		pattern := "%" + likeEscaper.Replace(term) + "%"
		conditions = append(conditions, "(LOWER(t.title) LIKE ? ESCAPE '!' OR LOWER(t.artists) LIKE ? ESCAPE '!' OR LOWER(COALESCE(t.album, '')) LIKE ? ESCAPE '!')")
		args = append(args, pattern, pattern, pattern)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, clampLimit(limit))

	rows, err := dm.DB.QueryContext(ctx, dm.rebind(fmt.Sprintf(`
		SELECT t.id, t.title, t.artists, t.album, t.duration, t.created_at,
			COUNT(p.id) AS plays, COALESCE(SUM(p.duration), 0) AS listened
		FROM tracks t
		LEFT JOIN play_records p ON p.track_id = t.id
		%s
		GROUP BY t.id, t.title, t.artists, t.album, t.duration, t.created_at
		ORDER BY plays DESC, t.title ASC
		LIMIT ?
	`, whereClause)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackPlays
	for rows.Next() {
		var entry TrackPlays
		track, err := scanTrack(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &entry.Plays, &entry.Listened)...)
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		entry.Track = *track
		tracks = append(tracks, entry)
	}
	return tracks, rows.Err()
}

// scanFunc lets scanTrack read a prefix or suffix of a wider row.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
