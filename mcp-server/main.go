package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"fb2kstat/config"
	"fb2kstat/database"
	"fb2kstat/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	defaultLimit = 15
	// The collector writes from another process, so cached answers only
	// live briefly.
	cacheExpiration = 30 * time.Second
)

// Query source shared by every handler for the MCP server session
var history database.History

func main() {
	cfg, err := config.Load(os.Getenv("FB2KSTAT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; zap writes to stderr
	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	dm, err := database.NewDatabaseManager(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer dm.Close()

	history = database.NewQueryCacheWithConfig(dm, cacheExpiration, 2*cacheExpiration)

	if err := server.ServeStdio(newServer()); err != nil {
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

func newServer() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"fb2kstat-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithLogging(),
	)

	recentTool := mcp.NewTool("recent_plays",
		mcp.WithDescription("List the most recent listening sessions recorded from foobar2000, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of plays to return (default 15, max 500)"),
		),
	)

	topTool := mcp.NewTool("top_tracks",
		mcp.WithDescription("Rank tracks by number of recorded plays, ties broken by total listening time"),
		mcp.WithNumber("days",
			mcp.Description("Only count plays from the last N days. 0 or omitted covers the whole history."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tracks to return (default 15, max 500)"),
		),
	)

	searchTool := mcp.NewTool("search_tracks",
		mcp.WithDescription("Search known tracks by title, artist or album. Every word of the query must match."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Words to look for, case-insensitive"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tracks to return (default 15, max 500)"),
		),
	)

	mcpServer.AddTool(recentTool, recentPlaysHandler)
	mcpServer.AddTool(topTool, topTracksHandler)
	mcpServer.AddTool(searchTool, searchTracksHandler)

	statsResource := mcp.NewResource(
		"fb2kstat://stats",
		"Listening Statistics",
		mcp.WithResourceDescription("Track and play counts, total listening time and first/last play"),
		mcp.WithMIMEType("application/json"),
	)
	mcpServer.AddResource(statsResource, statsHandler)

	return mcpServer
}

// Track is the JSON shape returned by every tool.
type Track struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artists  string  `json:"artists"`
	Album    string  `json:"album,omitempty"`
	Duration float64 `json:"duration"`
	Plays    int64   `json:"plays,omitempty"`
	Listened float64 `json:"listened,omitempty"`
}

// Play is one listening session.
type Play struct {
	StartedAt time.Time `json:"started_at"`
	Listened  float64   `json:"listened"`
	Track     Track     `json:"track"`
}

func toTrack(t database.Track) Track {
	return Track{ID: t.ID, Title: t.Title, Artists: t.Artists, Album: t.Album, Duration: t.Duration}
}

func toTrackPlays(rows []database.TrackPlays) []Track {
	out := make([]Track, 0, len(rows))
	for _, r := range rows {
		t := toTrack(r.Track)
		t.Plays = r.Plays
		t.Listened = r.Listened
		out = append(out, t)
	}
	return out
}

func jsonResult(v any) *mcp.CallToolResult {
	result, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal results: %v", err))
	}
	return mcp.NewToolResultText(string(result))
}

func recentPlaysHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultLimit)

	plays, err := history.RecentPlays(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(plays) == 0 {
		return mcp.NewToolResultText("No plays recorded yet."), nil
	}

	out := make([]Play, 0, len(plays))
	for _, p := range plays {
		out = append(out, Play{StartedAt: p.StartedAt, Listened: p.Duration, Track: toTrack(p.Track)})
	}
	return jsonResult(out), nil
}

func topTracksHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := request.GetInt("days", 0)
	limit := request.GetInt("limit", defaultLimit)
	if days < 0 {
		return mcp.NewToolResultError("days must not be negative"), nil
	}

	var since time.Time
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}
	top, err := history.TopTracks(ctx, since, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(top) == 0 {
		return mcp.NewToolResultText("No plays recorded in that period."), nil
	}
	return jsonResult(toTrackPlays(top)), nil
}

func searchTracksHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid query parameter: %v", err)), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("Query must not be empty"), nil
	}
	limit := request.GetInt("limit", defaultLimit)

	tracks, err := history.SearchTracks(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	if len(tracks) == 0 {
		return mcp.NewToolResultText("No tracks found matching the query."), nil
	}
	return jsonResult(toTrackPlays(tracks)), nil
}

func statsHandler(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := history.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	statsJSON, err := json.MarshalIndent(map[string]any{
		"tracks":         stats.TrackCount,
		"plays":          stats.PlayCount,
		"total_listened": stats.TotalListened,
		"first_play":     stats.FirstPlay,
		"last_play":      stats.LastPlay,
		"database_size":  stats.DatabaseSize,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(statsJSON),
		},
	}, nil
}
