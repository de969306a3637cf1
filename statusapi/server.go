package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fb2kstat/collector"
	"fb2kstat/database"
)

const (
	defaultLimit   = 15
	maxLimit       = 500
	defaultTopDays = 30
)

// StateFunc returns the latest canonical player state, nil when disconnected.
type StateFunc func() *collector.PlayerState

// Server exposes the collector's state and history over HTTP.
type Server struct {
	history database.History
	current StateFunc
	now     func() time.Time
	logger  *zap.Logger
}

func NewServer(history database.History, current StateFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{history: history, current: current, now: time.Now, logger: logger}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/now", s.handleNow)
	r.Get("/plays/recent", s.handleRecentPlays)
	r.Get("/tracks/top", s.handleTopTracks)
	r.Get("/stats", s.handleStats)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("Status API listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fb2kstat",
	})
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	var cur *collector.PlayerState
	if s.current != nil {
		cur = s.current()
	}
	if cur == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, nowFromState(cur))
}

func (s *Server) handleRecentPlays(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plays, err := s.history.RecentPlays(r.Context(), limit)
	if err != nil {
		s.internalError(w, "recent plays", err)
		return
	}
	out := make([]playJSON, 0, len(plays))
	for _, p := range plays {
		out = append(out, playJSON{
			ID:        p.ID,
			StartedAt: p.StartedAt,
			Duration:  p.Duration,
			Track:     trackFromDB(p.Track),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTopTracks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intParam(r, "days", defaultTopDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// days=0 covers the whole history
	var since time.Time
	if days > 0 {
		since = s.now().AddDate(0, 0, -days)
	}

	top, err := s.history.TopTracks(r.Context(), since, limit)
	if err != nil {
		s.internalError(w, "top tracks", err)
		return
	}
	out := make([]trackPlaysJSON, 0, len(top))
	for _, tp := range top {
		out = append(out, trackPlaysJSON{trackJSON: trackFromDB(tp.Track), Plays: tp.Plays, Listened: tp.Listened})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.GetStats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsJSON{
		Tracks:        stats.TrackCount,
		Plays:         stats.PlayCount,
		TotalListened: stats.TotalListened,
		FirstPlay:     stats.FirstPlay,
		LastPlay:      stats.LastPlay,
		DatabaseSize:  stats.DatabaseSize,
	})
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error("Status API query failed", zap.String("query", what), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	if name == "limit" {
		if v == 0 {
			v = def
		}
		v = min(v, maxLimit)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
