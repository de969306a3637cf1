package scrobble

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fb2kstat/collector"
)

const (
	defaultQueueSize = 64

	minScrobbleLength = 30 * time.Second
	maxScrobbleWait   = 4 * time.Minute
)

// ShouldScrobble applies Last.fm's rule: the track lasts at least 30 seconds
// and was heard for half its length or four minutes, whichever comes first.
func ShouldScrobble(length, heard time.Duration) bool {
	if length < minScrobbleLength {
		return false
	}
	return heard >= min(length/2, maxScrobbleWait)
}

type jobKind int

const (
	jobNowPlaying jobKind = iota
	jobScrobble
)

func (k jobKind) String() string {
	if k == jobScrobble {
		return "scrobble"
	}
	return "now_playing"
}

type job struct {
	kind  jobKind
	track Track
}

// Scrobbler is a collector observer that submits plays in the background.
// A full queue drops submissions instead of stalling the pipeline.
type Scrobbler struct {
	client Client
	joiner string
	logger *zap.Logger
	queue  chan job
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

// NewScrobbler creates a Scrobbler. joiner is the delimiter of the stored
// artist list; only the first artist is submitted.
func NewScrobbler(client Client, joiner string, queueSize int, logger *zap.Logger) *Scrobbler {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scrobbler{
		client: client,
		joiner: joiner,
		logger: logger,
		queue:  make(chan job, queueSize),
	}
}

// Start launches the worker. It drains the queue until Close is called.
func (s *Scrobbler) Start() {
	s.once.Do(func() {
		s.wg.Add(1)
		go s.worker()
	})
}

func (s *Scrobbler) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		var err error
		switch j.kind {
		case jobNowPlaying:
			err = s.client.UpdateNowPlaying(j.track)
		case jobScrobble:
			err = s.client.Scrobble(j.track)
		}
		if err != nil {
			s.logger.Warn("Last.fm submission failed",
				zap.Stringer("kind", j.kind),
				zap.String("title", j.track.Title),
				zap.Error(err))
			continue
		}
		s.logger.Debug("Submitted to Last.fm", zap.Stringer("kind", j.kind), zap.String("title", j.track.Title))
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (s *Scrobbler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

// Observe queues a scrobble for a finished play and a now-playing update
// when a track starts or resumes.
func (s *Scrobbler) Observe(_ context.Context, tr collector.Transition) {
	if f := tr.Flush; f != nil && f.Err == nil && f.Record != nil {
		length := seconds(f.Track.Duration)
		if ShouldScrobble(length, seconds(f.Credited)) {
			s.enqueue(job{kind: jobScrobble, track: Track{
				Artist:    s.firstArtist(f.Track.Artists),
				Title:     f.Track.Title,
				Album:     f.Track.Album,
				Duration:  length,
				Timestamp: f.Record.StartedAt,
			}})
		}
	}

	switch tr.Event {
	case collector.EventConnect, collector.EventStart, collector.EventSwitch, collector.EventResume:
	default:
		return
	}
	cur := tr.New
	if cur == nil || cur.PlaybackState != collector.StatePlaying || !cur.HasTrack() {
		return
	}
	meta := cur.Metadata.Map()
	title := meta[collector.ColumnTitle]
	artist := s.firstArtist(meta[collector.ColumnArtist])
	if title == "" || artist == "" {
		return
	}
	s.enqueue(job{kind: jobNowPlaying, track: Track{
		Artist:   artist,
		Title:    title,
		Album:    meta[collector.ColumnAlbum],
		Duration: seconds(cur.Duration),
	}})
}

func (s *Scrobbler) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- j:
	default:
		s.logger.Warn("Scrobble queue full, dropping", zap.Stringer("kind", j.kind), zap.String("title", j.track.Title))
	}
}

func (s *Scrobbler) firstArtist(artists string) string {
	if s.joiner != "" {
		artists, _, _ = strings.Cut(artists, s.joiner)
	}
	return strings.TrimSpace(artists)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
