package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"fb2kstat/beefweb/model"
	"fb2kstat/config"
)

// ErrNotLocked is returned by Run when the instance lock is not held.
var ErrNotLocked = errors.New("instance lock not held")

// InstanceLock is the token proving this process owns the store.
type InstanceLock interface {
	Held() bool
}

// Feed delivers raw player reports in arrival order until it breaks.
type Feed interface {
	QueryUpdates(ctx context.Context, params model.QueryParams, fn func(*model.QueryResponse) error) error
}

// Observer is told about every transition after its flush, if any, has
// been persisted. Observe runs on the collector goroutine and must not
// block for long.
type Observer interface {
	Observe(ctx context.Context, tr Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, tr Transition)

func (f ObserverFunc) Observe(ctx context.Context, tr Transition) { f(ctx, tr) }

// Options configures the reconstruction pipeline.
type Options struct {
	IdentityColumns  []string
	ArtistDelimiters []string
	PreservedArtists []string
	ArtistJoiner     string
	RecordThreshold  float64
	RetryInterval    time.Duration
	MaxTolerantDelay time.Duration
	Now              func() time.Time // defaults to time.Now
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IdentityColumns:  cfg.ColumnsAsID,
		ArtistDelimiters: cfg.ArtistDelimiters,
		PreservedArtists: cfg.PreservedArtists,
		ArtistJoiner:     cfg.DatabaseArtistDelimiter,
		RecordThreshold:  cfg.RecordThreshold,
		RetryInterval:    cfg.RetryDelay(),
		MaxTolerantDelay: cfg.ToleranceDelay(),
	}
}

// Collector drives snapshots from a Feed through the normalizer and the
// session machine.
type Collector struct {
	feed       Feed
	normalizer *Normalizer
	retry      time.Duration
	logger     *zap.Logger

	mu        sync.Mutex // serializes snapshots
	machine   *Machine
	observers []Observer

	stateMu sync.RWMutex
	current *PlayerState
}

// New wires a collector reading from feed and persisting to store.
func New(feed Feed, store Store, opts Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
		opts.Now = now
	}

	acc := NewAccumulator(store, opts.RecordThreshold, opts.MaxTolerantDelay, logger.Named("accumulator"))
	return &Collector{
		feed:       feed,
		normalizer: NewNormalizer(opts, logger.Named("normalizer")),
		retry:      opts.RetryInterval,
		logger:     logger,
		machine:    NewMachine(acc, now, logger.Named("session")),
	}
}

// AddObserver registers o. Call before Run.
func (c *Collector) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Columns returns the columns requested from the player.
func (c *Collector) Columns() []string {
	return c.normalizer.Columns()
}

// Current returns a copy of the last state, nil while disconnected.
func (c *Collector) Current() *PlayerState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// Run collects until ctx is done. The feed is re-subscribed after
// RetryInterval whenever it breaks, with a disconnect fed through the
// machine in between. The session in progress is flushed before Run
// returns.
func (c *Collector) Run(ctx context.Context, lock InstanceLock) error {
	if lock == nil || !lock.Held() {
		return ErrNotLocked
	}

	params := model.QueryParams{Player: true, TrColumns: c.normalizer.Columns()}
	c.logger.Info("Start collecting", zap.Strings("columns", params.TrColumns))
	defer func() {
		c.Process(ctx, nil)
		c.logger.Info("Stopped collecting")
	}()

	for {
		err := c.feed.QueryUpdates(ctx, params, func(qr *model.QueryResponse) error {
			if qr.Player == nil {
				return nil
			}
			state := c.normalizer.Normalize(qr.Player)
			c.Process(ctx, &state)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("Feed interrupted, retrying", zap.Error(err), zap.Duration("retry_in", c.retry))
		c.Process(ctx, nil)

		timer := time.NewTimer(c.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Process feeds one canonical state, or nil for a disconnect, through the
// machine and notifies observers. Persistence is not cancelled with ctx.
func (c *Collector) Process(ctx context.Context, state *PlayerState) (tr Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered while processing snapshot", zap.Any("panic", r))
		}
	}()

	ctx = context.WithoutCancel(ctx)
	tr = c.machine.Handle(ctx, state)

	c.stateMu.Lock()
	c.current = c.machine.Last()
	c.stateMu.Unlock()

	for _, o := range c.observers {
		o.Observe(ctx, tr)
	}
	return tr
}
