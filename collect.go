package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fb2kstat/beefweb"
	"fb2kstat/collector"
	"fb2kstat/database"
	"fb2kstat/lockfile"
	"fb2kstat/notify"
	"fb2kstat/scrobble"
	"fb2kstat/statusapi"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the collector until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCollect(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func newBeefwebClient() (*beefweb.Client, error) {
	opts := []beefweb.Option{beefweb.WithLogger(logger)}
	if cfg.Username != "" {
		opts = append(opts, beefweb.WithBasicAuth(cfg.Username, cfg.Password))
	}
	return beefweb.NewClient(cfg.APIRoot, opts...)
}

func runCollect(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lockPath := cfg.LockFile
	if lockPath == "" {
		var err error
		if lockPath, err = lockfile.DefaultPath(); err != nil {
			return err
		}
	}
	lock, err := lockfile.Acquire(lockPath)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			logger.Error("Another collector is already running", zap.String("lock", lockPath))
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release lock", zap.Error(err))
		}
	}()

	dm, err := database.NewDatabaseManager(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer dm.Close()

	client, err := newBeefwebClient()
	if err != nil {
		return err
	}

	c := collector.New(client, dm, collector.OptionsFromConfig(cfg), logger)

	cache := database.NewQueryCache(dm)
	c.AddObserver(collector.ObserverFunc(func(_ context.Context, tr collector.Transition) {
		if f := tr.Flush; f != nil && f.Err == nil && f.Record != nil {
			cache.Invalidate()
		}
	}))

	if cfg.HasRedisConfig() {
		pub, err := notify.NewPublisher(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
		if err != nil {
			// events are optional; collecting continues without them
			logger.Error("Redis publishing disabled", zap.Error(err))
		} else {
			defer pub.Close()
			c.AddObserver(pub)
			logger.Info("Publishing session events", zap.String("channel", cfg.Redis.Channel))
		}
	}

	if cfg.HasLastfmConfig() {
		lf := scrobble.NewLastfmClient(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret, cfg.Lastfm.SessionKey)
		s := scrobble.NewScrobbler(lf, cfg.DatabaseArtistDelimiter, 0, logger)
		s.Start()
		defer s.Close()
		c.AddObserver(s)
		logger.Info("Scrobbling to Last.fm")
	}

	var wg sync.WaitGroup
	if cfg.HasStatusConfig() {
		srv := statusapi.NewServer(cache, c.Current, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.Status.Listen); err != nil {
				logger.Error("Status API stopped", zap.Error(err))
			}
		}()
	}
	defer func() {
		stop()
		wg.Wait()
	}()

	logger.Info("Collecting",
		zap.String("api_root", cfg.APIRoot),
		zap.String("database", dm.Dialect().String()),
		zap.Strings("identity", cfg.ColumnsAsID))
	return c.Run(ctx, lock)
}
