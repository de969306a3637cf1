package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	appName    = "fb2kstat"
	fileName   = "config.toml"
	dbFileName = "fb2k_playback_statistic.db"
)

// Config is read once at startup and never changes afterwards.
type Config struct {
	// beefweb API endpoint and optional basic-auth credentials
	APIRoot  string `koanf:"api_root"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	DatabaseURL string `koanf:"database_url"`
	LockFile    string `koanf:"lock_file"`

	// Columns hashed into the track fingerprint, order sensitive
	ColumnsAsID []string `koanf:"columns_as_id"`
	// Artist names never split even when they contain a delimiter
	PreservedArtists []string `koanf:"preserved_artists"`
	// Delimiters tried in order when splitting the artist column
	ArtistDelimiters []string `koanf:"artist_delimiters"`
	// Delimiter used when storing the artist list
	DatabaseArtistDelimiter string `koanf:"database_artist_delimiter"`

	RecordThreshold  float64 `koanf:"record_threshold"`   // fraction of the track that must be heard
	RetryInterval    float64 `koanf:"retry_interval"`     // seconds between reconnect attempts
	MaxTolerantDelay float64 `koanf:"max_tolerant_delay"` // seconds of jitter accepted per delta

	Log    LogConfig    `koanf:"log"`
	Redis  RedisConfig  `koanf:"redis"`
	Lastfm LastfmConfig `koanf:"lastfm"`
	Status StatusConfig `koanf:"status"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// RedisConfig enables publishing of session events when URL is set.
type RedisConfig struct {
	URL     string `koanf:"url"`
	Channel string `koanf:"channel"`
}

// LastfmConfig enables scrobbling when all three values are set.
type LastfmConfig struct {
	APIKey     string `koanf:"api_key"`
	APISecret  string `koanf:"api_secret"`
	SessionKey string `koanf:"session_key"`
}

// StatusConfig enables the HTTP status API when Listen is set.
type StatusConfig struct {
	Listen string `koanf:"listen"`
}

// Defaults returns the configuration used when no file sets a value.
func Defaults() Config {
	return Config{
		APIRoot:                 "http://127.0.0.1:8880/api",
		DatabaseURL:             "sqlite:///" + filepath.Join(xdg.DataHome, appName, dbFileName),
		ColumnsAsID:             []string{"%title%", "%artist%"},
		PreservedArtists:        []string{"Leo/need"},
		ArtistDelimiters:        []string{"/", ","},
		DatabaseArtistDelimiter: "|",
		RecordThreshold:         0.1,
		RetryInterval:           2.0,
		MaxTolerantDelay:        5.0,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Redis: RedisConfig{Channel: "fb2kstat:events"},
	}
}

// Load reads the config files in priority order (last wins), then applies
// environment overrides. explicit may be empty.
func Load(explicit string) (*Config, error) {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	k := koanf.New(".")
	for _, path := range getConfigPaths(explicit) {
		if _, err := os.Stat(path); err != nil {
			if path == explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	applyDefaults(k, cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getConfigPaths(explicit string) []string {
	paths := []string{
		filepath.Join(xdg.ConfigHome, appName, fileName),
		fileName,
	}
	if explicit != "" {
		paths = append(paths, explicit)
	}
	return paths
}

func applyDefaults(k *koanf.Koanf, cfg *Config) {
	d := Defaults()
	if !k.Exists("api_root") {
		cfg.APIRoot = d.APIRoot
	}
	if !k.Exists("database_url") {
		cfg.DatabaseURL = d.DatabaseURL
	}
	if !k.Exists("columns_as_id") {
		cfg.ColumnsAsID = d.ColumnsAsID
	}
	if !k.Exists("preserved_artists") {
		cfg.PreservedArtists = d.PreservedArtists
	}
	if !k.Exists("artist_delimiters") {
		cfg.ArtistDelimiters = d.ArtistDelimiters
	}
	if !k.Exists("database_artist_delimiter") {
		cfg.DatabaseArtistDelimiter = d.DatabaseArtistDelimiter
	}
	if !k.Exists("record_threshold") {
		cfg.RecordThreshold = d.RecordThreshold
	}
	if !k.Exists("retry_interval") {
		cfg.RetryInterval = d.RetryInterval
	}
	if !k.Exists("max_tolerant_delay") {
		cfg.MaxTolerantDelay = d.MaxTolerantDelay
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = d.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = d.Log.MaxAgeDays
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = d.Redis.Channel
	}

	cfg.APIRoot = strings.TrimSuffix(cfg.APIRoot, "/")
	cfg.LockFile = expandPath(cfg.LockFile)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// applyEnv lets secrets and endpoints come from the environment.
func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"FB2KSTAT_API_ROOT":     &cfg.APIRoot,
		"FB2KSTAT_USERNAME":     &cfg.Username,
		"FB2KSTAT_PASSWORD":     &cfg.Password,
		"FB2KSTAT_DATABASE_URL": &cfg.DatabaseURL,
		"FB2KSTAT_REDIS_URL":    &cfg.Redis.URL,
		"LASTFM_API_KEY":        &cfg.Lastfm.APIKey,
		"LASTFM_API_SECRET":     &cfg.Lastfm.APISecret,
		"LASTFM_SESSION_KEY":    &cfg.Lastfm.SessionKey,
	}
	for key, target := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*target = v
		}
	}
}

// Validate checks the numeric ranges and required lists.
func (c *Config) Validate() error {
	var errs []error
	if c.RecordThreshold < 0 || c.RecordThreshold > 1 {
		errs = append(errs, fmt.Errorf("record_threshold must be within [0, 1], got %v", c.RecordThreshold))
	}
	if c.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("retry_interval must be >= 0, got %v", c.RetryInterval))
	}
	if c.MaxTolerantDelay < 0 {
		errs = append(errs, fmt.Errorf("max_tolerant_delay must be >= 0, got %v", c.MaxTolerantDelay))
	}
	if len(c.ColumnsAsID) == 0 {
		errs = append(errs, errors.New("columns_as_id must not be empty"))
	}
	for i, col := range c.ColumnsAsID {
		if strings.TrimSpace(col) == "" {
			errs = append(errs, fmt.Errorf("columns_as_id[%d] is blank", i))
		}
	}
	if c.APIRoot == "" {
		errs = append(errs, errors.New("api_root must not be empty"))
	}
	return errors.Join(errs...)
}

// RetryDelay returns RetryInterval as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryInterval * float64(time.Second))
}

// ToleranceDelay returns MaxTolerantDelay as a duration.
func (c *Config) ToleranceDelay() time.Duration {
	return time.Duration(c.MaxTolerantDelay * float64(time.Second))
}

// HasRedisConfig returns true if event publishing is configured.
func (c *Config) HasRedisConfig() bool {
	return c.Redis.URL != ""
}

// HasLastfmConfig returns true if Last.fm scrobbling is configured.
func (c *Config) HasLastfmConfig() bool {
	return c.Lastfm.APIKey != "" && c.Lastfm.APISecret != "" && c.Lastfm.SessionKey != ""
}

// HasStatusConfig returns true if the HTTP status API should listen.
func (c *Config) HasStatusConfig() bool {
	return c.Status.Listen != ""
}

// DefaultPath is where init-config writes a fresh file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, fileName)
}

// DefaultTOML renders the defaults as a config file.
func DefaultTOML() ([]byte, error) {
	d := Defaults()
	return toml.Parser().Marshal(map[string]interface{}{
		"api_root":                  d.APIRoot,
		"username":                  "",
		"password":                  "",
		"database_url":              d.DatabaseURL,
		"columns_as_id":             d.ColumnsAsID,
		"preserved_artists":         d.PreservedArtists,
		"artist_delimiters":         d.ArtistDelimiters,
		"database_artist_delimiter": d.DatabaseArtistDelimiter,
		"record_threshold":          d.RecordThreshold,
		"retry_interval":            d.RetryInterval,
		"max_tolerant_delay":        d.MaxTolerantDelay,
		"log": map[string]interface{}{
			"level":        d.Log.Level,
			"file":         "",
			"max_size_mb":  d.Log.MaxSizeMB,
			"max_backups":  d.Log.MaxBackups,
			"max_age_days": d.Log.MaxAgeDays,
		},
		"redis": map[string]interface{}{
			"url":     "",
			"channel": d.Redis.Channel,
		},
		"lastfm": map[string]interface{}{
			"api_key":     "",
			"api_secret":  "",
			"session_key": "",
		},
		"status": map[string]interface{}{
			"listen": "",
		},
	})
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
