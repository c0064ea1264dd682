// Package config loads runtime settings from defaults, an optional YAML
// config file, a .env file and the environment, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pevans/newsagg/discovery"
	"github.com/pevans/newsagg/ratelimit"
)

// AppName names the XDG config directory.
const AppName = "newsagg"

// ErrInvalidConfig is returned when a setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Setting keys. Each is read from the environment variable of the same name
// in upper case, and from the config file under the key itself.
const (
	KeyStoragePath          = "storage_path"
	KeyCachePath            = "cache_path"
	KeySourcesFile          = "sources_file"
	KeyHistoryDSN           = "history_dsn"
	KeyMaxRequestsPerMinute = "max_requests_per_minute"
	KeyMaxArticlesPerSource = "max_articles_per_source"
	KeyDelayBetweenSources  = "crawl_delay_between_sources"
	KeyDelayBetweenArticles = "crawl_delay_between_articles"
	KeyJitter               = "crawl_jitter"
	KeyAggressive           = "crawl_aggressive"
	KeyRetentionDays        = "delete_older_than_days"
	KeyPruneAtCutoff        = "prune_at_cutoff"
	KeyUserAgent            = "http_user_agent"
	KeyHTTPTimeout          = "http_timeout"
	KeyConnectTimeout       = "http_connect_timeout"
	KeyContentTimeout       = "content_timeout"
	KeySSLVerify            = "ssl_verify"
	KeyLogLevel             = "log_level"
	KeyPerPage              = "pages_per_page"
	KeyAPIAddr              = "api_addr"
	KeyCrawlSchedule        = "crawl_schedule"
	KeyCrawlTrigger         = "crawl_trigger_interval"
)

// Config holds every runtime setting.
type Config struct {
	StoragePath string `json:"storage_path"`
	CachePath   string `json:"cache_path"`
	SourcesFile string `json:"sources_file"`
	HistoryDSN  string `json:"history_dsn"`

	MaxRequestsPerMinute int           `json:"max_requests_per_minute"`
	MaxArticlesPerSource int           `json:"max_articles_per_source"`
	DelayBetweenSources  time.Duration `json:"crawl_delay_between_sources"`
	DelayBetweenArticles time.Duration `json:"crawl_delay_between_articles"`
	Jitter               float64       `json:"crawl_jitter"`
	Aggressive           bool          `json:"crawl_aggressive"`

	RetentionDays int  `json:"delete_older_than_days"`
	PruneAtCutoff bool `json:"prune_at_cutoff"`

	UserAgent      string        `json:"http_user_agent"`
	HTTPTimeout    time.Duration `json:"http_timeout"`
	ConnectTimeout time.Duration `json:"http_connect_timeout"`
	ContentTimeout time.Duration `json:"content_timeout"`
	SSLVerify      string        `json:"ssl_verify"`

	LogLevel      string        `json:"log_level"`
	PerPage       int           `json:"pages_per_page"`
	APIAddr       string        `json:"api_addr"`
	CrawlSchedule string        `json:"crawl_schedule"`
	CrawlTrigger  time.Duration `json:"crawl_trigger_interval"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `json:"config_file,omitempty"`
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile is an explicit YAML config file. When empty the XDG
	// location is used if it exists.
	ConfigFile string
	// EnvFile is the dotenv file to load. Defaults to ".env"; a missing
	// default file is ignored.
	EnvFile string
}

// DefaultConfigPath returns the XDG config file location.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyStoragePath, "./storage/articles")
	v.SetDefault(KeyCachePath, "")
	v.SetDefault(KeySourcesFile, "./sources.yaml")
	v.SetDefault(KeyHistoryDSN, "./storage/history.db")
	v.SetDefault(KeyMaxRequestsPerMinute, 30)
	v.SetDefault(KeyMaxArticlesPerSource, 10)
	v.SetDefault(KeyDelayBetweenSources, "3s")
	v.SetDefault(KeyDelayBetweenArticles, "500ms")
	v.SetDefault(KeyJitter, 0.3)
	v.SetDefault(KeyAggressive, false)
	v.SetDefault(KeyRetentionDays, 30)
	v.SetDefault(KeyPruneAtCutoff, false)
	v.SetDefault(KeyUserAgent, discovery.DefaultUserAgent)
	v.SetDefault(KeyHTTPTimeout, "15s")
	v.SetDefault(KeyConnectTimeout, "10s")
	v.SetDefault(KeyContentTimeout, "8s")
	v.SetDefault(KeySSLVerify, "true")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyPerPage, 50)
	v.SetDefault(KeyAPIAddr, ":8080")
	v.SetDefault(KeyCrawlSchedule, "")
	v.SetDefault(KeyCrawlTrigger, "1m")
}

// Load reads the configuration.
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	configFile := opts.ConfigFile
	if configFile == "" {
		if _, err := os.Stat(DefaultConfigPath()); err == nil {
			configFile = DefaultConfigPath()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = configFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// Only an explicitly named file must exist.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		StoragePath:          v.GetString(KeyStoragePath),
		CachePath:            v.GetString(KeyCachePath),
		SourcesFile:          v.GetString(KeySourcesFile),
		HistoryDSN:           v.GetString(KeyHistoryDSN),
		MaxRequestsPerMinute: v.GetInt(KeyMaxRequestsPerMinute),
		MaxArticlesPerSource: v.GetInt(KeyMaxArticlesPerSource),
		Jitter:               v.GetFloat64(KeyJitter),
		Aggressive:           v.GetBool(KeyAggressive),
		RetentionDays:        v.GetInt(KeyRetentionDays),
		PruneAtCutoff:        v.GetBool(KeyPruneAtCutoff),
		UserAgent:            v.GetString(KeyUserAgent),
		SSLVerify:            v.GetString(KeySSLVerify),
		LogLevel:             v.GetString(KeyLogLevel),
		PerPage:              v.GetInt(KeyPerPage),
		APIAddr:              v.GetString(KeyAPIAddr),
		CrawlSchedule:        strings.TrimSpace(v.GetString(KeyCrawlSchedule)),
	}

	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(filepath.Dir(filepath.Clean(cfg.StoragePath)), "cache")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyDelayBetweenSources, &cfg.DelayBetweenSources},
		{KeyDelayBetweenArticles, &cfg.DelayBetweenArticles},
		{KeyHTTPTimeout, &cfg.HTTPTimeout},
		{KeyConnectTimeout, &cfg.ConnectTimeout},
		{KeyContentTimeout, &cfg.ContentTimeout},
		{KeyCrawlTrigger, &cfg.CrawlTrigger},
	}
	for _, d := range durations {
		parsed, err := ParseDelay(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// ParseDelay parses a Go duration ("3s", "500ms") or a bare integer, which is
// taken as microseconds.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative delay %q", s)
		}
		return time.Duration(n) * time.Microsecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %q", s)
	}
	return d, nil
}

// Validate checks that settings are in range.
func (c *Config) Validate() error {
	switch {
	case c.StoragePath == "":
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, KeyStoragePath)
	case c.SourcesFile == "":
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, KeySourcesFile)
	case c.MaxRequestsPerMinute < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyMaxRequestsPerMinute)
	case c.MaxArticlesPerSource < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyMaxArticlesPerSource)
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("%w: %s must be between 0 and 1", ErrInvalidConfig, KeyJitter)
	case c.RetentionDays < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyRetentionDays)
	case c.PerPage < 1:
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, KeyPerPage)
	}
	return nil
}

// ClientConfig returns the HTTP client settings.
func (c *Config) ClientConfig() discovery.ClientConfig {
	cfg := discovery.DefaultClientConfig()
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.HTTPTimeout
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.SSLVerify = c.SSLVerify
	return cfg
}

// CrawlConfig returns the crawl tunables.
func (c *Config) CrawlConfig() discovery.CrawlConfig {
	return discovery.CrawlConfig{
		MaxArticlesPerSource: c.MaxArticlesPerSource,
		DelayBetweenSources:  c.DelayBetweenSources,
		DelayBetweenArticles: c.DelayBetweenArticles,
		Aggressive:           c.Aggressive,
	}
}

// LimiterConfig returns the rate limiter settings.
func (c *Config) LimiterConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.MaxPerWindow = c.MaxRequestsPerMinute
	cfg.Jitter = c.Jitter
	return cfg
}
