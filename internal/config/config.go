// Package config loads application configuration and exposes the runtime
// settings tree used by the admin surface.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Library        LibraryConfig        `mapstructure:"library"`
	Downloader     DownloaderConfig     `mapstructure:"downloader"`
	Scraper        ScraperConfig        `mapstructure:"scraper"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Indexer        IndexerConfig        `mapstructure:"indexer"`
	Content        ContentConfig        `mapstructure:"content"`
	MediaServer    MediaServerConfig    `mapstructure:"media_server"`
	PostProcessing PostProcessingConfig `mapstructure:"post_processing"`
	Workers        WorkersConfig        `mapstructure:"workers"`
}

// WorkersConfig sets the executor concurrency per service. Every service
// runs a single worker unless raised here.
type WorkersConfig struct {
	Indexer       int `mapstructure:"indexer"`
	Scraper       int `mapstructure:"scraper"`
	Downloader    int `mapstructure:"downloader"`
	Symlinker     int `mapstructure:"symlinker"`
	Updater       int `mapstructure:"updater"`
	PostProcessor int `mapstructure:"postprocessor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AuthConfig holds admin API authentication configuration.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// CacheConfig holds chunk cache configuration.
type CacheConfig struct {
	Dir          string `mapstructure:"dir"`
	MaxSizeBytes int64  `mapstructure:"max_size_bytes"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	Eviction     string `mapstructure:"eviction"` // "lru" or "ttl"
	ChunkSize    int64  `mapstructure:"chunk_size"`
}

// LibraryConfig holds the symlink library layout.
type LibraryConfig struct {
	Root       string `mapstructure:"root"`
	MountDir   string `mapstructure:"mount_dir"` // debrid provider mount
	BatchSize  int    `mapstructure:"batch_size"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// ProviderConfig holds credentials for one debrid provider.
type ProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DownloaderConfig holds downloader selection configuration.
type DownloaderConfig struct {
	RealDebrid      ProviderConfig `mapstructure:"realdebrid"`
	TorBox          ProviderConfig `mapstructure:"torbox"`
	AllDebrid       ProviderConfig `mapstructure:"alldebrid"`
	MovieMinBytes   int64          `mapstructure:"movie_min_bytes"`
	MovieMaxBytes   int64          `mapstructure:"movie_max_bytes"`
	EpisodeMinBytes int64          `mapstructure:"episode_min_bytes"`
	EpisodeMaxBytes int64          `mapstructure:"episode_max_bytes"`
}

// ScraperConfig holds scraper aggregator configuration.
type ScraperConfig struct {
	TorrentioURL     string  `mapstructure:"torrentio_url"`
	ZileanURL        string  `mapstructure:"zilean_url"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	BudgetSeconds    int     `mapstructure:"budget_seconds"`
	MaxScrapeTimes   int     `mapstructure:"max_scrape_times"`
	BackoffBaseHours float64 `mapstructure:"backoff_base_hours"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
}

// SchedulerConfig holds periodic job configuration.
type SchedulerConfig struct {
	RetryIntervalMinutes int `mapstructure:"retry_interval_minutes"`
	ReleaseOffsetSeconds int `mapstructure:"release_offset_seconds"`
}

// IndexerConfig holds metadata indexer configuration.
type IndexerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ContentSourceConfig holds one content provider entry.
type ContentSourceConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	URL                   string `mapstructure:"url"`
	APIKey                string `mapstructure:"api_key"`
	UpdateIntervalSeconds int    `mapstructure:"update_interval_seconds"`
	Webhook               bool   `mapstructure:"webhook"`
}

// ContentConfig holds all content provider entries.
type ContentConfig struct {
	Requests  ContentSourceConfig `mapstructure:"requests"`
	Watchlist ContentSourceConfig `mapstructure:"watchlist"`
	Lists     ContentSourceConfig `mapstructure:"lists"`
}

// MediaServerConfig holds the media library server connection.
type MediaServerConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// PostProcessingConfig holds post-processing configuration.
type PostProcessingConfig struct {
	SubtitlesEnabled bool     `mapstructure:"subtitles_enabled"`
	Languages        []string `mapstructure:"languages"`
}

// Load reads configuration from .env, file and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configPath string) (*Config, *viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.harborr")
	}

	v.SetEnvPrefix("HARBORR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, v, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	switch c.Cache.Eviction {
	case "lru", "ttl":
	default:
		return fmt.Errorf("invalid cache eviction policy %q (want lru or ttl)", c.Cache.Eviction)
	}
	if c.Cache.ChunkSize <= 0 {
		return fmt.Errorf("cache chunk size must be positive")
	}
	if c.Downloader.MovieMinBytes < 0 || c.Downloader.EpisodeMinBytes < 0 {
		return fmt.Errorf("downloader size thresholds must not be negative")
	}
	for name, n := range map[string]int{
		"indexer":       c.Workers.Indexer,
		"scraper":       c.Workers.Scraper,
		"downloader":    c.Workers.Downloader,
		"symlinker":     c.Workers.Symlinker,
		"updater":       c.Workers.Updater,
		"postprocessor": c.Workers.PostProcessor,
	} {
		if n < 1 {
			return fmt.Errorf("workers.%s must be at least 1", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8585)

	v.SetDefault("database.path", "./data/harborr.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "./data/logs")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("auth.api_key", "")

	v.SetDefault("cache.dir", "./data/cache")
	v.SetDefault("cache.max_size_bytes", int64(20)<<30)
	v.SetDefault("cache.ttl_seconds", 6*3600)
	v.SetDefault("cache.eviction", "lru")
	v.SetDefault("cache.chunk_size", int64(8)<<20)

	v.SetDefault("library.root", "./data/library")
	v.SetDefault("library.mount_dir", "/mnt/debrid/__all__")
	v.SetDefault("library.batch_size", 100)
	v.SetDefault("library.max_workers", 4)

	// Empirical thresholds; configurable rather than hard-coded.
	v.SetDefault("downloader.movie_min_bytes", int64(200)<<20)
	v.SetDefault("downloader.movie_max_bytes", int64(0))
	v.SetDefault("downloader.episode_min_bytes", int64(40)<<20)
	v.SetDefault("downloader.episode_max_bytes", int64(0))
	v.SetDefault("downloader.realdebrid.enabled", false)
	v.SetDefault("downloader.torbox.enabled", false)
	v.SetDefault("downloader.alldebrid.enabled", false)

	v.SetDefault("scraper.torrentio_url", "https://torrentio.strem.fun")
	v.SetDefault("scraper.zilean_url", "")
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("scraper.budget_seconds", 30)
	v.SetDefault("scraper.max_scrape_times", 10)
	v.SetDefault("scraper.backoff_base_hours", 0.5)
	v.SetDefault("scraper.rate_per_second", 2.0)

	v.SetDefault("scheduler.retry_interval_minutes", 60)
	v.SetDefault("scheduler.release_offset_seconds", 600)

	v.SetDefault("indexer.base_url", "https://api.trakt.tv")
	v.SetDefault("indexer.api_key", "")

	v.SetDefault("content.requests.enabled", false)
	v.SetDefault("content.requests.update_interval_seconds", 300)
	v.SetDefault("content.watchlist.enabled", false)
	v.SetDefault("content.watchlist.update_interval_seconds", 600)
	v.SetDefault("content.lists.enabled", false)
	v.SetDefault("content.lists.update_interval_seconds", 3600)

	v.SetDefault("media_server.url", "")
	v.SetDefault("media_server.token", "")

	v.SetDefault("post_processing.subtitles_enabled", false)
	v.SetDefault("post_processing.languages", []string{"en"})

	v.SetDefault("workers.indexer", 1)
	v.SetDefault("workers.scraper", 1)
	v.SetDefault("workers.downloader", 1)
	v.SetDefault("workers.symlinker", 1)
	v.SetDefault("workers.updater", 1)
	v.SetDefault("workers.postprocessor", 1)
}
