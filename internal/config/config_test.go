package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8585 {
		t.Errorf("server port = %d, want 8585", cfg.Server.Port)
	}
	if cfg.Cache.Eviction != "lru" {
		t.Errorf("cache eviction = %q, want lru", cfg.Cache.Eviction)
	}
	if cfg.Cache.ChunkSize != int64(8)<<20 {
		t.Errorf("chunk size = %d, want 8MiB", cfg.Cache.ChunkSize)
	}
	if cfg.Scraper.TorrentioURL == "" {
		t.Error("torrentio url default missing")
	}
	if cfg.Scheduler.RetryIntervalMinutes != 60 {
		t.Errorf("retry interval = %d, want 60", cfg.Scheduler.RetryIntervalMinutes)
	}
	// Every service runs single-worker unless raised.
	workers := []int{
		cfg.Workers.Indexer, cfg.Workers.Scraper, cfg.Workers.Downloader,
		cfg.Workers.Symlinker, cfg.Workers.Updater, cfg.Workers.PostProcessor,
	}
	for i, n := range workers {
		if n != 1 {
			t.Errorf("workers[%d] = %d, want 1", i, n)
		}
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"server:",
		"  port: 9090",
		"downloader:",
		"  realdebrid:",
		"    enabled: true",
		"    api_key: rd-key",
		"workers:",
		"  scraper: 4",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want the file's 9090", cfg.Server.Port)
	}
	if !cfg.Downloader.RealDebrid.Enabled || cfg.Downloader.RealDebrid.APIKey != "rd-key" {
		t.Errorf("realdebrid = %+v, want enabled with rd-key", cfg.Downloader.RealDebrid)
	}
	if cfg.Workers.Scraper != 4 {
		t.Errorf("scraper workers = %d, want the file's 4", cfg.Workers.Scraper)
	}
	if cfg.Workers.Indexer != 1 {
		t.Errorf("indexer workers = %d, want the default 1", cfg.Workers.Indexer)
	}
	// Untouched keys keep their defaults.
	if cfg.Database.Path == "" {
		t.Error("database path default lost when a config file is present")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HARBORR_SERVER_PORT", "7070")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server port = %d, want the env override 7070", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8585},
			Database: DatabaseConfig{Path: "./data/harborr.db"},
			Cache:    CacheConfig{Eviction: "lru", ChunkSize: 8 << 20},
			Workers: WorkersConfig{
				Indexer: 1, Scraper: 1, Downloader: 1,
				Symlinker: 1, Updater: 1, PostProcessor: 1,
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"unknown eviction policy", func(c *Config) { c.Cache.Eviction = "fifo" }},
		{"zero chunk size", func(c *Config) { c.Cache.ChunkSize = 0 }},
		{"negative size threshold", func(c *Config) { c.Downloader.MovieMinBytes = -1 }},
		{"zero worker count", func(c *Config) { c.Workers.Downloader = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
