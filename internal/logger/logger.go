// Package logger builds the application's zerolog logger with file rotation
// and optional streaming of recent entries to admin clients.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog for application logging.
type Logger struct {
	zerolog.Logger
	rotator *lumberjack.Logger
	stream  *Stream
}

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string // "console" or "json"
	Path       string // directory for log files
	MaxSizeMB  int    // max size in MB before rotation (default: 10)
	MaxBackups int    // max number of old log files to keep (default: 5)
	MaxAgeDays int    // max age in days to keep old files (default: 30)
	Compress   bool   // compress rotated files
	BufferSize int    // ring buffer capacity for log streaming (default: 1000)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the root logger. Output always goes to stdout and the stream
// ring buffer; a rotating file is added when Path is set.
func New(cfg Config) *Logger {
	var console io.Writer = os.Stdout
	if cfg.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	stream := NewStream(cfg.BufferSize)
	writers := []io.Writer{console, stream}

	var rotator *lumberjack.Logger
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err == nil {
			rotator = &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Path, "harborr.log"),
				MaxSize:    orDefault(cfg.MaxSizeMB, 10),
				MaxBackups: orDefault(cfg.MaxBackups, 5),
				MaxAge:     orDefault(cfg.MaxAgeDays, 30),
				Compress:   cfg.Compress,
				LocalTime:  true,
			}
			writers = append(writers, rotator)
		}
	}

	root := zerolog.New(io.MultiWriter(writers...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()

	return &Logger{Logger: root, rotator: rotator, stream: stream}
}

// Stream returns the log stream used for recent-log retrieval and broadcasting.
func (l *Logger) Stream() *Stream {
	return l.stream
}

// SetBroadcastHub attaches a hub so new entries are pushed to connected clients.
func (l *Logger) SetBroadcastHub(hub Broadcaster) {
	l.stream.SetHub(hub)
}

// RecentLogs returns the buffered log entries, oldest first.
func (l *Logger) RecentLogs() []Entry {
	return l.stream.Recent()
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// WithComponent returns a sub-logger tagged with a component field.
func (l *Logger) WithComponent(component string) zerolog.Logger {
	return l.Logger.With().Str("component", component).Logger()
}

func parseLevel(level string) zerolog.Level {
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		return lvl
	}
	return zerolog.InfoLevel
}
