// Package types defines the shared surface for debrid providers.
package types

import (
	"context"
	"errors"
)

// Common errors for debrid providers.
var (
	ErrNotConfigured   = errors.New("provider not configured")
	ErrNotCached       = errors.New("torrent not cached at provider")
	ErrSelectionFailed = errors.New("file selection failed")
	ErrNotFound        = errors.New("torrent not found")
	ErrAPIError        = errors.New("provider API error")
	ErrRateLimited     = errors.New("provider rate limited")
)

// TorrentFile is one file inside a provider-side torrent container.
type TorrentFile struct {
	ID   int
	Path string
	Size int64
}

// TorrentInfo describes a torrent registered at the provider.
type TorrentInfo struct {
	ID     string
	Hash   string
	Name   string
	Status string
	Files  []TorrentFile
}

// Provider is the common interface over the debrid services. All hashes are
// 40-character lowercase hex.
type Provider interface {
	Name() string
	IsConfigured() bool

	// InstantAvailability reports which of the hashes are cached.
	InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error)

	// AddMagnet registers a magnet and returns the provider torrent id.
	AddMagnet(ctx context.Context, infohash string) (string, error)

	// GetTorrentInfo fetches the container's file listing.
	GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error)

	// SelectFiles picks the files to materialize in the provider mount.
	SelectFiles(ctx context.Context, id string, fileIDs []int) error

	// GetTorrents lists the account's torrents.
	GetTorrents(ctx context.Context) ([]TorrentInfo, error)
}
