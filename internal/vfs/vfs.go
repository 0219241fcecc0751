// Package vfs exposes the library's filesystem entries and serves reads
// through the chunk cache. The mount surface itself lives outside this
// process; this is the entry listing and the read-through data path.
package vfs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/chunkcache"
	"github.com/harborr/harborr/internal/media"
)

// Service serves the VFS view.
type Service struct {
	store     *media.Store
	cache     *chunkcache.Cache
	chunkSize int64
	logger    zerolog.Logger
}

// NewService creates the VFS service.
func NewService(store *media.Store, cache *chunkcache.Cache, chunkSize int64, logger zerolog.Logger) *Service {
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}
	return &Service{
		store:     store,
		cache:     cache,
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "vfs").Logger(),
	}
}

// List returns every filesystem entry.
func (s *Service) List(ctx context.Context) ([]media.FilesystemEntry, error) {
	return s.store.AllEntries(ctx)
}

// ReadAt serves length bytes at offset from the entry, through the chunk
// cache. Reads past end of file are truncated; a read entirely past the
// end returns empty.
func (s *Service) ReadAt(ctx context.Context, entryID, offset int64, length int) ([]byte, error) {
	entry, err := s.store.EntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if length <= 0 || offset >= entry.FileSize {
		return nil, nil
	}

	end := offset + int64(length) - 1
	if end >= entry.FileSize {
		end = entry.FileSize - 1
	}

	if data := s.cache.Get(entry.Path, offset, end); data != nil {
		return data, nil
	}

	return s.readThrough(entry, offset, end)
}

// readThrough fills the cache chunk-aligned from the source file and
// returns the requested slice.
func (s *Service) readThrough(entry *media.FilesystemEntry, offset, end int64) ([]byte, error) {
	firstChunk := (offset / s.chunkSize) * s.chunkSize
	lastChunk := (end / s.chunkSize) * s.chunkSize

	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	var out []byte
	for chunkStart := firstChunk; chunkStart <= lastChunk; chunkStart += s.chunkSize {
		chunk := make([]byte, s.chunkSize)
		n, err := f.ReadAt(chunk, chunkStart)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("source read failed: %w", err)
		}
		if n == 0 {
			break
		}
		chunk = chunk[:n]
		s.cache.Put(entry.Path, chunkStart, chunk)

		// Slice the requested window out of this chunk.
		sliceStart := int64(0)
		if offset > chunkStart {
			sliceStart = offset - chunkStart
		}
		sliceEnd := int64(n) - 1
		if end < chunkStart+int64(n)-1 {
			sliceEnd = end - chunkStart
		}
		if sliceStart > sliceEnd {
			continue
		}
		out = append(out, chunk[sliceStart:sliceEnd+1]...)
	}

	s.logger.Debug().
		Str("path", entry.Path).
		Int64("offset", offset).
		Int("bytes", len(out)).
		Msg("read-through served")
	return out, nil
}
