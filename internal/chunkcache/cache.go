// Package chunkcache is the on-disk chunked block cache behind the VFS read
// path. Chunks are addressed by (cacheKey, chunkStart) and stored under a
// two-level hex fan-out keyed by sha1(cacheKey|chunkStart). An in-memory
// index drives LRU or TTL eviction; disk I/O never happens under the lock.
package chunkcache

import (
	"container/list"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/metrics"
)

// Policy selects the eviction strategy.
type Policy string

const (
	EvictLRU Policy = "lru"
	EvictTTL Policy = "ttl"
)

// Config holds chunk cache configuration.
type Config struct {
	Dir          string
	MaxSizeBytes int64
	TTL          time.Duration
	Eviction     Policy
}

// touchInterval bounds index churn: a chunk's last-access timestamp is only
// rewritten when at least this much time has passed.
const touchInterval = 10 * time.Second

type entry struct {
	key        string // sha1 hex
	cacheKey   string // empty until known (cold-start rebuild)
	start      int64
	size       int64
	lastAccess time.Time
	elem       *list.Element
}

// Cache is the chunk cache. All exported methods are safe for concurrent use.
type Cache struct {
	cfg    Config
	logger zerolog.Logger
	m      *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List         // front = least recently used
	starts  map[string][]int64 // cacheKey → sorted chunk starts
	total   int64
}

// New creates the cache and, in LRU mode, rebuilds the index from disk.
// mtr may be nil.
func New(cfg Config, logger zerolog.Logger, mtr *metrics.Metrics) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("chunk cache directory must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		cfg:     cfg,
		logger:  logger.With().Str("component", "chunk-cache").Logger(),
		m:       mtr,
		entries: make(map[string]*entry),
		lru:     list.New(),
		starts:  make(map[string][]int64),
	}

	if cfg.Eviction == EvictLRU {
		if err := c.rebuild(); err != nil {
			c.logger.Warn().Err(err).Msg("cache index rebuild failed, starting empty")
		}
	}
	return c, nil
}

// chunkKey is sha1 over "cacheKey|chunkStart".
func chunkKey(cacheKey string, start int64) string {
	sum := sha1.Sum([]byte(cacheKey + "|" + strconv.FormatInt(start, 10)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.cfg.Dir, key[:2], key)
}

// readPlan is one contiguous slice of a chunk file, computed under the lock
// and executed outside it.
type readPlan struct {
	key    string
	path   string
	offset int64
	length int64
}

// Get returns exactly end-start+1 bytes when the whole range is cached, or
// nil on a miss. A request of size zero returns empty without touching disk.
func (c *Cache) Get(cacheKey string, start, end int64) []byte {
	if end < start {
		return nil
	}
	want := end - start + 1
	if want == 0 {
		return nil
	}

	c.mu.Lock()
	plans, ok := c.plan(cacheKey, start, end)
	c.mu.Unlock()

	if !ok {
		// The index may be cold for this chunk; probe the disk directly.
		if data := c.probe(cacheKey, start, end); data != nil {
			c.recordHit()
			return data
		}
		c.recordMiss()
		return nil
	}

	buf := make([]byte, 0, want)
	for _, p := range plans {
		data, err := readSlice(p.path, p.offset, p.length)
		if err != nil {
			c.logger.Debug().Err(err).Str("path", p.path).Msg("chunk read failed, dropping index entry")
			c.dropKey(p.key)
			c.recordMiss()
			return nil
		}
		buf = append(buf, data...)
	}

	// Single bookkeeping pass for all chunks the read used.
	now := time.Now()
	c.mu.Lock()
	for _, p := range plans {
		if e, ok := c.entries[p.key]; ok {
			c.lru.MoveToBack(e.elem)
			if now.Sub(e.lastAccess) >= touchInterval {
				e.lastAccess = now
			}
		}
	}
	c.mu.Unlock()

	c.recordHit()
	return buf
}

// Has reports whether the full range is present, without reading data.
func (c *Cache) Has(cacheKey string, start, end int64) bool {
	if end < start {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.plan(cacheKey, start, end)
	return ok
}

// plan walks contiguous covering chunks from start to end. Caller holds the
// lock. Returns false on the first gap.
func (c *Cache) plan(cacheKey string, start, end int64) ([]readPlan, bool) {
	startsList := c.starts[cacheKey]
	if len(startsList) == 0 {
		return nil, false
	}

	var plans []readPlan
	pos := start
	for pos <= end {
		// Greatest chunk start ≤ pos.
		idx := sort.Search(len(startsList), func(i int) bool { return startsList[i] > pos })
		if idx == 0 {
			return nil, false
		}
		cs := startsList[idx-1]
		e, ok := c.entries[chunkKey(cacheKey, cs)]
		if !ok {
			return nil, false
		}
		chunkEnd := cs + e.size - 1
		if chunkEnd < pos {
			return nil, false // gap
		}
		sliceEnd := chunkEnd
		if sliceEnd > end {
			sliceEnd = end
		}
		plans = append(plans, readPlan{
			key:    e.key,
			path:   c.pathFor(e.key),
			offset: pos - cs,
			length: sliceEnd - pos + 1,
		})
		pos = sliceEnd + 1
	}
	return plans, true
}

// probe checks the disk for the exact chunk at the requested start when the
// index has no entry, rebuilding the index entry on success.
func (c *Cache) probe(cacheKey string, start, end int64) []byte {
	key := chunkKey(cacheKey, start)
	path := c.pathFor(key)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}

	size := info.Size()
	if start+size-1 < end {
		return nil
	}

	data, err := readSlice(path, 0, end-start+1)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		// Rebuild found it first; refresh identity fields only.
		old.cacheKey = cacheKey
		old.start = start
		old.size = size
		c.insertStart(cacheKey, start)
	} else {
		e := &entry{key: key, cacheKey: cacheKey, start: start, size: size, lastAccess: time.Now()}
		e.elem = c.lru.PushBack(e)
		c.entries[key] = e
		c.insertStart(cacheKey, start)
		c.total += size
		c.setBytesGauge()
	}
	c.mu.Unlock()

	return data
}

// Put stores one chunk, evicting per policy first. Write errors are logged
// and leave the index untouched.
func (c *Cache) Put(cacheKey string, start int64, data []byte) {
	if len(data) == 0 {
		return
	}
	need := int64(len(data))

	c.mu.Lock()
	c.evictFor(need)
	c.mu.Unlock()

	key := chunkKey(cacheKey, start)
	path := c.pathFor(key)
	if err := writeAtomic(path, data); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("chunk write failed")
		return
	}

	now := time.Now()
	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.total -= old.size
		c.lru.Remove(old.elem)
		delete(c.entries, key)
		c.removeStart(old.cacheKey, old.start)
	}
	e := &entry{key: key, cacheKey: cacheKey, start: start, size: need, lastAccess: now}
	e.elem = c.lru.PushBack(e)
	c.entries[key] = e
	c.insertStart(cacheKey, start)
	c.total += need
	c.setBytesGauge()
	c.mu.Unlock()
}

// evictFor makes room for need bytes. Caller holds the lock.
func (c *Cache) evictFor(need int64) {
	switch c.cfg.Eviction {
	case EvictTTL:
		cutoff := time.Now().Add(-c.cfg.TTL)
		for el := c.lru.Front(); el != nil; {
			next := el.Next()
			e := el.Value.(*entry)
			if e.lastAccess.Before(cutoff) {
				c.evict(e)
			}
			el = next
		}
	default: // LRU
		for c.cfg.MaxSizeBytes > 0 && c.total+need > c.cfg.MaxSizeBytes {
			front := c.lru.Front()
			if front == nil {
				break
			}
			c.evict(front.Value.(*entry))
		}
	}
}

// evict removes one entry and its file. Caller holds the lock.
func (c *Cache) evict(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.removeStart(e.cacheKey, e.start)
	c.total -= e.size
	c.setBytesGauge()
	if err := os.Remove(c.pathFor(e.key)); err != nil && !os.IsNotExist(err) {
		c.logger.Debug().Err(err).Str("key", e.key).Msg("failed to remove evicted chunk")
	}
	if c.m != nil {
		c.m.CacheEvictions.Inc()
	}
}

// dropKey removes a stale index entry after a failed read.
func (c *Cache) dropKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, key)
		c.removeStart(e.cacheKey, e.start)
		c.total -= e.size
		c.setBytesGauge()
	}
}

// Trim runs the policy eviction, then falls back to a full rescan when the
// running total still exceeds the budget (accounting drift).
func (c *Cache) Trim() {
	c.mu.Lock()
	c.evictFor(0)
	drifted := c.cfg.MaxSizeBytes > 0 && c.total > c.cfg.MaxSizeBytes
	c.mu.Unlock()

	if !drifted {
		return
	}
	c.logger.Info().Msg("cache accounting drift detected, rebuilding index")
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.lru = list.New()
	c.starts = make(map[string][]int64)
	c.total = 0
	c.mu.Unlock()
	if err := c.rebuild(); err != nil {
		c.logger.Warn().Err(err).Msg("cache rebuild during trim failed")
	}
}

// TotalBytes returns the running byte total.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// rebuild scans the cache directory, populates the index sorted by mtime
// ascending (oldest become eviction candidates first), then evicts to
// budget. File names are digests, so chunk identity stays unknown until a
// probe touches the file; such entries still count toward the budget.
func (c *Cache) rebuild() error {
	type fileInfo struct {
		key   string
		size  int64
		mtime time.Time
	}
	var files []fileInfo

	err := filepath.WalkDir(c.cfg.Dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo{key: d.Name(), size: info.Size(), mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	c.mu.Lock()
	for _, f := range files {
		if _, ok := c.entries[f.key]; ok {
			continue
		}
		e := &entry{key: f.key, size: f.size, lastAccess: f.mtime}
		e.elem = c.lru.PushBack(e)
		c.entries[f.key] = e
		c.total += f.size
	}
	c.evictFor(0)
	c.setBytesGauge()
	count := len(c.entries)
	total := c.total
	c.mu.Unlock()

	c.logger.Info().Int("chunks", count).Int64("bytes", total).Msg("chunk cache index rebuilt")
	return nil
}

// sorted-starts maintenance; caller holds the lock.

func (c *Cache) insertStart(cacheKey string, start int64) {
	s := c.starts[cacheKey]
	idx := sort.Search(len(s), func(i int) bool { return s[i] >= start })
	if idx < len(s) && s[idx] == start {
		return
	}
	s = append(s, 0)
	copy(s[idx+1:], s[idx:])
	s[idx] = start
	c.starts[cacheKey] = s
}

func (c *Cache) removeStart(cacheKey string, start int64) {
	if cacheKey == "" {
		return
	}
	s := c.starts[cacheKey]
	idx := sort.Search(len(s), func(i int) bool { return s[i] >= start })
	if idx < len(s) && s[idx] == start {
		s = append(s[:idx], s[idx+1:]...)
		if len(s) == 0 {
			delete(c.starts, cacheKey)
		} else {
			c.starts[cacheKey] = s
		}
	}
}

func (c *Cache) setBytesGauge() {
	if c.m != nil {
		c.m.CacheBytes.Set(float64(c.total))
	}
}

func (c *Cache) recordHit() {
	if c.m != nil {
		c.m.CacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.m != nil {
		c.m.CacheMisses.Inc()
	}
}

// file helpers

func readSlice(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
