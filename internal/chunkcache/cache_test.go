package chunkcache

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func filled(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestCache_PutGetExact(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, Eviction: EvictLRU})

	data := filled(1024, 0xAB)
	c.Put("file-a", 0, data)

	got := c.Get("file-a", 0, 1023)
	if !bytes.Equal(got, data) {
		t.Fatalf("Get() returned %d bytes, want the stored 1024", len(got))
	}

	if !c.Has("file-a", 100, 900) {
		t.Error("Has() = false for a sub-range of a stored chunk")
	}
	if c.Has("file-a", 0, 1024) {
		t.Error("Has() = true past the end of the stored chunk")
	}
}

func TestCache_GetStitchesAcrossChunks(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-a", 1024, filled(1024, 0x02))

	got := c.Get("file-a", 1000, 1047)
	if len(got) != 48 {
		t.Fatalf("Get() returned %d bytes, want 48", len(got))
	}
	want := append(filled(24, 0x01), filled(24, 0x02)...)
	if !bytes.Equal(got, want) {
		t.Error("stitched read does not match chunk contents at the boundary")
	}
}

func TestCache_GetMissOnGap(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-a", 4096, filled(1024, 0x02))

	if got := c.Get("file-a", 0, 2047); got != nil {
		t.Errorf("Get() across a gap returned %d bytes, want nil", len(got))
	}
}

func TestCache_GetInvalidRange(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, Eviction: EvictLRU})
	if got := c.Get("file-a", 10, 9); got != nil {
		t.Error("Get() with end < start should return nil")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 3 * 1024, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-b", 0, filled(1024, 0x02))
	c.Put("file-c", 0, filled(1024, 0x03))

	// file-a is the least recently used; the fourth put evicts it.
	c.Put("file-d", 0, filled(1024, 0x04))

	if c.Has("file-a", 0, 1023) {
		t.Error("file-a survived eviction, want it dropped as least recently used")
	}
	for _, key := range []string{"file-b", "file-c", "file-d"} {
		if !c.Has(key, 0, 1023) {
			t.Errorf("%s missing after eviction, want it kept", key)
		}
	}
	if c.TotalBytes() > 3*1024 {
		t.Errorf("TotalBytes() = %d, want <= budget", c.TotalBytes())
	}
}

func TestCache_GetRefreshesLRUPosition(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 3 * 1024, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-b", 0, filled(1024, 0x02))
	c.Put("file-c", 0, filled(1024, 0x03))

	// Touch file-a so file-b becomes the eviction candidate.
	if got := c.Get("file-a", 0, 1023); got == nil {
		t.Fatal("Get(file-a) missed, want hit")
	}
	c.Put("file-d", 0, filled(1024, 0x04))

	if !c.Has("file-a", 0, 1023) {
		t.Error("recently read file-a was evicted")
	}
	if c.Has("file-b", 0, 1023) {
		t.Error("file-b survived, want it evicted as least recently used")
	}
}

func TestCache_TTLEviction(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, TTL: 30 * time.Millisecond, Eviction: EvictTTL})

	c.Put("file-a", 0, filled(512, 0x01))
	time.Sleep(60 * time.Millisecond)
	c.Put("file-b", 0, filled(512, 0x02))

	if c.Has("file-a", 0, 511) {
		t.Error("expired chunk survived TTL eviction")
	}
	if !c.Has("file-b", 0, 511) {
		t.Error("fresh chunk was evicted")
	}
}

func TestCache_RebuildServesColdReads(t *testing.T) {
	dir := t.TempDir()

	first := newTestCache(t, Config{Dir: dir, MaxSizeBytes: 1 << 20, Eviction: EvictLRU})
	data := filled(2048, 0x5A)
	first.Put("file-a", 0, data)

	// A fresh process over the same directory: filenames alone cannot name
	// (cacheKey, start), so the first read goes through the disk probe.
	second := newTestCache(t, Config{Dir: dir, MaxSizeBytes: 1 << 20, Eviction: EvictLRU})
	if second.TotalBytes() != 2048 {
		t.Errorf("TotalBytes() after rebuild = %d, want 2048", second.TotalBytes())
	}

	got := second.Get("file-a", 0, 2047)
	if !bytes.Equal(got, data) {
		t.Fatalf("Get() after rebuild returned %d bytes, want 2048", len(got))
	}

	// The probe restored identity; the range is planable now.
	if !second.Has("file-a", 0, 2047) {
		t.Error("Has() = false after a probing read rebuilt the index entry")
	}
}

func TestCache_PutReplacesChunk(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 1 << 20, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-a", 0, filled(512, 0x02))

	got := c.Get("file-a", 0, 511)
	if !bytes.Equal(got, filled(512, 0x02)) {
		t.Error("replacement chunk not served")
	}
	if c.TotalBytes() != 512 {
		t.Errorf("TotalBytes() = %d, want 512 after replacement", c.TotalBytes())
	}
}

func TestCache_TrimHonorsBudget(t *testing.T) {
	c := newTestCache(t, Config{MaxSizeBytes: 2 * 1024, Eviction: EvictLRU})

	c.Put("file-a", 0, filled(1024, 0x01))
	c.Put("file-b", 0, filled(1024, 0x02))
	c.Trim()

	if c.TotalBytes() > 2*1024 {
		t.Errorf("TotalBytes() = %d after Trim, want <= 2048", c.TotalBytes())
	}
}
