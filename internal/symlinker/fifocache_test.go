package symlinker

import (
	"fmt"
	"testing"
)

func TestFifoCache_PutGet(t *testing.T) {
	c := newFifoCache(4)

	if _, ok := c.get("missing"); ok {
		t.Error("get() = ok for a missing key")
	}

	c.put("a", "1")
	if v, ok := c.get("a"); !ok || v != "1" {
		t.Errorf("get(a) = %q, %v, want 1, true", v, ok)
	}

	// Updating an existing key does not consume a slot.
	c.put("a", "2")
	if v, _ := c.get("a"); v != "2" {
		t.Errorf("get(a) after update = %q, want 2", v)
	}
	if len(c.order) != 1 {
		t.Errorf("order length = %d after update, want 1", len(c.order))
	}
}

func TestFifoCache_EvictsOldestFirst(t *testing.T) {
	c := newFifoCache(3)
	for i := 0; i < 3; i++ {
		c.put(fmt.Sprintf("k%d", i), "v")
	}

	c.put("k3", "v")
	if _, ok := c.get("k0"); ok {
		t.Error("oldest entry survived past the limit")
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, ok := c.get(key); !ok {
			t.Errorf("get(%s) = miss, want hit", key)
		}
	}

	// Reads do not reorder; k1 is still the next eviction victim.
	c.get("k1")
	c.put("k4", "v")
	if _, ok := c.get("k1"); ok {
		t.Error("get() refreshed FIFO position, want insertion order eviction")
	}
}
