package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLRUBasicOperations(t *testing.T) {
	c := New[string, int](Config{MaxSize: 10}, nil)

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	c.Put("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("updated Get(a) = %d", v)
	}
	c.Remove("b")
	c.Remove("missing")
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	c.Clear()
	if c.Len() != 0 || c.Stats().TotalBytes != 0 {
		t.Errorf("after Clear: len %d stats %+v", c.Len(), c.Stats())
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](Config{MaxSize: 2}, nil)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // b is now oldest
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestBytesLimit(t *testing.T) {
	c := Bytes[string](Config{MaxBytes: 10})

	if !c.Put("a", make([]byte, 4)) || !c.Put("b", make([]byte, 4)) {
		t.Fatal("small values rejected")
	}
	c.Put("c", make([]byte, 4)) // pushes total to 12, evicting a

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted for space")
	}
	if got := c.Stats().TotalBytes; got != 8 {
		t.Errorf("TotalBytes = %d, want 8", got)
	}

	if c.Put("huge", make([]byte, 11)) {
		t.Error("value larger than MaxBytes stored")
	}
	c.Put("b", make([]byte, 1))
	if got := c.Stats().TotalBytes; got != 5 {
		t.Errorf("TotalBytes after shrink = %d, want 5", got)
	}
	c.Put("b", make([]byte, 20))
	if _, ok := c.Get("b"); ok {
		t.Error("oversized update should drop the old value")
	}
	if got := c.Stats().TotalBytes; got != 4 {
		t.Errorf("TotalBytes after oversized update = %d, want 4", got)
	}
}

func TestTTL(t *testing.T) {
	c := New[string, string](Config{TTL: time.Minute}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("k", "v")
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry expired early")
	}
	now = now.Add(31 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry did not expire")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry still counted: %d", c.Len())
	}
}

func TestStats(t *testing.T) {
	c := Bytes[int](Config{MaxSize: 5, MaxBytes: 100})
	c.Put(1, []byte("abc"))
	c.Get(1)
	c.Get(1)
	c.Get(2)

	want := Stats{Hits: 2, Misses: 1, Size: 1, MaxSize: 5, TotalBytes: 3, MaxBytes: 100}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestNegativeLimits(t *testing.T) {
	c := New[int, int](Config{MaxSize: -1, MaxBytes: -1}, nil)
	for i := 0; i < 500; i++ {
		c.Put(i, i)
	}
	if c.Len() != 500 {
		t.Errorf("Len() = %d, want 500 with unlimited size", c.Len())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxSize != 100 || cfg.MaxBytes != 64<<20 || cfg.TTL != 0 {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestConcurrency(t *testing.T) {
	c := Bytes[string](Config{MaxSize: 50, MaxBytes: 1 << 10})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i%20)
				c.Put(key, make([]byte, i%40))
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	s := c.Stats()
	if s.Size > 50 || s.TotalBytes > 1<<10 {
		t.Errorf("limits exceeded: %+v", s)
	}
}
