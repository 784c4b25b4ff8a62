package cache

import (
	"testing"
	"time"
)

func TestGetSetExpiry(t *testing.T) {
	c := New()
	c.Set("a", 1, 50*time.Millisecond)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("got %v %v, want 1 true", v, ok)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expired entry still returned")
	}
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Invalidate("a", "missing")
	if _, ok := c.Get("a"); ok {
		t.Fatal("a not invalidated")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("b lost")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	c.Set("user:1:10", "x", time.Minute)
	c.Set("user:1:11", "y", time.Minute)
	c.Set("user:2:10", "z", time.Minute)
	c.Set("group:1", "g", time.Minute)
	c.InvalidatePrefix("user:1:")
	if _, ok := c.Get("user:1:10"); ok {
		t.Fatal("user:1:10 survived prefix invalidation")
	}
	if _, ok := c.Get("user:1:11"); ok {
		t.Fatal("user:1:11 survived prefix invalidation")
	}
	if _, ok := c.Get("user:2:10"); !ok {
		t.Fatal("user:2:10 wrongly dropped")
	}
	if _, ok := c.Get("group:1"); !ok {
		t.Fatal("group:1 wrongly dropped")
	}
}

func TestSweep(t *testing.T) {
	c := New()
	c.Set("old", 1, -time.Second)
	c.Set("fresh", 2, time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("len %d, want 1", c.Len())
	}
}

func TestClear(t *testing.T) {
	c := New()
	c.Set("a", 1, time.Minute)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len %d after clear", c.Len())
	}
}
