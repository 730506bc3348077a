package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ledgerline/peregrine/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	t.Run("MissReturnsNil", func(t *testing.T) {
		val, err := c.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for miss, got %q", val)
		}
	})

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v1" {
			t.Errorf("expected v1, got %q", val)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		if err := c.Set(ctx, "k2", []byte("v2"), -time.Second); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "k2")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Error("expected expired entry to be a miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "k3", []byte("v3"), time.Minute)
		if err := c.Delete(ctx, "k3"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "k3")
		if val != nil {
			t.Error("expected deleted entry to be a miss")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Set(ctx, "c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes the oldest.
	c.Get(ctx, "a")
	c.Set(ctx, "d", []byte("4"), time.Minute)

	if val, _ := c.Get(ctx, "b"); val != nil {
		t.Error("expected b to be evicted")
	}
	if val, _ := c.Get(ctx, "a"); val == nil {
		t.Error("expected a to survive eviction")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size 3 / capacity 3, got %d / %d", size, capacity)
	}
}

func TestVelocitySnapshotRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	miss, err := c.GetVelocity(ctx, "user-001")
	if err != nil {
		t.Fatalf("GetVelocity failed: %v", err)
	}
	if miss != nil {
		t.Error("expected miss for unknown user")
	}

	data := &domain.VelocityData{
		Count1h:      3,
		Amount1h:     450,
		Count24h:     9,
		Amount24h:    2100,
		AvgAmount24h: 233.33,
		AsOf:         time.Now().UTC().Truncate(time.Second),
	}
	if err := c.SetVelocity(ctx, "user-001", data, time.Minute); err != nil {
		t.Fatalf("SetVelocity failed: %v", err)
	}

	got, err := c.GetVelocity(ctx, "user-001")
	if err != nil {
		t.Fatalf("GetVelocity failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached snapshot")
	}
	if got.Count1h != 3 || got.Amount24h != 2100 {
		t.Errorf("snapshot not round-tripped: %+v", got)
	}
}

func TestNewFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
