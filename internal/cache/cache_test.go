package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	value, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !found || value != "v" {
		t.Errorf("expected hit with %q, got found=%v value=%q", "v", found, value)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	_, found, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected a miss for an absent key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	_, found, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected entry to expire")
	}
}

func TestKeyStableAndDistinct(t *testing.T) {
	a := Key("intent", "Quando passa a coleta?")
	b := Key("intent", "Quando passa a coleta?")
	if a != b {
		t.Errorf("expected identical inputs to share a key, got %q and %q", a, b)
	}
	if a == Key("entities", "Quando passa a coleta?") {
		t.Error("expected distinct kinds to produce distinct keys")
	}
	if a == Key("intent", "outra mensagem") {
		t.Error("expected distinct inputs to produce distinct keys")
	}
}
