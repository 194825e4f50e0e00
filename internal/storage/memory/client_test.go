package memory

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGetInvalidate(t *testing.T) {
	c := New(time.Minute)
	ctx := context.Background()

	got, err := c.GetRecentMessages(ctx, "fr-1")
	if err != nil || got != "" {
		t.Fatalf("empty cache get = (%q, %v), want miss", got, err)
	}

	if err := c.SetRecentMessages(ctx, "fr-1", `[{"id":"m1"}]`); err != nil {
		t.Fatal(err)
	}
	got, err = c.GetRecentMessages(ctx, "fr-1")
	if err != nil || got != `[{"id":"m1"}]` {
		t.Errorf("get = (%q, %v), want cached payload", got, err)
	}

	if err := c.InvalidateRecentMessages(ctx, "fr-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = c.GetRecentMessages(ctx, "fr-1")
	if got != "" {
		t.Errorf("get after invalidate = %q, want miss", got)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := New(20 * time.Millisecond)
	ctx := context.Background()

	if err := c.SetRecentMessages(ctx, "fr-1", "payload"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	got, _ := c.GetRecentMessages(ctx, "fr-1")
	if got != "" {
		t.Errorf("get after TTL = %q, want miss", got)
	}
}
