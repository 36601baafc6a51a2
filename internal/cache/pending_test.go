package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"pipeboard/api/internal/decision"
)

func setupTestCache(t *testing.T) (*PendingCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewPendingCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create pending cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestSetAndGetPending(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	items := []decision.Decision{
		{ID: "decision-1", PipelineID: "pipeline-1", Status: decision.StatusPending,
			Options: []decision.Option{{ID: "option-1", Title: "Retry"}}},
	}
	if err := c.SetPending(ctx, "pipeline-1", items); err != nil {
		t.Fatalf("SetPending failed: %v", err)
	}

	got, hit, err := c.GetPending(ctx, "pipeline-1")
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if len(got) != 1 || got[0].ID != "decision-1" || got[0].Options[0].ID != "option-1" {
		t.Fatalf("unexpected cached items: %+v", got)
	}
}

func TestGetPendingMiss(t *testing.T) {
	c, _ := setupTestCache(t)

	_, hit, err := c.GetPending(context.Background(), "pipeline-unknown")
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if hit {
		t.Fatal("expected cache miss for unknown pipeline")
	}
}

func TestInvalidateDropsKey(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	if err := c.SetPending(ctx, "pipeline-1", []decision.Decision{{ID: "decision-1"}}); err != nil {
		t.Fatalf("SetPending failed: %v", err)
	}
	if err := c.Invalidate(ctx, "pipeline-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	_, hit, err := c.GetPending(ctx, "pipeline-1")
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if hit {
		t.Fatal("expected miss after invalidation")
	}
}

func TestEntriesExpire(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.SetPending(ctx, "pipeline-1", []decision.Decision{{ID: "decision-1"}}); err != nil {
		t.Fatalf("SetPending failed: %v", err)
	}
	s.FastForward(DefaultTTL * 2)

	_, hit, err := c.GetPending(ctx, "pipeline-1")
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if hit {
		t.Fatal("expected entry to expire after TTL")
	}
}
