/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestUnavailableRedisDisablesCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.IsAvailable() {
		t.Fatal("expected cache to be disabled")
	}

	ctx := context.Background()
	if err := c.SetSnapshot(ctx, &CachedSnapshot{Area: "city-of-cape-town-area-1", Stage: 2}); err != nil {
		t.Fatalf("SetSnapshot on disabled cache should be a no-op, got %v", err)
	}
	if _, ok := c.GetSnapshot(ctx, "city-of-cape-town-area-1"); ok {
		t.Fatal("expected miss on disabled cache")
	}
	if err := c.InvalidateSnapshot(ctx, "city-of-cape-town-area-1"); err != nil {
		t.Fatalf("InvalidateSnapshot: %v", err)
	}
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
}

func TestSetSnapshotRequiresArea(t *testing.T) {
	c := &Cache{logger: zerolog.Nop(), disabled: true}
	if err := c.SetSnapshot(context.Background(), &CachedSnapshot{}); err == nil {
		t.Fatal("expected error for snapshot without area")
	}
}
