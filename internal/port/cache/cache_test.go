package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/projectchat/internal/port/cache"
)

func TestNopCacheAlwaysMisses(t *testing.T) {
	var c cache.Nop
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, found, err := c.Get(ctx, "k"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
}
