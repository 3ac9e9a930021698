package resultcache

import (
	"context"
	"strings"
	"testing"

	"github.com/gosight/funnel/internal/config"
)

func TestKey(t *testing.T) {
	a := Key("sig1", "/v1/funnel?tiers=Tier-1")
	b := Key("sig2", "/v1/funnel?tiers=Tier-1")
	c := Key("sig1", "/v1/funnel?tiers=Tier-2")
	if a == b || a == c {
		t.Fatalf("keys must differ by signature and query")
	}
	if !strings.HasPrefix(a, "funnel:sig1:") {
		t.Fatalf("unexpected key %q", a)
	}
	if a != Key("sig1", "/v1/funnel?tiers=Tier-1") {
		t.Fatalf("key must be deterministic")
	}
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"))
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("nil cache must miss")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNew_NoAddr(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{}, 0)
	if err != nil || c != nil {
		t.Fatalf("want disabled cache, got %v %v", c, err)
	}
}
