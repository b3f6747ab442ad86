package pipeline

import (
	"testing"

	"github.com/l0p7/swkit/internal/fetch"
)

func TestContextSeedIsCopied(t *testing.T) {
	seed := map[string]any{"a": 1}
	ctx := NewContext(seed)
	ctx.Set("b", 2)

	if _, ok := seed["b"]; ok {
		t.Fatalf("expected seed map to stay untouched")
	}
	if got := ctx.Get("a"); got != 1 {
		t.Fatalf("expected seeded value, got %#v", got)
	}
}

func TestContextSetReturnsAllValues(t *testing.T) {
	ctx := NewContext(nil)
	all := ctx.Set("x", "y")
	if len(all) != 1 || all["x"] != "y" {
		t.Fatalf("expected set to return full map, got %#v", all)
	}
	if got := ctx.Values(); len(got) != 1 {
		t.Fatalf("expected values to list one key, got %#v", got)
	}
	if ctx.Get("missing") != nil {
		t.Fatalf("expected missing key to be nil")
	}
}

func TestContextSetSnapshotIsDetached(t *testing.T) {
	ctx := NewContext(nil)
	first := ctx.Set("x", 1)
	first["x"] = 99
	first["y"] = 2

	if got := ctx.Get("x"); got != 1 {
		t.Fatalf("expected context to keep its own value, got %#v", got)
	}
	if got := ctx.Get("y"); got != nil {
		t.Fatalf("expected snapshot writes to stay local, got %#v", got)
	}

	second := ctx.Set("z", 3)
	if len(second) != 2 || second["x"] != 1 || second["z"] != 3 {
		t.Fatalf("expected snapshot of every stored value, got %#v", second)
	}
}

func TestContextTypedAccessors(t *testing.T) {
	ctx := NewContext(nil)
	if ctx.Request() != nil || ctx.CacheName() != "" {
		t.Fatalf("expected empty typed accessors on a fresh context")
	}
	req := fetch.NewRequest("https://example.com/a")
	ctx.SetRequest(req)
	ctx.SetCacheName("__sw/router")

	if ctx.Request() != req {
		t.Fatalf("expected request to round trip")
	}
	if ctx.CacheName() != "__sw/router" {
		t.Fatalf("expected cache name to round trip, got %q", ctx.CacheName())
	}
	if ctx.Get(KeyCacheName) != "__sw/router" {
		t.Fatalf("expected typed setter to use the shared key")
	}
}
