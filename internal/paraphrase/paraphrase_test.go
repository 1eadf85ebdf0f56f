package paraphrase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
)

func TestVariant_FirstSampleVerbatim(t *testing.T) {
	gen := provider.NewStatic("m", "REPHRASED")
	p := New(gen, "m")

	got := p.Variant(context.Background(), "do the thing", 0, 0)
	if got != "do the thing" {
		t.Errorf("Variant(0,0) = %q, want original prompt", got)
	}
	if gen.Calls() != 0 {
		t.Errorf("first sample must not call the model, got %d calls", gen.Calls())
	}
}

func TestVariant_LaterSamplesRephrased(t *testing.T) {
	gen := provider.NewStatic("m", "REPHRASED")
	p := New(gen, "m")

	got := p.Variant(context.Background(), "do the thing", 0, 1)
	if got != "REPHRASED" {
		t.Errorf("Variant(0,1) = %q", got)
	}
}

func TestVariant_FailureFallsBack(t *testing.T) {
	gen := provider.NewStatic("m", "x").FailWith(0, errors.New("down"))
	p := New(gen, "m")

	got := p.Variant(context.Background(), "original", 1, 0)
	if got != "original" {
		t.Errorf("Variant after failure = %q, want original", got)
	}
}

func TestVariant_EmptyOutputFallsBack(t *testing.T) {
	gen := provider.NewStatic("m", "   \n")
	p := New(gen, "m")

	if got := p.Variant(context.Background(), "original", 1, 2); got != "original" {
		t.Errorf("Variant = %q, want original", got)
	}
}

func TestVariant_Cached(t *testing.T) {
	gen := provider.NewStatic("m", "VAR-A", "VAR-B")
	p := New(gen, "m")
	ctx := context.Background()

	first := p.Variant(ctx, "prompt", 0, 1)
	second := p.Variant(ctx, "prompt", 0, 1)
	if first != second {
		t.Errorf("cache miss on repeat: %q != %q", first, second)
	}
	if gen.Calls() != 1 {
		t.Errorf("model called %d times, want 1", gen.Calls())
	}

	// A different sample index is a different cache entry.
	other := p.Variant(ctx, "prompt", 0, 2)
	if other == first {
		t.Error("distinct sample reused cached variant")
	}
}

func TestCacheKey_DistinguishesModels(t *testing.T) {
	a := cacheKey("anthropic:sonnet", "same prompt", 1, 1)
	b := cacheKey("gemini:flash", "same prompt", 1, 1)
	if a == b {
		t.Error("cache keys for different models must differ")
	}

	if cacheKey("m", "p", 1, 1) != cacheKey("m", "p", 1, 1) {
		t.Error("identical inputs must produce identical keys")
	}
}

func TestVariant_CacheEviction(t *testing.T) {
	gen := provider.NewStatic("m", "V")
	p := New(gen, "m")
	ctx := context.Background()

	for i := 0; i < cacheLimit+10; i++ {
		p.Variant(ctx, fmt.Sprintf("prompt %d", i), 1, 0)
	}

	p.mu.Lock()
	size := len(p.cache)
	p.mu.Unlock()
	if size > cacheLimit {
		t.Errorf("cache size = %d, want <= %d", size, cacheLimit)
	}
}

func TestVariant_Concurrent(t *testing.T) {
	gen := provider.NewStatic("m", "V")
	p := New(gen, "m")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Variant(ctx, "shared prompt", i%4, i%3)
		}(i)
	}
	wg.Wait()
}
