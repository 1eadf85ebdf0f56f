package provider

import (
	"context"
	"errors"
	"testing"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		ref, ptype, model string
	}{
		{"anthropic:claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"gemini:gemini-2.0-flash", "gemini", "gemini-2.0-flash"},
		{"local-model", "", "local-model"},
		{"bedrock:us.anthropic.claude-sonnet-4-5-20250929-v1:0", "bedrock", "us.anthropic.claude-sonnet-4-5-20250929-v1:0"},
	}
	for _, c := range cases {
		ptype, model := ParseRef(c.ref)
		if ptype != c.ptype || model != c.model {
			t.Errorf("ParseRef(%q) = (%q, %q), want (%q, %q)", c.ref, ptype, model, c.ptype, c.model)
		}
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	gen := NewStatic("test-model", "output")
	r.Register("static:test-model", gen)

	got, err := r.Get("static:test-model")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != Generator(gen) {
		t.Error("Get returned a different generator")
	}

	if _, err := r.Get("static:missing"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_EnsureFailsFastWithoutCredential(t *testing.T) {
	r := NewRegistry(Credentials{})
	if _, err := r.Ensure("anthropic:claude-sonnet-4-5"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
	if _, err := r.Ensure("gemini:gemini-2.0-flash"); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}
}

func TestRegistry_EnsureUnknownProvider(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Ensure("frobnicator:model-1"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
	// Bare name with no registration has no provider to construct from.
	if _, err := r.Ensure("bare-model"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestStatic_ScriptedOutputs(t *testing.T) {
	gen := NewStatic("m", "first", "second")
	ctx := context.Background()

	for i, want := range []string{"first", "second", "second"} {
		c, err := gen.Generate(ctx, "prompt", Options{Temperature: -1})
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if c.Content != want {
			t.Errorf("call %d = %q, want %q", i, c.Content, want)
		}
	}
	if gen.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", gen.Calls())
	}
}

func TestStatic_ScheduledFailure(t *testing.T) {
	wantErr := errors.New("provider down")
	gen := NewStatic("m", "a", "b").FailWith(1, wantErr)
	ctx := context.Background()

	if _, err := gen.Generate(ctx, "p", Options{}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := gen.Generate(ctx, "p", Options{}); !errors.Is(err, wantErr) {
		t.Errorf("second call err = %v, want scheduled failure", err)
	}
	if c, err := gen.Generate(ctx, "p", Options{}); err != nil || c.Content != "b" {
		t.Errorf("third call = (%v, %v), want b", c, err)
	}
}

func TestStatic_ContextCancelled(t *testing.T) {
	gen := NewStatic("m", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gen.Generate(ctx, "p", Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
