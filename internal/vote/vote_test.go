package vote

import (
	"context"
	"errors"
	"testing"

	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/redflag"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

func runVote(t *testing.T, gen provider.Generator, cfg Config) *models.VoteResult {
	t.Helper()
	res, err := New(gen, nil, nil).Run(context.Background(), "prompt", cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestRun_EarlyExitOnMargin(t *testing.T) {
	gen := provider.NewStatic("m", "A", "B", "A", "A", "never", "never")
	res := runVote(t, gen, Config{K: 2, InitialSamples: 2, MaxSamples: 6, Temperature: -1})

	if !res.HasWinner || res.Winner != "A" {
		t.Fatalf("winner = %q (has=%v), want A", res.Winner, res.HasWinner)
	}
	if !res.AchievedMargin {
		t.Error("expected achieved margin")
	}
	if res.LeadBy != 2 {
		t.Errorf("LeadBy = %d, want 2", res.LeadBy)
	}
	if res.Samples != 4 || gen.Calls() != 4 {
		t.Errorf("samples = %d, calls = %d, want exactly 4", res.Samples, gen.Calls())
	}
}

func TestRun_FlaggedNotTallied(t *testing.T) {
	gen := provider.NewStatic("m", "xxxxxxxxxxx", "ok", "ok")
	res := runVote(t, gen, Config{
		K: 1, InitialSamples: 1, MaxSamples: 3, Temperature: -1,
		Rules: []redflag.Rule{{MaxChars: 10}},
	})

	if !res.HasWinner || res.Winner != "ok" {
		t.Fatalf("winner = %q, want ok", res.Winner)
	}
	if res.Samples != 2 {
		t.Errorf("samples = %d, want 2", res.Samples)
	}
	if !res.Candidates[0].Flagged() {
		t.Error("first candidate should be flagged")
	}
	if res.Candidates[0].Votes != 0 {
		t.Error("flagged candidate must not carry votes")
	}
}

func TestRun_PluralityWithoutMargin(t *testing.T) {
	gen := provider.NewStatic("m", "A", "B", "A", "B")
	res := runVote(t, gen, Config{K: 3, InitialSamples: 2, MaxSamples: 4, Temperature: -1})

	if !res.HasWinner || res.Winner != "A" {
		t.Fatalf("winner = %q, want plurality leader A", res.Winner)
	}
	if res.AchievedMargin {
		t.Error("margin must not be achieved")
	}
	if res.LeadBy != 0 {
		t.Errorf("LeadBy = %d, want 0 on tie", res.LeadBy)
	}
}

func TestRun_TieBreaksToFirstSeen(t *testing.T) {
	gen := provider.NewStatic("m", "B", "A", "A", "B")
	res := runVote(t, gen, Config{K: 5, InitialSamples: 2, MaxSamples: 4, Temperature: -1})

	if res.Winner != "B" {
		t.Errorf("winner = %q, want first-seen B on tie", res.Winner)
	}
}

func TestRun_AllFlaggedNoWinner(t *testing.T) {
	gen := provider.NewStatic("m", "mkdir a\ncd a\n", "mkdir b\ncd b\n")
	res := runVote(t, gen, Config{
		K: 1, InitialSamples: 1, MaxSamples: 2, Temperature: -1,
		ExpectContent: true,
	})

	if res.HasWinner {
		t.Errorf("winner = %q, want none", res.Winner)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(res.Candidates))
	}
}

func TestRun_NoEarlyExitBeforeInitialSamples(t *testing.T) {
	gen := provider.NewStatic("m", "A", "A", "A")
	res := runVote(t, gen, Config{K: 1, InitialSamples: 3, MaxSamples: 5, Temperature: -1})

	if res.Samples != 3 {
		t.Errorf("samples = %d, want 3 (early exit gated on seed count)", res.Samples)
	}
	if !res.AchievedMargin {
		t.Error("margin should be achieved at the third sample")
	}
}

func TestRun_FlaggedSamplesDoNotSeedEarlyExit(t *testing.T) {
	gen := provider.NewStatic("m", "xxxxxxxxxxx", "A", "A", "never")
	res := runVote(t, gen, Config{
		K: 1, InitialSamples: 2, MaxSamples: 4, Temperature: -1,
		Rules: []redflag.Rule{{MaxChars: 10}},
	})

	if !res.HasWinner || res.Winner != "A" {
		t.Fatalf("winner = %q, want A", res.Winner)
	}
	// The flagged first sample must not count toward the seed, so exit
	// waits for the second non-flagged sample.
	if res.Samples != 3 {
		t.Errorf("samples = %d, want 3", res.Samples)
	}
	if !res.AchievedMargin {
		t.Error("expected achieved margin")
	}
}

func TestRun_ProviderErrorFlagsCandidate(t *testing.T) {
	gen := provider.NewStatic("m", "A", "A").FailWith(0, errors.New("down"))
	res := runVote(t, gen, Config{K: 1, InitialSamples: 1, MaxSamples: 3, Temperature: -1})

	if !res.HasWinner || res.Winner != "A" {
		t.Fatalf("winner = %q, want A", res.Winner)
	}
	flags := res.Candidates[0].RedFlags
	if len(flags) != 1 || flags[0] != redflag.ReasonProviderError {
		t.Errorf("first candidate flags = %v", flags)
	}
}

func TestTemperatureSchedule(t *testing.T) {
	cfg := Config{Temperature: -1}
	want := []float64{0.0, 0.3, 0.5, 0.6, 0.6, 0.6}
	for i, w := range want {
		if got := cfg.temperatureFor(i); got != w {
			t.Errorf("temperatureFor(%d) = %v, want %v", i, got, w)
		}
	}

	fixed := Config{Temperature: 0.2}
	if got := fixed.temperatureFor(5); got != 0.2 {
		t.Errorf("fixed temperature = %v, want 0.2", got)
	}
}

type recordingPrompter struct {
	prompts []string
}

func (r *recordingPrompter) Variant(ctx context.Context, prompt string, round, sample int) string {
	v := prompt
	if sample > 0 {
		v = prompt + " (variant)"
	}
	r.prompts = append(r.prompts, v)
	return v
}

func TestRun_FirstSampleUsesOriginalPrompt(t *testing.T) {
	gen := provider.NewStatic("m", "A", "B", "C")
	p := &recordingPrompter{}
	res, err := New(gen, p, nil).Run(context.Background(), "orig", Config{
		K: 9, InitialSamples: 3, MaxSamples: 3, Temperature: -1,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Samples != 3 {
		t.Fatalf("samples = %d", res.Samples)
	}
	// Prompter only sees samples 1..n; sample 0 bypasses it.
	if len(p.prompts) != 2 {
		t.Fatalf("prompter called %d times, want 2", len(p.prompts))
	}
	for _, v := range p.prompts {
		if v != "orig (variant)" {
			t.Errorf("variant = %q", v)
		}
	}
}

func TestRun_UsageCallback(t *testing.T) {
	gen := provider.NewStatic("m", "A", "A")
	var calls int
	usage := func(model string, u *models.TokenUsage, prompt, output string) { calls++ }

	_, err := New(gen, nil, usage).Run(context.Background(), "p", Config{
		K: 1, InitialSamples: 2, MaxSamples: 2, Temperature: -1,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("usage callback called %d times, want 2", calls)
	}
}

func TestHistogramAndTopOutputs(t *testing.T) {
	res := &models.VoteResult{Candidates: []models.Candidate{
		{Output: "A"}, {Output: "B"}, {Output: "A"},
		{Output: "flagged", RedFlags: []string{"too-long"}},
		{Output: "C"},
	}}

	h := Histogram(res)
	if h["A"] != 2 || h["B"] != 1 || h["C"] != 1 || len(h) != 3 {
		t.Errorf("histogram = %v", h)
	}

	top := TopOutputs(res, 2)
	if len(top) != 2 || top[0] != "A" {
		t.Errorf("top = %v", top)
	}
}
