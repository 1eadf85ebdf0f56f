// Package vote implements adaptive first-to-lead-by-k consensus over model
// completions. Sampling continues up to a cap and exits early once the
// leader's margin over the runner-up reaches k with enough seed samples.
package vote

import (
	"context"
	"sort"

	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
	"github.com/tomgoeck/Ultracode-sub000/internal/redflag"
	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// defaultSchedule is the per-sample temperature ramp, clamped to its last
// element for later samples.
var defaultSchedule = []float64{0.0, 0.3, 0.5, 0.6}

// Prompter supplies the prompt variant for a given sample index. Sample 0
// must see the original prompt.
type Prompter interface {
	Variant(ctx context.Context, prompt string, round, sample int) string
}

// UsageFunc receives provider usage after each sample.
type UsageFunc func(model string, usage *models.TokenUsage, prompt, output string)

// Config parameterizes one voting invocation.
type Config struct {
	// K is the required lead margin for early exit.
	K int
	// InitialSamples is the minimum non-flagged sample count before early
	// exit. Flagged and errored samples never count toward the seed.
	InitialSamples int
	// MaxSamples is the hard sampling cap.
	MaxSamples int
	// Temperature fixes the sampling temperature when >= 0. Negative
	// selects the default schedule.
	Temperature float64
	// TemperatureSchedule overrides the default schedule when non-empty.
	TemperatureSchedule []float64
	// MaxTokens caps each completion.
	MaxTokens int
	// Rules are the red-flag rules applied to each output.
	Rules []redflag.Rule
	// ExpectContent enables the shell-instruction red-flag heuristics.
	ExpectContent bool
	// Round distinguishes retries of the same subtask for paraphrase caching.
	Round int
}

func (c Config) normalized() Config {
	if c.K <= 0 {
		c.K = 2
	}
	if c.InitialSamples <= 0 {
		c.InitialSamples = 3
	}
	if c.MaxSamples < c.InitialSamples {
		c.MaxSamples = c.InitialSamples
	}
	return c
}

func (c Config) temperatureFor(i int) float64 {
	if c.Temperature >= 0 {
		return c.Temperature
	}
	schedule := c.TemperatureSchedule
	if len(schedule) == 0 {
		schedule = defaultSchedule
	}
	if i >= len(schedule) {
		i = len(schedule) - 1
	}
	return schedule[i]
}

// Engine runs voting rounds against a generator.
type Engine struct {
	gen       provider.Generator
	prompter  Prompter
	usageFunc UsageFunc
}

// New creates an Engine. prompter and usageFunc may be nil.
func New(gen provider.Generator, prompter Prompter, usageFunc UsageFunc) *Engine {
	return &Engine{gen: gen, prompter: prompter, usageFunc: usageFunc}
}

// Run samples the generator until consensus or the cap, tallying exact output
// strings. Flagged candidates are recorded but never tallied. The returned
// result lists every candidate in sample order.
func (e *Engine) Run(ctx context.Context, prompt string, cfg Config) (*models.VoteResult, error) {
	cfg = cfg.normalized()

	res := &models.VoteResult{}
	tally := map[string]int{}
	firstSeen := map[string]int{}
	tallied := 0

	for i := 0; i < cfg.MaxSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		samplePrompt := prompt
		if i > 0 && e.prompter != nil {
			samplePrompt = e.prompter.Variant(ctx, prompt, cfg.Round, i)
		}
		temp := cfg.temperatureFor(i)

		cand := models.Candidate{SampleIndex: i, Temperature: temp}
		comp, err := e.gen.Generate(ctx, samplePrompt, provider.Options{
			Temperature: temp,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			cand.RedFlags = []string{redflag.ReasonProviderError}
			res.Candidates = append(res.Candidates, cand)
			res.Samples++
			continue
		}

		cand.Model = comp.Model
		cand.Output = comp.Content
		if e.usageFunc != nil {
			e.usageFunc(comp.Model, comp.Usage, samplePrompt, comp.Content)
		}

		cand.RedFlags = redflag.Evaluate(comp.Content, cfg.Rules, cfg.ExpectContent)
		if len(cand.RedFlags) == 0 {
			tallied++
			tally[comp.Content]++
			if _, ok := firstSeen[comp.Content]; !ok {
				firstSeen[comp.Content] = i
			}
			cand.Votes = tally[comp.Content]
		}
		res.Candidates = append(res.Candidates, cand)
		res.Samples++

		leader, leadBy := standings(tally, firstSeen)
		if len(cand.RedFlags) == 0 && tallied >= cfg.InitialSamples && leadBy >= cfg.K {
			res.Winner = leader
			res.HasWinner = true
			res.AchievedMargin = true
			res.LeadBy = leadBy
			return res, nil
		}
	}

	// Exhausted without a tally: every sample was flagged, no winner.
	if len(tally) == 0 {
		return res, nil
	}

	leader, leadBy := standings(tally, firstSeen)
	res.Winner = leader
	res.HasWinner = true
	res.AchievedMargin = false
	res.LeadBy = leadBy
	return res, nil
}

// standings returns the current leader and its margin over the runner-up.
// Ties break toward the output seen first.
func standings(tally map[string]int, firstSeen map[string]int) (leader string, leadBy int) {
	type entry struct {
		output string
		votes  int
		seen   int
	}
	entries := make([]entry, 0, len(tally))
	for out, votes := range tally {
		entries = append(entries, entry{out, votes, firstSeen[out]})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].votes != entries[b].votes {
			return entries[a].votes > entries[b].votes
		}
		return entries[a].seen < entries[b].seen
	})

	if len(entries) == 0 {
		return "", 0
	}
	leader = entries[0].output
	leadBy = entries[0].votes
	if len(entries) > 1 {
		leadBy = entries[0].votes - entries[1].votes
	}
	return leader, leadBy
}

// Histogram returns output vote counts for the result's tallied candidates.
func Histogram(res *models.VoteResult) map[string]int {
	counts := map[string]int{}
	for _, c := range res.Candidates {
		if !c.Flagged() {
			counts[c.Output]++
		}
	}
	return counts
}

// TopOutputs returns up to n outputs ordered by vote count descending.
func TopOutputs(res *models.VoteResult, n int) []string {
	counts := Histogram(res)
	outputs := make([]string, 0, len(counts))
	for out := range counts {
		outputs = append(outputs, out)
	}
	sort.Slice(outputs, func(a, b int) bool {
		if counts[outputs[a]] != counts[outputs[b]] {
			return counts[outputs[a]] > counts[outputs[b]]
		}
		return outputs[a] < outputs[b]
	})
	if len(outputs) > n {
		outputs = outputs[:n]
	}
	return outputs
}

// TemperatureHistogram counts samples per temperature value.
func TemperatureHistogram(res *models.VoteResult) map[float64]int {
	counts := map[float64]int{}
	for _, c := range res.Candidates {
		counts[c.Temperature]++
	}
	return counts
}
