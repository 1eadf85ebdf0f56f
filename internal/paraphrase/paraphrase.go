// Package paraphrase rewords prompts for repeated sampling so parallel
// samples do not collapse onto identical completions. Meaning is preserved;
// only surface form varies.
package paraphrase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tomgoeck/Ultracode-sub000/internal/provider"
)

const (
	// cacheLimit bounds the paraphrase cache. Oldest entries are evicted first.
	cacheLimit = 256
	// keyPrefixLen is how much of the prompt participates in the cache key.
	keyPrefixLen = 128
)

const instruction = `Rephrase the following task prompt. Keep every requirement, constraint, and detail intact. Change only the wording and sentence structure. Return only the rephrased prompt, nothing else.

`

// Paraphraser produces prompt variants using a language model, with a
// bounded cache so retries of the same (round, sample) reuse the variant.
// The cache is keyed by model so entries never cross-serve generators.
type Paraphraser struct {
	gen   provider.Generator
	model string

	mu    sync.Mutex
	cache map[string]string
	order []string
}

// New creates a Paraphraser backed by gen. model identifies the generator
// in cache keys.
func New(gen provider.Generator, model string) *Paraphraser {
	return &Paraphraser{
		gen:   gen,
		model: model,
		cache: make(map[string]string),
	}
}

// Variant returns the prompt to use for the given voting round and sample
// index. The first sample of the first round always uses the original prompt
// verbatim, so at least one sample sees the canonical wording. Paraphrase
// failures fall back to the original prompt rather than failing the sample.
func (p *Paraphraser) Variant(ctx context.Context, prompt string, round, sample int) string {
	if round == 0 && sample == 0 {
		return prompt
	}

	key := cacheKey(p.model, prompt, round, sample)
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	variant := p.rephrase(ctx, prompt, round, sample)
	p.store(key, variant)
	return variant
}

func (p *Paraphraser) rephrase(ctx context.Context, prompt string, round, sample int) string {
	req := fmt.Sprintf("%sVariant %d-%d:\n\n%s", instruction, round, sample, prompt)
	resp, err := p.gen.Generate(ctx, req, provider.Options{Temperature: 0.8})
	if err != nil {
		return prompt
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return prompt
	}
	return out
}

func (p *Paraphraser) store(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache[key]; ok {
		return
	}
	if len(p.order) >= cacheLimit {
		oldest := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, oldest)
	}
	p.cache[key] = value
	p.order = append(p.order, key)
}

func cacheKey(model, prompt string, round, sample int) string {
	prefix := prompt
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}
	return fmt.Sprintf("%s:%d:%d:%d:%s", model, round, sample, len(prompt), prefix)
}
