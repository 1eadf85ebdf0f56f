// Package provider abstracts language-model providers behind a single
// completion capability. Models are addressed as "providerType:modelName"
// (e.g. "anthropic:claude-sonnet-4-5", "gemini:gemini-2.0-flash"); bare names
// are allowed for pre-registered entries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tomgoeck/Ultracode-sub000/pkg/models"
)

// ErrNotRegistered indicates a model reference with no registered generator.
var ErrNotRegistered = errors.New("model not registered")

// ErrMissingCredential indicates a remote provider without an API key.
var ErrMissingCredential = errors.New("missing provider credential")

// Options control a single generation call.
type Options struct {
	// Temperature is the sampling temperature. Negative means provider default.
	Temperature float64
	// MaxTokens caps the completion length. Zero means the adapter default.
	MaxTokens int
}

// Completion is the normalized result of a generation call. Non-string
// provider payloads are normalized to empty content by the adapters.
type Completion struct {
	// Content is the completion text.
	Content string
	// Usage holds provider-reported token counts, nil when unreported.
	Usage *models.TokenUsage
	// Model is the concrete model that served the call.
	Model string
}

// Generator is the uniform completion capability the core consumes.
type Generator interface {
	// Generate produces one completion for the prompt.
	Generate(ctx context.Context, prompt string, opts Options) (*Completion, error)
}

// ModelLister is optionally implemented by adapters that can enumerate
// their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ParseRef splits a "providerType:modelName" reference. A bare name yields
// an empty provider type.
func ParseRef(ref string) (providerType, modelName string) {
	if i := strings.Index(ref, ":"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// Credentials holds per-provider API keys keyed by provider type.
type Credentials map[string]string

// Registry resolves model references to generators, lazily constructing
// adapters from credentials on first use.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
	creds      Credentials
}

// NewRegistry creates a registry with the given credentials.
func NewRegistry(creds Credentials) *Registry {
	if creds == nil {
		creds = Credentials{}
	}
	return &Registry{
		generators: make(map[string]Generator),
		creds:      creds,
	}
}

// Register binds a generator to a model reference, replacing any existing
// binding. Used for pre-registered and in-process generators.
func (r *Registry) Register(ref string, gen Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[ref] = gen
}

// Get returns the generator bound to ref, or ErrNotRegistered.
func (r *Registry) Get(ref string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.generators[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, ref)
	}
	return gen, nil
}

// Ensure returns the generator for ref, constructing the provider adapter
// from stored credentials when it is not registered yet. A remote provider
// without a credential fails fast with ErrMissingCredential.
func (r *Registry) Ensure(ref string) (Generator, error) {
	if gen, err := r.Get(ref); err == nil {
		return gen, nil
	}

	ptype, modelName := ParseRef(ref)
	if ptype == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, ref)
	}

	gen, err := r.construct(ptype, modelName)
	if err != nil {
		return nil, err
	}
	r.Register(ref, gen)
	return gen, nil
}

func (r *Registry) construct(ptype, modelName string) (Generator, error) {
	r.mu.RLock()
	key := r.creds[ptype]
	r.mu.RUnlock()

	switch ptype {
	case "anthropic":
		if key == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredential, ptype)
		}
		return NewAnthropic(AnthropicConfig{APIKey: key, Model: modelName})
	case "bedrock":
		// Bedrock authenticates through the AWS credential chain.
		return NewAnthropic(AnthropicConfig{Model: modelName, UseAWSBedrock: true})
	case "gemini":
		if key == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredential, ptype)
		}
		return NewGemini(key, modelName)
	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", ErrNotRegistered, ptype)
	}
}
