package provider

import (
	"context"
	"sync"
)

// Static is a scripted generator used by tests and dry runs. Each call
// returns the next scripted output in order; the last output repeats once
// the script is exhausted.
type Static struct {
	mu      sync.Mutex
	outputs []string
	errs    []error
	calls   int
	model   string
}

// NewStatic creates a scripted generator returning the given outputs in order.
func NewStatic(model string, outputs ...string) *Static {
	return &Static{outputs: outputs, model: model}
}

// FailWith schedules err for the call at index i (0-based). Other calls
// succeed with their scripted output.
func (s *Static) FailWith(i int, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.errs) <= i {
		s.errs = append(s.errs, nil)
	}
	s.errs[i] = err
	return s
}

// Calls returns how many times Generate has been invoked.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Generate implements Generator.
func (s *Static) Generate(ctx context.Context, prompt string, opts Options) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}

	out := ""
	if len(s.outputs) > 0 {
		if i >= len(s.outputs) {
			i = len(s.outputs) - 1
		}
		out = s.outputs[i]
	}
	return &Completion{Content: out, Model: s.model}, nil
}
