package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/dictaform/pkg/provider/llm"
)

// ErrEmptyCompletion is reported to a backend's breaker when it answers with
// blank content. The mapper cannot parse an empty answer, so the next backend
// is asked instead.
var ErrEmptyCompletion = errors.New("resilience: empty completion")

// LLMFallback is a chain of LLM backends behind one [llm.Provider]. Each
// backend has its own circuit breaker; a backend that errors, answers blank,
// or sits behind an open breaker hands the request to the next one.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after every earlier one.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first non-blank answer of the chain.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyCompletion
		}
		return resp, nil
	})
}

// Model returns the model of the backend the next request would reach.
func (f *LLMFallback) Model() string {
	return f.group.Current().Model()
}

// Healthy reports whether any backend currently accepts calls.
func (f *LLMFallback) Healthy() bool {
	return f.group.Healthy()
}

// States returns the breaker state per backend name.
func (f *LLMFallback) States() map[string]State {
	return f.group.States()
}
