// Package mock provides a scripted LLM backend for mapper tests.
//
// A Provider answers every completion with a fixed reply (or a function of
// the request) and records what the mapper asked, so tests can assert on the
// section prompt and request limits without a live model.
//
//	p := mock.Answering(`{"mappings":[]}`)
//	resp, err := p.Complete(ctx, req)
//	prompt := p.LastPrompt()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictaform/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. The zero value answers
// (nil, nil).
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteFunc, if set, computes the answer instead of CompleteResponse
	// and CompleteErr.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// ModelName is returned by Model.
	ModelName string

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Answering returns a Provider whose every completion is content.
func Answering(content string) *Provider {
	return &Provider{
		ModelName:        "mock",
		CompleteResponse: &llm.CompletionResponse{Content: content},
	}
}

// Complete records the call and returns the scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

func (p *Provider) Model() string { return p.ModelName }

// Calls returns the number of Complete calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastPrompt returns the content of the last message of the most recent
// request, or "" before the first call.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return ""
	}
	msgs := p.CompleteCalls[len(p.CompleteCalls)-1].Req.Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

var _ llm.Provider = (*Provider)(nil)
