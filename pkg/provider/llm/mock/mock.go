// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays scripted chunks and records every call. The zero value
// streams nothing and reports zero-valued capabilities.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted in order on every StreamCompletion call.
	StreamChunks []llm.Chunk
	// StreamErr, when set, is returned instead of a stream.
	StreamErr error

	ModelCapabilities types.ModelCapabilities

	StreamCalls           []StreamCall
	CapabilitiesCallCount int
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	chunks := p.StreamChunks
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears recorded calls, keeping the scripted responses.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CapabilitiesCallCount = 0
}
