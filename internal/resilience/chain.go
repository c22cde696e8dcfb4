package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// ErrAllFailed is returned when every backend in a [Chain] either refused
// the stream or sat behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// Chain is an [llm.Provider] that fails over across configured backends in
// order. Each backend sits behind its own [Breaker]; a backend that refuses
// to open a stream, or whose stream later dies, accumulates failures and is
// skipped once its breaker trips, until the cooldown re-admits it.
//
// Capabilities are the primary backend's: fallbacks are assumed
// interchangeable enough that the agent's tool-offering decision holds.
type Chain struct {
	entries []chainEntry
	log     *slog.Logger
}

type chainEntry struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

var _ llm.Provider = (*Chain)(nil)

// NewChain returns a Chain with primary as its only backend. cfg applies to
// every breaker in the chain.
func NewChain(name string, primary llm.Provider, cfg BreakerConfig, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	c := &Chain{log: log.With("component", "llm_chain")}
	c.add(name, primary, cfg)
	return c
}

// AddFallback appends a backend tried when everything before it fails.
func (c *Chain) AddFallback(name string, p llm.Provider) {
	c.add(name, p, c.entries[0].breaker.cfg)
}

func (c *Chain) add(name string, p llm.Provider, cfg BreakerConfig) {
	c.entries = append(c.entries, chainEntry{
		name:     name,
		provider: p,
		breaker:  NewBreaker(name, cfg),
	})
}

// StreamCompletion implements [llm.Provider]. It dispatches to the first
// backend whose breaker admits the request. Open failures advance to the
// next backend; once a stream opens the chain commits to it — the turn's
// chunks must come from one model — and the stream's outcome feeds the
// breaker as it is relayed.
func (c *Chain) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var errs []error
	for i := range c.entries {
		e := &c.entries[i]

		if !e.breaker.Allow() {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, ErrCircuitOpen))
			continue
		}

		ch, err := e.provider.StreamCompletion(ctx, req)
		if err != nil {
			e.breaker.RecordFailure()
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			c.log.Warn("provider failed to open stream, trying next",
				"provider", e.name, "error", err, "breaker", e.breaker.State().String())
			continue
		}

		return c.relay(ch, e.breaker), nil
	}
	return nil, errors.Join(append([]error{ErrAllFailed}, errs...)...)
}

// relay forwards the backend's chunks and scores the stream: a terminal
// error chunk counts as a failure, anything else as a success.
func (c *Chain) relay(in <-chan llm.Chunk, breaker *Breaker) <-chan llm.Chunk {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		failed := false
		for chunk := range in {
			if chunk.FinishReason == llm.FinishError {
				failed = true
			}
			out <- chunk
		}
		if failed {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}()
	return out
}

// Capabilities implements [llm.Provider], reporting the primary backend's.
func (c *Chain) Capabilities() types.ModelCapabilities {
	return c.entries[0].provider.Capabilities()
}

// States reports each backend's breaker position, for health reporting.
func (c *Chain) States() map[string]State {
	states := make(map[string]State, len(c.entries))
	for i := range c.entries {
		states[c.entries[i].name] = c.entries[i].breaker.State()
	}
	return states
}
