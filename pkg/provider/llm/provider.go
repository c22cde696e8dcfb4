// Package llm defines the model-backend boundary of the SheetPilot agent.
//
// A Provider wraps one chat-completion API (OpenAI, Anthropic via any-llm,
// a local Ollama instance, ...) behind a single streaming call. The agent
// engine is the only consumer: it submits the projected conversation plus
// the tool definitions and drains a channel of [Chunk] values until the
// round ends. There is no non-streaming path — everything the copilot does
// is incremental.
//
// Implementations must be safe for concurrent use and must close the chunk
// channel when the stream ends or the context is cancelled.
package llm

import (
	"context"
	"sort"

	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// FinishError is the FinishReason carried by a chunk that reports a
// mid-stream backend failure. Its Text holds the error description. Failures
// before the stream opens are returned as ordinary errors instead.
const FinishError = "error"

// CompletionRequest is one model round: the projected conversation, the
// tools on offer, and the sampling parameters from the agent configuration.
type CompletionRequest struct {
	// Messages is the ordered, model-facing projection of the conversation.
	// Must be non-empty.
	Messages []types.Message

	// Tools lists the definitions the model may call this round. Empty when
	// the caller wants a plain text answer.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// backend default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int

	// SystemPrompt is injected ahead of Messages, using whatever mechanism
	// the backend gives system instructions (a "system" message, a dedicated
	// field, ...).
	SystemPrompt string
}

// Chunk is one streamed fragment of a model round.
//
// Tool calls appear only on a finishing chunk and only fully assembled:
// providers merge the per-index argument fragments their SDKs stream (see
// [ToolCallAssembler]) so consumers never see a partial call.
type Chunk struct {
	// Text is the incremental assistant text, possibly empty. On a
	// [FinishError] chunk it holds the error description instead.
	Text string

	// FinishReason is empty on intermediate chunks. Typical terminal values
	// are "stop", "length", "tool_calls" and [FinishError].
	FinishReason string

	// ToolCalls carries the round's assembled tool invocations. Set only
	// when FinishReason is terminal.
	ToolCalls []types.ToolCall
}

// Provider is a streaming chat-completion backend.
type Provider interface {
	// StreamCompletion opens one model round. The returned channel emits
	// chunks as they arrive and is closed by the implementation when the
	// round ends or ctx is cancelled; callers must drain it. A non-nil
	// error means the stream never opened (bad credentials, malformed
	// request) — after that, failures travel as [FinishError] chunks.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Capabilities describes the underlying model. The result is constant
	// for the lifetime of the Provider.
	Capabilities() types.ModelCapabilities
}

// ToolCallAssembler merges the tool-call fragments a streaming SDK delivers
// into whole calls. Chat-completion APIs stream each call's arguments as a
// sequence of string fragments keyed by call index; the agent's translator
// expects every call fully assembled on the finishing chunk, so providers
// feed fragments here and emit [ToolCallAssembler.Calls] once the stream
// signals completion.
//
// Not safe for concurrent use; each stream owns one assembler.
type ToolCallAssembler struct {
	calls map[int]*types.ToolCall
}

// Add merges one fragment into the call at index. ID and name are sticky:
// the first non-empty value wins and later fragments only extend the
// argument text.
func (a *ToolCallAssembler) Add(index int, id, name, argsFragment string) {
	if a.calls == nil {
		a.calls = make(map[int]*types.ToolCall)
	}
	call, ok := a.calls[index]
	if !ok {
		call = &types.ToolCall{}
		a.calls[index] = call
	}
	if call.ID == "" {
		call.ID = id
	}
	if call.Name == "" {
		call.Name = name
	}
	call.Arguments += argsFragment
}

// Calls returns the assembled calls in index order, or nil when no
// fragments arrived.
func (a *ToolCallAssembler) Calls() []types.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}
