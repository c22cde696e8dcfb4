// Package agent implements the conversational rounds of the SheetPilot
// copilot: it takes user input and tool results, drives one streaming model
// call, and emits a typed event stream that transports can serialise however
// they like.
//
// An exchange may span several rounds. A round ending with
// requiresToolExecution=true expects the caller to execute the listed tool
// calls and start the next round by submitting their results; the engine
// correlates the continuation through the conversation store rather than
// through any token on the wire.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/internal/observe"
	"github.com/sheetpilot/sheetpilot/internal/tools"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// ErrTurnInProgress is returned by RunTurn while a previous turn on the same
// engine has not finished streaming. Concurrent rounds against one
// conversation would interleave appends, so the engine admits one at a time.
var ErrTurnInProgress = errors.New("agent: a turn is already in progress")

// ErrEmptyTurn is returned when a turn request carries neither a user
// message nor tool results.
var ErrEmptyTurn = errors.New("agent: turn carries neither a message nor tool results")

// TurnRequest is one submission to the engine.
type TurnRequest struct {
	// Message is the user's input text. May be empty on a continuation turn
	// that only delivers tool results.
	Message string

	// ToolResults answer tool calls from the preceding assistant round. They
	// are recorded in the conversation before the model is called again.
	ToolResults []conversation.ToolResult

	// History, when non-nil, replaces the engine's conversation store for
	// this turn: the round runs against exactly these messages and nothing
	// is read from or written to the store. Used by clients that own their
	// transcript.
	History []types.Message

	// DisableTools withholds the tool registry from the model for this
	// turn, forcing a plain text answer.
	DisableTools bool
}

// Config carries the engine's model-call parameters.
type Config struct {
	// SystemPrompt is injected ahead of the conversation on every round.
	SystemPrompt string

	// Temperature is passed through to the provider.
	Temperature float64

	// MaxTokens caps completion length per round. Zero means provider
	// default.
	MaxTokens int
}

// Engine drives conversational rounds against one conversation store.
//
// The zero value is NOT usable; create instances with [NewEngine].
type Engine struct {
	provider llm.Provider
	registry *tools.Registry
	store    *conversation.Store
	cfg      Config
	metrics  *observe.Metrics
	log      *slog.Logger

	// mu admits one in-flight turn. TryLock instead of Lock so a second
	// caller gets ErrTurnInProgress rather than queueing behind a stream.
	mu sync.Mutex
}

// NewEngine creates an engine bound to the given provider, tool registry and
// conversation store. metrics may be nil to disable instrumentation.
func NewEngine(provider llm.Provider, registry *tools.Registry, store *conversation.Store, cfg Config, metrics *observe.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		provider: provider,
		registry: registry,
		store:    store,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
	}
}

// Store exposes the engine's conversation store for history endpoints.
func (e *Engine) Store() *conversation.Store {
	return e.store
}

// SetConfig replaces the model-call parameters on a live engine, used when
// the configuration file is reloaded. It waits for any in-flight turn so a
// round never mixes old and new parameters.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// RunTurn records the request in the conversation, runs one streaming model
// round, and returns the event channel for it. The channel is closed after
// the terminal event (message_complete or error).
//
// Errors detected before the stream opens — an empty turn, a tool result
// violating conversation consistency, a concurrently running turn, or a
// provider refusing the request — are returned directly and nothing is
// streamed. Once the channel is returned, all failures travel on it as error
// events, and a failed round leaves no assistant turn in the store.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.ToolResults) == 0 {
		return nil, ErrEmptyTurn
	}
	if !e.mu.TryLock() {
		return nil, ErrTurnInProgress
	}

	messages, err := e.prepare(req)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	var defs []types.ToolDefinition
	if !req.DisableTools {
		defs = e.registry.Definitions()
	}
	chunks, err := e.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		Tools:        defs,
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
		SystemPrompt: e.cfg.SystemPrompt,
	})
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("agent: start model stream: %w", err)
	}

	out := make(chan StreamEvent, 16)
	go e.pump(ctx, chunks, out, req.History != nil)
	return out, nil
}

// prepare records tool results and the user message, then builds the message
// list for the model call. In external-history mode nothing touches the
// store.
func (e *Engine) prepare(req TurnRequest) ([]types.Message, error) {
	if req.History != nil {
		messages := make([]types.Message, len(req.History))
		copy(messages, req.History)
		if strings.TrimSpace(req.Message) != "" {
			messages = append(messages, types.Message{Role: "user", Content: req.Message})
		}
		return messages, nil
	}

	for _, res := range req.ToolResults {
		_, err := e.store.Append(conversation.Turn{
			Role:      conversation.RoleToolResult,
			Text:      res.Content,
			ToolUseID: res.ToolUseID,
		})
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(req.Message) != "" {
		if _, err := e.store.Append(conversation.Turn{Role: conversation.RoleUser, Text: req.Message}); err != nil {
			return nil, err
		}
	}
	return e.store.ProjectForModel(), nil
}

// pump drains the provider stream, translates chunks to events, and commits
// the assistant turn once the round ends cleanly. It owns the engine lock
// and the output channel.
func (e *Engine) pump(ctx context.Context, chunks <-chan llm.Chunk, out chan<- StreamEvent, external bool) {
	// Release the lock before the channel closes so a caller that drained
	// the stream can immediately start the next turn.
	defer close(out)
	defer e.mu.Unlock()

	e.metrics.AddActiveTurns(ctx, 1)
	defer e.metrics.AddActiveTurns(ctx, -1)
	start := time.Now()

	tr := newTranslator()
	for chunk := range chunks {
		for _, ev := range tr.feed(chunk) {
			if ev.Type == EventError {
				// The round is void: nothing is committed so the
				// conversation stays consistent for a retry.
				e.log.Warn("model stream failed", "error", ev.Error)
				e.metrics.RecordModelRound(ctx, time.Since(start), false)
				e.emit(ctx, out, ev)
				return
			}
			if !e.emit(ctx, out, ev) {
				e.metrics.RecordModelRound(ctx, time.Since(start), false)
				return
			}
		}
	}

	if err := ctx.Err(); err != nil {
		e.metrics.RecordModelRound(ctx, time.Since(start), false)
		e.emit(ctx, out, errorEvent(err.Error()))
		return
	}

	final, content, calls := tr.finish()

	if !external {
		_, err := e.store.Append(conversation.Turn{
			Role:      conversation.RoleAssistant,
			Text:      content,
			ToolCalls: calls,
		})
		if err != nil {
			e.log.Error("failed to record assistant turn", "error", err)
			e.metrics.RecordModelRound(ctx, time.Since(start), false)
			e.emit(ctx, out, errorEvent("failed to record assistant turn: "+err.Error()))
			return
		}
	}

	e.metrics.RecordModelRound(ctx, time.Since(start), true)
	e.log.Debug("model round complete",
		"content_len", len(content),
		"tool_calls", len(calls),
	)
	e.emit(ctx, out, final)
}

// emit sends ev unless ctx is done. Reports whether the event was delivered.
func (e *Engine) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	e.metrics.CountStreamEvent(ctx, ev.Type)
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
