package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/internal/observe"
)

// Executor resolves a batch of model-requested tool calls against a
// [Registry] and turns every outcome — success, schema mismatch, handler
// error, unknown tool — into reportable [conversation.ToolResult] content.
// Nothing an individual tool does can fail the batch: the agent loop reacts
// to errors conversationally, it never crashes on them.
type Executor struct {
	registry *Registry
	metrics  *observe.Metrics // may be nil in tests
}

// NewExecutor creates an Executor backed by registry. metrics may be nil.
func NewExecutor(registry *Registry, metrics *observe.Metrics) *Executor {
	return &Executor{registry: registry, metrics: metrics}
}

// ExecuteAll runs every call in order and returns exactly one result per
// call, in input order. Execution is sequential: spreadsheet edits carry
// ordering significance, and the spreadsheet is assumed single-writer.
//
// ctx cancellation stops the batch early; calls not yet started are reported
// as cancelled rather than silently dropped, preserving the one-result-per-
// call contract.
func (e *Executor) ExecuteAll(ctx context.Context, calls []conversation.ToolCall) []conversation.ToolResult {
	results := make([]conversation.ToolResult, 0, len(calls))

	for i := range calls {
		call := &calls[i]

		if err := ctx.Err(); err != nil {
			_ = call.Advance(conversation.StatusExecuting)
			_ = call.Advance(conversation.StatusFailed)
			results = append(results, conversation.ToolResult{
				ToolUseID: call.ID,
				Content:   fmt.Sprintf("Error executing %s: %v", call.Name, err),
			})
			continue
		}

		results = append(results, e.executeOne(ctx, call))
	}

	return results
}

// executeOne runs a single call, advancing its status through the lifecycle
// and converting every failure mode into result content.
func (e *Executor) executeOne(ctx context.Context, call *conversation.ToolCall) conversation.ToolResult {
	_ = call.Advance(conversation.StatusExecuting)

	start := time.Now()
	content, failed := e.run(ctx, call)
	duration := time.Since(start)

	if failed {
		_ = call.Advance(conversation.StatusFailed)
	} else {
		_ = call.Advance(conversation.StatusCompleted)
	}

	if e.metrics != nil {
		e.metrics.RecordToolExecution(ctx, call.Name, duration, !failed)
	}

	slog.Debug("tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"failed", failed,
		"duration", duration,
	)

	return conversation.ToolResult{ToolUseID: call.ID, Content: content}
}

// run resolves and invokes the tool, returning the result content and
// whether the call failed.
func (e *Executor) run(ctx context.Context, call *conversation.ToolCall) (content string, failed bool) {
	tool, ok := e.registry.Lookup(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q — only the declared tools are available", call.Name), true
	}

	if err := e.registry.ValidateInput(call.Name, call.Input); err != nil {
		return fmt.Sprintf("Error executing %s: invalid input: %v", call.Name, err), true
	}

	out, err := tool.Handler(ctx, call.Input)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", call.Name, err), true
	}
	return out, false
}
