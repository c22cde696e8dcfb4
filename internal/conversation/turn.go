package conversation

import (
	"fmt"
	"time"
)

// Role identifies who produced a [Turn].
type Role string

const (
	// RoleUser marks a turn containing text typed by the user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn produced by the model. Assistant turns may
	// carry text, tool calls, or both.
	RoleAssistant Role = "assistant"

	// RoleToolResult marks a turn carrying the outcome of a tool execution,
	// answering a tool call from an earlier assistant turn.
	RoleToolResult Role = "tool_result"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult:
		return true
	}
	return false
}

// ToolCallStatus tracks a tool call through its lifecycle. Transitions are
// monotonic: requested → executing → completed | failed. No transition moves
// backward and none skips into a terminal state's sibling.
type ToolCallStatus string

const (
	StatusRequested ToolCallStatus = "requested"
	StatusExecuting ToolCallStatus = "executing"
	StatusCompleted ToolCallStatus = "completed"
	StatusFailed    ToolCallStatus = "failed"
)

// rank maps each status to its position in the lifecycle. Terminal states
// share the same rank so neither can replace the other.
func (s ToolCallStatus) rank() int {
	switch s {
	case StatusRequested:
		return 0
	case StatusExecuting:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step. A status may always re-assert itself (idempotent updates).
func (s ToolCallStatus) CanTransitionTo(next ToolCallStatus) bool {
	if s == next {
		return true
	}
	sr, nr := s.rank(), next.rank()
	if sr < 0 || nr < 0 {
		return false
	}
	// Terminal states never change.
	if sr == 2 {
		return false
	}
	return nr == sr+1
}

// ToolCall is a single invocation request emitted by the model mid-stream.
type ToolCall struct {
	// ID is unique within the conversation, assigned by the model.
	ID string `json:"id"`

	// Name must match a tool registered in the tool registry.
	Name string `json:"name"`

	// Input is the JSON-encoded structured arguments for the tool.
	Input string `json:"input"`

	// Status is the call's lifecycle state.
	Status ToolCallStatus `json:"status"`
}

// Advance moves the call to next, enforcing the monotonic lifecycle.
func (c *ToolCall) Advance(next ToolCallStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("conversation: illegal tool call transition %s → %s for call %q", c.Status, next, c.ID)
	}
	c.Status = next
	return nil
}

// ToolResult is the outcome of executing a [ToolCall], fed back into the
// conversation. Content carries the serialised result or an error description;
// a failed tool never surfaces as a Go error at this layer so the model can
// react conversationally.
type ToolResult struct {
	// ToolUseID references the ToolCall this result answers.
	ToolUseID string `json:"tool_use_id"`

	// Content is the serialised outcome or error description.
	Content string `json:"content"`
}

// Turn is one entry in the conversation log. Turns are immutable once
// appended; the engine finalises an in-progress assistant turn before handing
// it to the store.
type Turn struct {
	// ID is an opaque unique identifier, assigned at append time when empty.
	ID string `json:"id"`

	// Role is who produced this turn.
	Role Role `json:"role"`

	// Text is the plain content. Empty for pure tool-call assistant turns.
	Text string `json:"text"`

	// ToolCalls is the ordered list of tool invocations requested by an
	// assistant turn. Nil for other roles.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolUseID back-references the ToolCall a tool_result turn answers.
	// Empty for other roles.
	ToolUseID string `json:"tool_use_id,omitempty"`

	// Timestamp is the creation time. The store guarantees timestamps are
	// monotonically non-decreasing in log order.
	Timestamp time.Time `json:"timestamp"`
}
