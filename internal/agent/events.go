package agent

import (
	"github.com/sheetpilot/sheetpilot/internal/conversation"
)

// Stream event types, in the order a successful round emits them:
// content_start precedes the first content_delta; tool_call_start precedes
// the matching tool_call_complete; message_complete is always the final
// event of a round that did not fail. An error event replaces everything
// after the point of failure and is itself terminal.
const (
	EventContentStart     = "content_start"
	EventContentDelta     = "content_delta"
	EventToolCallStart    = "tool_call_start"
	EventToolCallComplete = "tool_call_complete"
	EventMessageComplete  = "message_complete"
	EventError            = "error"

	// EventToolCallDelta carries incremental tool-call input. Providers
	// deliver finalised inputs, so the server emits start and complete back
	// to back and never sends this type; clients should still tolerate it.
	EventToolCallDelta = "tool_call_delta"
)

// StreamEvent is one frame of the agent's event stream. Which fields are
// populated depends on Type; unset fields are omitted from the wire format.
type StreamEvent struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Text is the incremental fragment of a content_delta.
	Text string `json:"text,omitempty"`

	// FullText is the accumulated assistant text so far, carried on every
	// content_delta so consumers can re-render without splicing fragments.
	FullText string `json:"fullText,omitempty"`

	// ToolCall is the call a tool_call_start or tool_call_complete refers
	// to. On start the input may still be partial; on complete it is final.
	ToolCall *conversation.ToolCall `json:"tool_call,omitempty"`

	// Content is the final assistant text, set on message_complete.
	Content string `json:"content,omitempty"`

	// ToolCalls lists every finalised call of the round, set on
	// message_complete.
	ToolCalls []conversation.ToolCall `json:"tool_calls,omitempty"`

	// RequiresToolExecution tells the client whether it must execute the
	// listed tool calls and post their results to continue the exchange.
	// Present exactly on message_complete.
	RequiresToolExecution *bool `json:"requiresToolExecution,omitempty"`

	// Error describes why the round failed. Present exactly on error
	// events.
	Error string `json:"error,omitempty"`
}

// contentStart returns the event opening the assistant's text content.
func contentStart() StreamEvent {
	return StreamEvent{Type: EventContentStart}
}

// contentDelta returns an incremental text event.
func contentDelta(text, fullText string) StreamEvent {
	return StreamEvent{Type: EventContentDelta, Text: text, FullText: fullText}
}

// toolCallStart returns the event announcing call before its input is final.
func toolCallStart(call conversation.ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCallStart, ToolCall: &call}
}

// toolCallComplete returns the event carrying call with finalised input.
func toolCallComplete(call conversation.ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCallComplete, ToolCall: &call}
}

// messageComplete returns the terminal event of a successful round.
func messageComplete(content string, calls []conversation.ToolCall) StreamEvent {
	requires := len(calls) > 0
	return StreamEvent{
		Type:                  EventMessageComplete,
		Content:               content,
		ToolCalls:             calls,
		RequiresToolExecution: &requires,
	}
}

// errorEvent returns the terminal event of a failed round.
func errorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Error: msg}
}
