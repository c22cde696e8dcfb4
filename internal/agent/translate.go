package agent

import (
	"strings"

	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
)

// translator turns the provider's chunk stream into the agent's event
// vocabulary. It is a pure accumulator with no I/O so each translation step
// can be tested in isolation.
//
// Text handling: the first chunk carrying text produces a content_start
// followed by a content_delta; later text chunks produce only deltas, each
// carrying both the fragment and the accumulated text.
//
// Tool calls arrive from the provider layer already assembled (fragment
// accumulation happens below this boundary), so a call's start and complete
// events are emitted back to back when the provider surfaces it.
type translator struct {
	contentOpen bool
	full        strings.Builder
	calls       []conversation.ToolCall
	seen        map[string]bool
}

func newTranslator() *translator {
	return &translator{seen: make(map[string]bool)}
}

// feed translates one chunk into zero or more stream events. A chunk with
// FinishReason [llm.FinishError] yields a single terminal error event; the
// caller must stop feeding afterwards.
func (tr *translator) feed(chunk llm.Chunk) []StreamEvent {
	if chunk.FinishReason == llm.FinishError {
		msg := chunk.Text
		if msg == "" {
			msg = "model stream failed"
		}
		return []StreamEvent{errorEvent(msg)}
	}

	var events []StreamEvent

	if chunk.Text != "" {
		if !tr.contentOpen {
			tr.contentOpen = true
			events = append(events, contentStart())
		}
		tr.full.WriteString(chunk.Text)
		events = append(events, contentDelta(chunk.Text, tr.full.String()))
	}

	for _, tc := range chunk.ToolCalls {
		if tr.seen[tc.ID] {
			continue
		}
		tr.seen[tc.ID] = true
		call := conversation.ToolCall{
			ID:     tc.ID,
			Name:   tc.Name,
			Input:  tc.Arguments,
			Status: conversation.StatusRequested,
		}
		tr.calls = append(tr.calls, call)
		events = append(events, toolCallStart(call), toolCallComplete(call))
	}

	return events
}

// finish returns the terminal message_complete event together with the
// round's accumulated text and tool calls.
func (tr *translator) finish() (StreamEvent, string, []conversation.ToolCall) {
	content := tr.full.String()
	return messageComplete(content, tr.calls), content, tr.calls
}
