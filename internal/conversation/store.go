// Package conversation implements the ordered turn log that backs a
// SheetPilot chat session and its projection to the model-facing message
// list.
//
// The store is an explicit per-conversation object: the server decides how
// many conversations exist and hands the matching store to the agent engine.
// All methods are safe for concurrent use, but callers must serialise whole
// turns per conversation — interleaving two in-flight agent rounds against
// the same store is not supported.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// ConsistencyError reports an append that would corrupt the log, such as a
// tool result referencing an unknown or already-answered tool call. The log
// is left unchanged when one is raised.
type ConsistencyError struct {
	// Reason describes the violated invariant.
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "conversation: " + e.Reason
}

// Store is an append-only log of conversation turns.
//
// The zero value is NOT usable; create instances with [NewStore].
type Store struct {
	mu    sync.RWMutex
	turns []Turn

	// answered maps tool call IDs from appended assistant turns to whether a
	// tool_result turn has already answered them.
	answered map[string]bool

	// lastTS is the timestamp of the most recently appended turn, used to
	// keep timestamps monotonically non-decreasing.
	lastTS time.Time
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{answered: make(map[string]bool)}
}

// Append adds a turn to the log, assigning ID and Timestamp when absent.
// It returns the stored turn.
//
// Append fails only with a [*ConsistencyError], raised when:
//   - the turn's role is not recognised;
//   - a tool_result turn has an empty ToolUseID, references a tool call that
//     no earlier assistant turn emitted, or references one that has already
//     been answered.
//
// On failure the log is left exactly as it was.
func (s *Store) Append(t Turn) (Turn, error) {
	if !t.Role.IsValid() {
		return Turn{}, &ConsistencyError{Reason: fmt.Sprintf("unknown role %q", t.Role)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Role == RoleToolResult {
		if t.ToolUseID == "" {
			return Turn{}, &ConsistencyError{Reason: "tool_result turn has no tool_use_id"}
		}
		done, known := s.answered[t.ToolUseID]
		if !known {
			return Turn{}, &ConsistencyError{Reason: fmt.Sprintf("tool_result references unknown tool call %q", t.ToolUseID)}
		}
		if done {
			return Turn{}, &ConsistencyError{Reason: fmt.Sprintf("tool call %q has already been answered", t.ToolUseID)}
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	// Clamp so the log stays chronologically ordered even if the wall clock
	// steps backwards between appends.
	if t.Timestamp.Before(s.lastTS) {
		t.Timestamp = s.lastTS
	}
	s.lastTS = t.Timestamp

	// Defensive copy so later caller mutations cannot reach stored state.
	if t.ToolCalls != nil {
		calls := make([]ToolCall, len(t.ToolCalls))
		copy(calls, t.ToolCalls)
		t.ToolCalls = calls
	}

	s.turns = append(s.turns, t)

	switch t.Role {
	case RoleAssistant:
		for _, call := range t.ToolCalls {
			if _, exists := s.answered[call.ID]; !exists {
				s.answered[call.ID] = false
			}
		}
	case RoleToolResult:
		s.answered[t.ToolUseID] = true
	}

	return t, nil
}

// Snapshot returns an ordered copy of all turns. The caller may read it
// freely; mutations never reach the store.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	for i := range out {
		if out[i].ToolCalls != nil {
			calls := make([]ToolCall, len(out[i].ToolCalls))
			copy(calls, out[i].ToolCalls)
			out[i].ToolCalls = calls
		}
	}
	return out
}

// Len returns the number of turns in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear empties the log. Irreversible; used to start a fresh session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.answered = make(map[string]bool)
	s.lastTS = time.Time{}
}

// PendingToolCalls returns the tool calls from appended assistant turns that
// no tool_result turn has answered yet, in emission order.
func (s *Store) PendingToolCalls() []ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []ToolCall
	for _, t := range s.turns {
		if t.Role != RoleAssistant {
			continue
		}
		for _, call := range t.ToolCalls {
			if !s.answered[call.ID] {
				pending = append(pending, call)
			}
		}
	}
	return pending
}

// ProjectForModel maps the turn log to the message list a model call
// consumes.
//
// User and assistant turns map directly to their roles; assistant tool calls
// are carried along so the provider can round-trip them. Tool_result turns
// map to "tool"-role messages carrying the ToolCallID — the provider layer
// translates that into each vendor's tool-result convention.
//
// Turns whose text is empty or whitespace-only AND that carry no tool calls
// and answer no tool call are dropped from the projection. This is a
// deliberate filter, not a failure: blank turns add nothing to the model's
// context and some providers reject empty content blocks.
func (s *Store) ProjectForModel() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]types.Message, 0, len(s.turns))
	for _, t := range s.turns {
		blank := strings.TrimSpace(t.Text) == ""

		switch t.Role {
		case RoleUser:
			if blank {
				continue
			}
			msgs = append(msgs, types.Message{Role: "user", Content: t.Text})

		case RoleAssistant:
			if blank && len(t.ToolCalls) == 0 {
				continue
			}
			m := types.Message{Role: "assistant", Content: t.Text}
			for _, call := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, types.ToolCall{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Input,
				})
			}
			msgs = append(msgs, m)

		case RoleToolResult:
			msgs = append(msgs, types.Message{
				Role:       "tool",
				Content:    t.Text,
				ToolCallID: t.ToolUseID,
			})
		}
	}
	return msgs
}
