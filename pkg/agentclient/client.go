// Package agentclient is a Go client for the SheetPilot agent API.
//
// It reads the newline-delimited JSON event stream of POST /chatAgent,
// dispatches events to caller-supplied handlers, and drives the
// tool-execution loop: when a round ends with requiresToolExecution=true the
// client executes the listed tool calls — through a caller-supplied
// [ToolRunner], or against the server's own workbook via POST /executeTools
// when no runner is given — and posts the results back until the agent
// produces a final answer.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxEventSize bounds a single NDJSON line. Events carry full accumulated
// text, so lines can grow well past bufio's default.
const maxEventSize = 4 << 20

// maxToolRounds bounds the tool-execution loop so a model that keeps
// requesting tools cannot spin forever.
const maxToolRounds = 16

// ErrTooManyToolRounds is returned when the agent still requires tool
// execution after maxToolRounds continuations.
var ErrTooManyToolRounds = errors.New("agentclient: too many consecutive tool rounds")

// ToolCall mirrors the tool call object on the wire.
type ToolCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
	Status string `json:"status"`
}

// ToolResult is posted back to answer a ToolCall.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

// Event is one frame of the agent stream.
type Event struct {
	Type                  string     `json:"type"`
	Text                  string     `json:"text,omitempty"`
	FullText              string     `json:"fullText,omitempty"`
	ToolCall              *ToolCall  `json:"tool_call,omitempty"`
	Content               string     `json:"content,omitempty"`
	ToolCalls             []ToolCall `json:"tool_calls,omitempty"`
	RequiresToolExecution *bool      `json:"requiresToolExecution,omitempty"`
	Error                 string     `json:"error,omitempty"`
}

// Handlers receives stream events as they arrive. Nil fields are skipped.
type Handlers struct {
	OnContentStart     func()
	OnContentDelta     func(text, fullText string)
	OnToolCallStart    func(call ToolCall)
	OnToolCallComplete func(call ToolCall)
	OnMessageComplete  func(content string, calls []ToolCall, requiresToolExecution bool)
}

// ToolRunner executes one tool call on the client side. The returned string
// becomes the tool result content; a non-nil error is converted into an
// error-text result so the agent can react conversationally.
type ToolRunner func(ctx context.Context, call ToolCall) (string, error)

// Final is the terminal state of a completed exchange.
type Final struct {
	// Content is the assistant's final text answer.
	Content string

	// Rounds is the number of model rounds the exchange took.
	Rounds int
}

// Client talks to a SheetPilot server.
//
// The zero value is NOT usable; create instances with [New].
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
// httpClient may be nil to use [http.DefaultClient]; streaming responses can
// be long-lived, so the client's timeout should be zero or generous.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// turnRequest is the body of POST /chatAgent.
type turnRequest struct {
	Message     string       `json:"message,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// apiError is the server's non-streaming error shape.
type apiError struct {
	Error string `json:"error"`
}

// Stream runs one agent round and dispatches its events to h. It returns the
// terminal message_complete event, or an error when the round fails — either
// at the HTTP level or through a terminal error event.
func (c *Client) Stream(ctx context.Context, message string, results []ToolResult, h Handlers) (*Event, error) {
	body, err := json.Marshal(turnRequest{Message: message, ToolResults: results})
	if err != nil {
		return nil, fmt.Errorf("agentclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chatAgent", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&ae); err == nil && ae.Error != "" {
			return nil, fmt.Errorf("agentclient: server returned %d: %s", resp.StatusCode, ae.Error)
		}
		return nil, fmt.Errorf("agentclient: server returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var final *Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("agentclient: malformed event %q: %w", line, err)
		}

		switch ev.Type {
		case "content_start":
			if h.OnContentStart != nil {
				h.OnContentStart()
			}
		case "content_delta":
			if h.OnContentDelta != nil {
				h.OnContentDelta(ev.Text, ev.FullText)
			}
		case "tool_call_start":
			if h.OnToolCallStart != nil && ev.ToolCall != nil {
				h.OnToolCallStart(*ev.ToolCall)
			}
		case "tool_call_complete":
			if h.OnToolCallComplete != nil && ev.ToolCall != nil {
				h.OnToolCallComplete(*ev.ToolCall)
			}
		case "message_complete":
			final = &ev
			if h.OnMessageComplete != nil {
				requires := ev.RequiresToolExecution != nil && *ev.RequiresToolExecution
				h.OnMessageComplete(ev.Content, ev.ToolCalls, requires)
			}
		case "error":
			return nil, fmt.Errorf("agentclient: agent error: %s", ev.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("agentclient: read stream: %w", err)
	}
	if final == nil {
		return nil, errors.New("agentclient: stream ended without message_complete")
	}
	return final, nil
}

// Chat runs a full exchange: it submits message, executes any requested
// tool calls, posts the results back, and repeats until the agent answers
// with text. A nil runner sends the calls to the server's /executeTools
// endpoint, which runs them against the server-side workbook.
func (c *Client) Chat(ctx context.Context, message string, runner ToolRunner, h Handlers) (*Final, error) {
	var results []ToolResult
	msg := message

	for round := 1; round <= maxToolRounds; round++ {
		final, err := c.Stream(ctx, msg, results, h)
		if err != nil {
			return nil, err
		}

		requires := final.RequiresToolExecution != nil && *final.RequiresToolExecution
		if !requires {
			return &Final{Content: final.Content, Rounds: round}, nil
		}

		if runner == nil {
			results, err = c.ExecuteTools(ctx, final.ToolCalls)
			if err != nil {
				return nil, err
			}
		} else {
			// Execute every call, in order. Failures become result content
			// so the agent can recover conversationally.
			results = results[:0]
			for _, call := range final.ToolCalls {
				content, err := runner(ctx, call)
				if err != nil {
					content = fmt.Sprintf("Error executing %s: %v", call.Name, err)
				}
				results = append(results, ToolResult{ToolUseID: call.ID, Content: content})
			}
		}
		msg = ""
	}
	return nil, ErrTooManyToolRounds
}

// executeToolsRequest is the body of POST /executeTools.
type executeToolsRequest struct {
	ToolCalls []ToolCall `json:"toolCalls"`
}

// executeToolsResponse carries one result per call, in input order.
type executeToolsResponse struct {
	ToolResults []ToolResult `json:"toolResults"`
}

// ExecuteTools runs calls against the server-side tool registry and returns
// the results, ready to post back through [Client.Stream].
func (c *Client) ExecuteTools(ctx context.Context, calls []ToolCall) ([]ToolResult, error) {
	body, err := json.Marshal(executeToolsRequest{ToolCalls: calls})
	if err != nil {
		return nil, fmt.Errorf("agentclient: encode tool calls: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/executeTools", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agentclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&ae); err == nil && ae.Error != "" {
			return nil, fmt.Errorf("agentclient: server returned %d: %s", resp.StatusCode, ae.Error)
		}
		return nil, fmt.Errorf("agentclient: server returned %d", resp.StatusCode)
	}

	var out executeToolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("agentclient: decode tool results: %w", err)
	}
	return out.ToolResults, nil
}

// ClearHistory resets the server-side conversation.
func (c *Client) ClearHistory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/history", nil)
	if err != nil {
		return fmt.Errorf("agentclient: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agentclient: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agentclient: server returned %d", resp.StatusCode)
	}
	return nil
}
