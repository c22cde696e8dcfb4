// Package httpapi exposes the agent over HTTP.
//
// The main surface is POST /chatAgent: the request carries the user message
// and/or tool results, and the response is a chunked stream of
// newline-delimited JSON events ending with a message_complete (or error)
// event. A response ending with requiresToolExecution=true expects the
// client to execute the listed tool calls and POST their results back to the
// same endpoint; the conversation store correlates the continuation, no
// token travels on the wire. Clients without tools of their own POST the
// calls to /executeTools instead, which runs them against the server-side
// workbook registry and returns the results to relay.
//
// GET /chat is a simpler text-streaming endpoint without tool calling, and
// /history exposes the conversation log for inspection and reset.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetpilot/sheetpilot/internal/agent"
	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/internal/health"
	"github.com/sheetpilot/sheetpilot/internal/observe"
	"github.com/sheetpilot/sheetpilot/internal/tools"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// doneSentinel terminates the plain-text /chat stream.
const doneSentinel = "[DONE]"

// chatAgentRequest is the body of POST /chatAgent.
type chatAgentRequest struct {
	// Message is the user's input. Optional on continuation requests.
	Message string `json:"message"`

	// ToolResults answer the tool calls of the previous round.
	ToolResults []conversation.ToolResult `json:"toolResults,omitempty"`

	// History, when present, runs the turn against the client's own
	// transcript instead of the server-side conversation.
	History []historyMessage `json:"history,omitempty"`
}

// historyMessage is a client-supplied transcript entry.
type historyMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// errorBody is the JSON error shape for non-streaming failures.
type errorBody struct {
	Error string `json:"error"`
}

// Server routes HTTP requests to the agent engine.
//
// The zero value is NOT usable; create instances with [NewServer].
type Server struct {
	engine   *agent.Engine
	executor *tools.Executor
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewServer creates a server around engine. executor may be nil to disable
// /executeTools; healthHandler may be nil to skip probe routes; metrics may
// be nil to disable instrumentation.
func NewServer(engine *agent.Engine, executor *tools.Executor, healthHandler *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, executor: executor, health: healthHandler, metrics: metrics, log: log}
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatAgent", s.handleChatAgent)
	if s.executor != nil {
		mux.HandleFunc("POST /executeTools", s.handleExecuteTools)
	}
	mux.HandleFunc("GET /chat", s.handleChat)
	mux.HandleFunc("GET /history", s.handleGetHistory)
	mux.HandleFunc("DELETE /history", s.handleClearHistory)
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// handleChatAgent runs one agent round and streams its events as NDJSON.
func (s *Server) handleChatAgent(w http.ResponseWriter, r *http.Request) {
	var req chatAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	turn := agent.TurnRequest{
		Message:     req.Message,
		ToolResults: req.ToolResults,
	}
	if req.History != nil {
		turn.History = projectHistory(req.History)
	}

	events, err := s.engine.RunTurn(r.Context(), turn)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Client hung up; drain so the engine can finish the round.
			s.log.Debug("chatAgent stream write failed", "error", err)
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// executeToolsRequest is the body of POST /executeTools.
type executeToolsRequest struct {
	ToolCalls []conversation.ToolCall `json:"toolCalls"`
}

// executeToolsResponse answers with one result per call, in input order.
type executeToolsResponse struct {
	ToolResults []conversation.ToolResult `json:"toolResults"`
}

// handleExecuteTools runs a batch of tool calls against the server-side
// registry. It closes the loop for clients without local tools: the calls
// from a requiresToolExecution round come here, and the results go back to
// /chatAgent as the continuation.
func (s *Server) handleExecuteTools(w http.ResponseWriter, r *http.Request) {
	var req executeToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.ToolCalls) == 0 {
		writeError(w, http.StatusBadRequest, "request must carry at least one tool call")
		return
	}
	for i := range req.ToolCalls {
		if req.ToolCalls[i].Status == "" {
			req.ToolCalls[i].Status = conversation.StatusRequested
		}
	}

	results := s.executor.ExecuteAll(r.Context(), req.ToolCalls)
	writeJSON(w, http.StatusOK, executeToolsResponse{ToolResults: results})
}

// handleChat streams a plain text answer to ?prompt=..., chunk by chunk,
// terminated by the [DONE] sentinel. No tools are offered to the model.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "missing prompt query parameter")
		return
	}

	events, err := s.engine.RunTurn(r.Context(), agent.TurnRequest{
		Message:      prompt,
		DisableTools: true,
	})
	if err != nil {
		s.writeTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for ev := range events {
		switch ev.Type {
		case agent.EventContentDelta:
			if _, err := fmt.Fprint(w, ev.Text); err != nil {
				for range events {
				}
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case agent.EventError:
			fmt.Fprintf(w, "\nError: %s\n", ev.Error)
		}
	}
	fmt.Fprint(w, doneSentinel)
	if flusher != nil {
		flusher.Flush()
	}
}

// handleGetHistory returns the full conversation log.
func (s *Server) handleGetHistory(w http.ResponseWriter, _ *http.Request) {
	turns := s.engine.Store().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"history": turns,
		"count":   len(turns),
	})
}

// handleClearHistory resets the conversation.
func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.engine.Store().Clear()
	s.log.Info("conversation history cleared")
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// writeTurnError maps engine errors to HTTP status codes.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	var ce *conversation.ConsistencyError
	switch {
	case errors.Is(err, agent.ErrEmptyTurn):
		writeError(w, http.StatusBadRequest, "request must carry a message or tool results")
	case errors.As(err, &ce):
		writeError(w, http.StatusBadRequest, ce.Error())
	case errors.Is(err, agent.ErrTurnInProgress):
		writeError(w, http.StatusConflict, "a turn is already in progress")
	default:
		s.log.Error("agent turn failed to start", "error", err)
		writeError(w, http.StatusBadGateway, "model backend unavailable")
	}
}

// projectHistory maps client transcript entries to model messages.
func projectHistory(entries []historyMessage) []types.Message {
	out := make([]types.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.Message{
			Role:       e.Role,
			Content:    e.Content,
			ToolCallID: e.ToolCallID,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
