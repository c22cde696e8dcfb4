package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sheetpilot/sheetpilot/internal/agent"
	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/internal/sheet"
	"github.com/sheetpilot/sheetpilot/internal/tools"
	"github.com/sheetpilot/sheetpilot/internal/tools/sheettools"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm/mock"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

func newTestServer(t *testing.T, p llm.Provider) (*httptest.Server, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore()
	eng := agent.NewEngine(p, tools.NewRegistry(), store, agent.Config{}, nil, nil)
	srv := httptest.NewServer(NewServer(eng, nil, nil, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

// decodeEvents parses an NDJSON response body into stream events.
func decodeEvents(t *testing.T, body *bufio.Scanner) []agent.StreamEvent {
	t.Helper()
	var events []agent.StreamEvent
	for body.Scan() {
		line := strings.TrimSpace(body.Text())
		if line == "" {
			continue
		}
		var ev agent.StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func postChatAgent(t *testing.T, srv *httptest.Server, body string) (*http.Response, []agent.StreamEvent) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/chatAgent", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /chatAgent: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	return resp, decodeEvents(t, bufio.NewScanner(resp.Body))
}

func TestChatAgentSimpleExchange(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello "},
		{Text: "there."},
		{FinishReason: "stop"},
	}}
	srv, store := newTestServer(t, p)

	resp, events := postChatAgent(t, srv, `{"message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Errorf("Content-Type = %q, want NDJSON", ct)
	}

	if len(events) == 0 {
		t.Fatal("no events streamed")
	}
	final := events[len(events)-1]
	if final.Type != agent.EventMessageComplete {
		t.Fatalf("last event type = %q, want message_complete", final.Type)
	}
	if final.Content != "Hello there." {
		t.Errorf("final content = %q, want %q", final.Content, "Hello there.")
	}
	if final.RequiresToolExecution == nil || *final.RequiresToolExecution {
		t.Error("simple exchange must not require tool execution")
	}
	if store.Len() != 2 {
		t.Errorf("store has %d turns, want 2", store.Len())
	}
}

func TestChatAgentToolRoundTrip(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{FinishReason: "tool_calls", ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "edit_cells", Arguments: `{"sheetName":"Sheet1","data":"{\"A1\":{\"value\":5}}"}`},
		}},
	}}
	srv, _ := newTestServer(t, p)

	_, events := postChatAgent(t, srv, `{"message":"set A1 to 5"}`)
	final := events[len(events)-1]
	if final.RequiresToolExecution == nil || !*final.RequiresToolExecution {
		t.Fatal("tool round must require tool execution")
	}
	if len(final.ToolCalls) != 1 || final.ToolCalls[0].Name != "edit_cells" {
		t.Fatalf("tool calls = %+v, want edit_cells", final.ToolCalls)
	}

	// Continuation: tool results only, no message.
	p.StreamChunks = []llm.Chunk{{Text: "Done, A1 is now 5.", FinishReason: "stop"}}
	resp, events := postChatAgent(t, srv, `{"toolResults":[{"tool_use_id":"call_1","content":"Successfully updated cells A1 on sheet Sheet1"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("continuation status = %d, want 200", resp.StatusCode)
	}
	final = events[len(events)-1]
	if final.Type != agent.EventMessageComplete || final.Content != "Done, A1 is now 5." {
		t.Fatalf("continuation final = %+v", final)
	}
}

func TestChatAgentRejectsEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t, &mock.Provider{})

	resp, _ := postChatAgent(t, srv, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatAgentRejectsStaleToolResult(t *testing.T) {
	srv, _ := newTestServer(t, &mock.Provider{})

	resp, _ := postChatAgent(t, srv, `{"toolResults":[{"tool_use_id":"ghost","content":"x"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatAgentStreamError(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "part"},
		{FinishReason: "error", Text: "backend down"},
	}}
	srv, store := newTestServer(t, p)

	resp, events := postChatAgent(t, srv, `{"message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (error travels in-stream)", resp.StatusCode)
	}
	final := events[len(events)-1]
	if final.Type != agent.EventError || final.Error != "backend down" {
		t.Fatalf("final = %+v, want error event", final)
	}
	// Only the user turn survives a failed round.
	if store.Len() != 1 {
		t.Errorf("store has %d turns, want 1", store.Len())
	}
}

func TestChatPlainStream(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "The answer "},
		{Text: "is 4."},
		{FinishReason: "stop"},
	}}
	srv, _ := newTestServer(t, p)

	resp, err := http.Get(srv.URL + "/chat?prompt=" + "what+is+2%2B2")
	if err != nil {
		t.Fatalf("GET /chat: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	body := sb.String()
	if !strings.HasSuffix(body, "[DONE]") {
		t.Errorf("body = %q, want [DONE] suffix", body)
	}
	if !strings.Contains(body, "The answer is 4.") {
		t.Errorf("body = %q, want the streamed answer", body)
	}

	// The plain endpoint must withhold tools from the model.
	if len(p.StreamCalls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(p.StreamCalls))
	}
	if len(p.StreamCalls[0].Req.Tools) != 0 {
		t.Errorf("plain chat offered %d tools, want 0", len(p.StreamCalls[0].Req.Tools))
	}
}

func TestChatMissingPrompt(t *testing.T) {
	srv, _ := newTestServer(t, &mock.Provider{})

	resp, err := http.Get(srv.URL + "/chat")
	if err != nil {
		t.Fatalf("GET /chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "hi", FinishReason: "stop"}}}
	srv, _ := newTestServer(t, p)

	postChatAgent(t, srv, `{"message":"hello"}`)

	resp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer resp.Body.Close()

	var hist struct {
		History []conversation.Turn `json:"history"`
		Count   int                 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist.Count != 2 || len(hist.History) != 2 {
		t.Fatalf("history count = %d (%d turns), want 2", hist.Count, len(hist.History))
	}
	if hist.History[0].Role != conversation.RoleUser {
		t.Errorf("first turn role = %q, want user", hist.History[0].Role)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/history", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /history: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d, want 200", delResp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history after clear: %v", err)
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if hist.Count != 0 {
		t.Errorf("history count after clear = %d, want 0", hist.Count)
	}
}

func TestChatAgentExternalHistory(t *testing.T) {
	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}}}
	srv, store := newTestServer(t, p)

	body := `{"message":"next","history":[{"role":"user","content":"before"},{"role":"assistant","content":"sure"}]}`
	resp, events := postChatAgent(t, srv, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if events[len(events)-1].Type != agent.EventMessageComplete {
		t.Fatalf("last event = %q, want message_complete", events[len(events)-1].Type)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d turns in external-history mode, want 0", store.Len())
	}
	if got := len(p.StreamCalls[0].Req.Messages); got != 3 {
		t.Errorf("model saw %d messages, want 3", got)
	}
}

// newToolServer wires a real workbook behind the sheet tools and an
// executor, mirroring the assembled binary.
func newToolServer(t *testing.T, p llm.Provider) (*httptest.Server, *sheet.Workbook) {
	t.Helper()
	wb := sheet.NewWorkbook()
	reg := tools.NewRegistry()
	if err := reg.RegisterAll(sheettools.Tools(wb)); err != nil {
		t.Fatalf("register sheet tools: %v", err)
	}
	eng := agent.NewEngine(p, reg, conversation.NewStore(), agent.Config{}, nil, nil)
	srv := httptest.NewServer(NewServer(eng, tools.NewExecutor(reg, nil), nil, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, wb
}

func postExecuteTools(t *testing.T, srv *httptest.Server, body string) (*http.Response, []conversation.ToolResult) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/executeTools", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /executeTools: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var out struct {
		ToolResults []conversation.ToolResult `json:"toolResults"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode tool results: %v", err)
	}
	return resp, out.ToolResults
}

func TestExecuteToolsEditsWorkbook(t *testing.T) {
	srv, wb := newToolServer(t, &mock.Provider{})

	body := `{"toolCalls":[{"id":"call_1","name":"edit_cells","input":"{\"sheetName\":\"Sheet1\",\"data\":\"{\\\"A1\\\":{\\\"value\\\":42}}\"}"}]}`
	resp, results := postExecuteTools(t, srv, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ToolUseID != "call_1" {
		t.Errorf("result tool_use_id = %q, want call_1", results[0].ToolUseID)
	}
	if strings.Contains(results[0].Content, "Error") {
		t.Fatalf("result reports an error: %s", results[0].Content)
	}

	// The edit landed in the server-side workbook.
	data, err := wb.Read(context.Background(), "Sheet1", "A1")
	if err != nil {
		t.Fatalf("read workbook: %v", err)
	}
	if got := data.Cells[0][0].Value; got != float64(42) {
		t.Errorf("A1 value = %v, want 42", got)
	}
}

func TestExecuteToolsUnknownTool(t *testing.T) {
	srv, _ := newToolServer(t, &mock.Provider{})

	body := `{"toolCalls":[{"id":"call_1","name":"format_disk","input":"{}"}]}`
	resp, results := postExecuteTools(t, srv, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: tool failures are result content", resp.StatusCode)
	}
	if len(results) != 1 || !strings.Contains(results[0].Content, "unknown tool") {
		t.Errorf("results = %+v, want an unknown-tool report", results)
	}
}

func TestExecuteToolsEmptyBatch(t *testing.T) {
	srv, _ := newToolServer(t, &mock.Provider{})

	resp, _ := postExecuteTools(t, srv, `{"toolCalls":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteToolsDisabledWithoutExecutor(t *testing.T) {
	srv, _ := newTestServer(t, &mock.Provider{})

	resp, _ := postExecuteTools(t, srv, `{"toolCalls":[{"id":"c","name":"view_cells","input":"{}"}]}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no executor is wired", resp.StatusCode)
	}
}
