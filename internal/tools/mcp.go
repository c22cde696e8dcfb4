package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// MCPTransport selects the connection mechanism for an MCP server.
type MCPTransport string

const (
	// MCPTransportStdio spawns a subprocess and communicates over stdin/stdout.
	MCPTransportStdio MCPTransport = "stdio"

	// MCPTransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportStreamableHTTP
}

// MCPServerConfig describes how to connect to a single MCP server whose tools
// should be offered to the agent alongside the built-in sheet tools.
type MCPServerConfig struct {
	// Name is the human-readable identifier for this server, used in log
	// messages and errors. Must be unique within one [MCPConnector].
	Name string

	// Transport specifies the connection mechanism.
	Transport MCPTransport

	// Command is the executable path plus optional arguments, used when
	// Transport is stdio. Example: "/usr/local/bin/mcp-finance --data /srv".
	Command string

	// URL is the endpoint address used when Transport is streamable-http.
	URL string

	// Env holds additional environment variables injected into the server
	// process for stdio transport. May be nil.
	Env map[string]string
}

// MCPConnector imports tools from external MCP servers into a [Registry]
// using the official MCP Go SDK. Each imported tool's handler routes the
// call back to the owning server session.
//
// The zero value is NOT usable; create instances with [NewMCPConnector].
type MCPConnector struct {
	mu       sync.Mutex
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession // key: server name
}

// NewMCPConnector creates a connector. A single SDK client manages all
// server sessions.
func NewMCPConnector() *MCPConnector {
	return &MCPConnector{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "sheetpilot", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a session to the server described by cfg, lists its
// tools, and registers each one in registry. Returns an error if the
// transport cannot be established, the tool listing fails, or an imported
// tool name collides with an existing registration.
func (c *MCPConnector) Connect(ctx context.Context, cfg MCPServerConfig, registry *Registry) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tools: unknown mcp transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case MCPTransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio mcp server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = mergeEnv(cfg.Env)
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case MCPTransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http mcp server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to mcp server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for mcp server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	c.mu.Lock()
	if old, ok := c.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	c.sessions[cfg.Name] = session
	c.mu.Unlock()

	for _, mcpTool := range discovered {
		t := Tool{
			Definition: types.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schemaToMap(mcpTool.InputSchema),
			},
			Handler: c.handlerFor(cfg.Name, mcpTool.Name),
		}
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("tools: import from mcp server %q: %w", cfg.Name, err)
		}
	}

	return nil
}

// handlerFor builds the registry handler that routes a call to the named
// server session.
func (c *MCPConnector) handlerFor(serverName, toolName string) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		c.mu.Lock()
		session, ok := c.sessions[serverName]
		c.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("tools: mcp server %q is not connected", serverName)
		}

		var argsMap map[string]any
		if args != "" && args != "{}" {
			if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
				return "", fmt.Errorf("tools: invalid args JSON for mcp tool %q: %w", toolName, err)
			}
		}

		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: argsMap,
		})
		if err != nil {
			return "", fmt.Errorf("tools: call mcp tool %q: %w", toolName, err)
		}

		var sb strings.Builder
		for _, content := range result.Content {
			if tc, ok := content.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if result.IsError {
			return "", fmt.Errorf("tools: mcp tool %q reported an error: %s", toolName, sb.String())
		}
		return sb.String(), nil
	}
}

// Close shuts down all server sessions. The connector must not be used again
// after Close returns.
func (c *MCPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: close mcp server %q: %w", name, err)
		}
		delete(c.sessions, name)
	}
	return firstErr
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// mergeEnv layers extra variables over the inherited environment. The
// subprocess keeps PATH, HOME and the rest; configured entries win on
// conflict because they come last.
func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
