// Package anyllm adapts github.com/mozilla-ai/any-llm-go — one client for
// OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp and
// llamafile — to the [llm.Provider] interface. It is the default backend
// family: the config file names the vendor and this package routes to the
// matching any-llm driver.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/types"
)

// Provider implements [llm.Provider] over an any-llm driver.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New routes vendor to the matching any-llm driver and binds it to model.
// Vendors: openai, anthropic, gemini, ollama, deepseek, mistral, groq,
// llamacpp, llamafile. Without an explicit API-key option the driver reads
// its conventional environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY,
// ...).
func New(vendor string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := dial(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func dial(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
}

// StreamCompletion implements [llm.Provider]. Tool-call fragments streamed
// by the driver are merged through an [llm.ToolCallAssembler] and emitted
// whole on the finishing chunk; a driver error after the stream opens
// surfaces as one [llm.FinishError] chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	driverChunks, driverErrs := p.backend.CompletionStream(ctx, p.params(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		var asm llm.ToolCallAssembler

		for chunk := range driverChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for i, tc := range choice.Delta.ToolCalls {
				asm.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" {
				out.ToolCalls = asm.Calls()
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := <-driverErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return capabilitiesFor(p.model)
}

// params translates one round into any-llm completion parameters. The
// system prompt travels as a leading system-role message, the mechanism
// every any-llm driver understands.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toDriverMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// toDriverMessage maps one projected conversation message, including the
// tool-role results and assistant tool calls the copilot round trip
// produces, onto the any-llm message shape.
func toDriverMessage(m types.Message) anyllmlib.Message {
	msg := anyllmlib.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: anyllmlib.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

// capabilitiesFor maps known model families to their limits. The copilot
// cares about two things: whether the model can call tools (without that the
// agent degrades to plain chat) and how large a conversation projection fits.
// Unknown models get permissive defaults so a new release works before this
// table learns about it.
func capabilitiesFor(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"):
		// o1-mini has no tool calling; the agent must not offer tools.
		caps.MaxOutputTokens = 65_536
		caps.SupportsToolCalling = false
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	}
	return caps
}
