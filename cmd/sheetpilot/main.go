// Command sheetpilot is the main entry point for the SheetPilot server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/sheetpilot/sheetpilot/internal/agent"
	"github.com/sheetpilot/sheetpilot/internal/config"
	"github.com/sheetpilot/sheetpilot/internal/conversation"
	"github.com/sheetpilot/sheetpilot/internal/health"
	"github.com/sheetpilot/sheetpilot/internal/httpapi"
	"github.com/sheetpilot/sheetpilot/internal/observe"
	"github.com/sheetpilot/sheetpilot/internal/resilience"
	"github.com/sheetpilot/sheetpilot/internal/sheet"
	"github.com/sheetpilot/sheetpilot/internal/tools"
	"github.com/sheetpilot/sheetpilot/internal/tools/sheettools"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm/anyllm"
	"github.com/sheetpilot/sheetpilot/pkg/provider/llm/openai"
)

// defaultSystemPrompt steers the model toward spreadsheet work when the
// config file does not set agent.system_prompt.
const defaultSystemPrompt = `You are a spreadsheet copilot. You help the user read, analyse and
modify their workbook through the provided tools. Prefer viewing the relevant
cells before editing them, explain what you changed, and keep answers short.`

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sheetpilot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sheetpilot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// rebuilding the handler chain.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	opts := &slog.HandlerOptions{Level: levelVar}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Server.LogFormat == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("sheetpilot starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Providers.LLM.Name,
		"model", cfg.Providers.LLM.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sheetpilot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Model backend ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildModelBackend(cfg, reg)
	if err != nil {
		slog.Error("failed to build model backend", "err", err)
		return 1
	}

	// ── Workbook and tools ────────────────────────────────────────────────────
	workbook := sheet.NewWorkbook()

	toolRegistry := tools.NewRegistry()
	for _, t := range sheettools.Tools(workbook) {
		if err := toolRegistry.Register(t); err != nil {
			slog.Error("failed to register sheet tool", "err", err)
			return 1
		}
	}

	connector := tools.NewMCPConnector()
	defer func() {
		if err := connector.Close(); err != nil {
			slog.Warn("mcp connector close error", "err", err)
		}
	}()
	for _, server := range cfg.MCP.Servers {
		err := connector.Connect(ctx, tools.MCPServerConfig{
			Name:      server.Name,
			Transport: server.Transport,
			Command:   server.Command,
			URL:       server.URL,
			Env:       server.Env,
		}, toolRegistry)
		if err != nil {
			slog.Error("failed to connect mcp server", "server", server.Name, "err", err)
			return 1
		}
		slog.Info("mcp server connected", "server", server.Name, "transport", server.Transport)
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	store := conversation.NewStore()
	engine := agent.NewEngine(provider, toolRegistry, store, agentConfig(cfg), metrics, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Checker{
			Name: "model_backend",
			Check: func(ctx context.Context) error {
				if !provider.Capabilities().SupportsStreaming {
					return errors.New("model backend does not support streaming")
				}
				return nil
			},
		},
		health.Checker{
			Name: "tool_registry",
			Check: func(ctx context.Context) error {
				if len(toolRegistry.Definitions()) == 0 {
					return errors.New("no tools registered")
				}
				return nil
			},
		},
	)
	executor := tools.NewExecutor(toolRegistry, metrics)
	server := httpapi.NewServer(engine, executor, healthHandler, metrics, logger)

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.Empty() {
			return
		}
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.SystemPromptChanged || diff.TemperatureChanged || diff.MaxTokensChanged {
			engine.SetConfig(agentConfig(new))
			slog.Info("agent settings reloaded")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Model backend wiring ──────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in model backend factories into
// reg. Each factory receives a config.ProviderEntry and constructs a provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// The native OpenAI provider exercises structured tool-call streaming
	// directly against the official SDK.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp and llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildModelBackend instantiates the primary provider plus all configured
// fallbacks and wraps them in a circuit-broken fallback chain.
func buildModelBackend(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if len(cfg.Providers.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewChain(cfg.Providers.LLM.Name, primary, resilience.BreakerConfig{}, slog.Default())
	for _, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name)
	}
	return chain, nil
}

// agentConfig maps the file configuration onto engine parameters, applying
// the built-in system prompt when none is configured.
func agentConfig(cfg *config.Config) agent.Config {
	prompt := cfg.Agent.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return agent.Config{
		SystemPrompt: prompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
