package config_test

import (
	"testing"

	"github.com/sheetpilot/sheetpilot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
		},
		Agent: config.AgentConfig{
			SystemPrompt: "You are a spreadsheet assistant.",
			Temperature:  0.2,
			MaxTokens:    4096,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("Diff() of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("Diff() = %+v, want log level change to debug", d)
	}
	if d.SystemPromptChanged || d.TemperatureChanged || d.MaxTokensChanged {
		t.Errorf("Diff() = %+v, want only log level flagged", d)
	}
}

func TestDiff_AgentFields(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Agent.SystemPrompt = "Be terse."
	new.Agent.Temperature = 0.7
	new.Agent.MaxTokens = 1024

	d := config.Diff(old, new)
	if !d.SystemPromptChanged || d.NewSystemPrompt != "Be terse." {
		t.Errorf("Diff() = %+v, want system prompt change", d)
	}
	if !d.TemperatureChanged || d.NewTemperature != 0.7 {
		t.Errorf("Diff() = %+v, want temperature change", d)
	}
	if !d.MaxTokensChanged || d.NewMaxTokens != 1024 {
		t.Errorf("Diff() = %+v, want max tokens change", d)
	}
	if d.Empty() {
		t.Error("Diff().Empty() = true with agent changes")
	}
}

func TestDiff_IgnoresRestartOnlyFields(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Providers.LLM.Model = "gpt-5"

	if d := config.Diff(old, new); !d.Empty() {
		t.Errorf("Diff() = %+v, want restart-only changes ignored", d)
	}
}
