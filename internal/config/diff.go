package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	SystemPromptChanged bool
	NewSystemPrompt     string
	TemperatureChanged  bool
	NewTemperature      float64
	MaxTokensChanged    bool
	NewMaxTokens        int
}

// Empty reports whether no hot-reloadable field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SystemPromptChanged && !d.TemperatureChanged && !d.MaxTokensChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider and
// listener changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent.SystemPrompt != new.Agent.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Agent.SystemPrompt
	}
	if old.Agent.Temperature != new.Agent.Temperature {
		d.TemperatureChanged = true
		d.NewTemperature = new.Agent.Temperature
	}
	if old.Agent.MaxTokens != new.Agent.MaxTokens {
		d.MaxTokensChanged = true
		d.NewMaxTokens = new.Agent.MaxTokens
	}

	return d
}
