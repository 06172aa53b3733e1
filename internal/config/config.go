// Package config provides configuration types and loading for llamune.
package config

// Config is the root configuration struct.
// Top-level groups: Paths, Model, Provider, Server, Mirror.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Model    ModelConfig    `json:"model"`
	Provider ProviderConfig `json:"provider"`
	Server   ServerConfig   `json:"server"`
	Mirror   MirrorConfig   `json:"mirror"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir   string `json:"dataDir" envconfig:"DATA_DIR"`
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups model and turn-loop settings.
type ModelConfig struct {
	Name          string  `json:"name" envconfig:"MODEL"`
	Temperature   float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolRounds int     `json:"maxToolRounds" envconfig:"MAX_TOOL_ROUNDS"`
	SystemPrompt  string  `json:"systemPrompt" envconfig:"SYSTEM_PROMPT"`
}

// ---------------------------------------------------------------------------
// Provider – model backend endpoint
// ---------------------------------------------------------------------------

// ProviderConfig configures the streaming model backend.
type ProviderConfig struct {
	BaseURL string `json:"baseUrl" envconfig:"BASE_URL"`
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
}

// ---------------------------------------------------------------------------
// Server – HTTP API and GUI
// ---------------------------------------------------------------------------

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host       string `json:"host" envconfig:"HOST"`
	Port       int    `json:"port" envconfig:"PORT"`
	AdminToken string `json:"adminToken" envconfig:"ADMIN_TOKEN"`
}

// ---------------------------------------------------------------------------
// Mirror – Kafka turn-event firehose
// ---------------------------------------------------------------------------

// MirrorConfig configures the optional Kafka turn mirror.
type MirrorConfig struct {
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// Enabled reports whether the mirror should be started.
func (m MirrorConfig) Enabled() bool {
	return len(m.Brokers) > 0 && m.Topic != ""
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.llamune",
		},
		Model: ModelConfig{
			Name:          "qwen3:8b",
			Temperature:   0.7,
			MaxToolRounds: 5,
		},
		Provider: ProviderConfig{
			BaseURL: "http://127.0.0.1:11434",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8437,
		},
		Mirror: MirrorConfig{
			Topic: "llamune.turns",
		},
	}
}
