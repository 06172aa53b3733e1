package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".llamune"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("LLAMUNE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	for _, group := range []struct {
		prefix string
		target any
	}{
		{"LLAMUNE_PATHS", &cfg.Paths},
		{"LLAMUNE_MODEL", &cfg.Model},
		{"LLAMUNE_PROVIDER", &cfg.Provider},
		{"LLAMUNE_SERVER", &cfg.Server},
		{"LLAMUNE_MIRROR", &cfg.Mirror},
	} {
		if err := envconfig.Process(group.prefix, group.target); err != nil {
			return nil, fmt.Errorf("process %s env: %w", group.prefix, err)
		}
	}

	// Fallback for backend endpoint
	if cfg.Provider.BaseURL == DefaultConfig().Provider.BaseURL {
		if host := os.Getenv("OLLAMA_HOST"); host != "" {
			cfg.Provider.BaseURL = normalizeBaseURL(host)
		}
	}

	// Expand ~ in paths
	expandHome(&cfg.Paths.DataDir)
	expandHome(&cfg.Paths.Workspace)

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func expandHome(p *string) {
	if strings.HasPrefix(*p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		return raw
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return raw
}
