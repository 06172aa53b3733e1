package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Name == "" {
		t.Error("expected default model name")
	}
	if cfg.Model.MaxToolRounds != 5 {
		t.Errorf("expected 5 max tool rounds, got %d", cfg.Model.MaxToolRounds)
	}
	if cfg.Provider.BaseURL == "" {
		t.Error("expected default provider base URL")
	}
	if cfg.Mirror.Enabled() {
		t.Error("mirror should be disabled without brokers")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	fileCfg := DefaultConfig()
	fileCfg.Model.Name = "llama3.2:3b"
	fileCfg.Server.Port = 9000
	data, _ := json.Marshal(fileCfg)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LLAMUNE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.Name != "llama3.2:3b" {
		t.Errorf("expected file value for model name, got %q", cfg.Model.Name)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected file value for port, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	fileCfg := DefaultConfig()
	fileCfg.Model.Name = "llama3.2:3b"
	data, _ := json.Marshal(fileCfg)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LLAMUNE_CONFIG", path)
	t.Setenv("LLAMUNE_MODEL_MODEL", "qwen3:14b")
	t.Setenv("LLAMUNE_SERVER_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.Name != "qwen3:14b" {
		t.Errorf("expected env override for model name, got %q", cfg.Model.Name)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("expected env override for port, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LLAMUNE_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.Name != DefaultConfig().Model.Name {
		t.Errorf("expected defaults, got model %q", cfg.Model.Name)
	}
}

func TestLoadRejectsMalformedEnvValue(t *testing.T) {
	t.Setenv("LLAMUNE_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	t.Setenv("LLAMUNE_SERVER_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed env value, got nil")
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:11434":         "http://127.0.0.1:11434",
		"http://localhost:11434/": "http://localhost:11434",
		"https://ollama.internal": "https://ollama.internal",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
