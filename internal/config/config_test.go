package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Fusion.IoUThreshold != 0.3 {
		t.Errorf("fusion.iou_threshold = %v", cfg.Fusion.IoUThreshold)
	}
	if cfg.Recommend.AutoSelectThreshold != 0.80 {
		t.Errorf("recommend.auto_select_threshold = %v", cfg.Recommend.AutoSelectThreshold)
	}
	if cfg.Throttle.MinIntervalMs != 500 {
		t.Errorf("throttle.min_interval_ms = %v", cfg.Throttle.MinIntervalMs)
	}
	if !cfg.Backends.Ollama.Enabled {
		t.Error("ollama backend should be enabled by default")
	}
	if cfg.Backends.Remote.Enabled {
		t.Error("remote backend should be disabled by default")
	}
	if cfg.Backends.Remote.MaxDim != 1280 {
		t.Errorf("backends.remote.max_dim = %v", cfg.Backends.Remote.MaxDim)
	}
	if w := cfg.Fusion.Weights["remote-vision"]; w != 1.2 {
		t.Errorf("remote-vision weight = %v, want 1.2", w)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"iou too high", func(c *Config) { c.Fusion.IoUThreshold = 1.5 }},
		{"iou zero", func(c *Config) { c.Fusion.IoUThreshold = 0 }},
		{"negative boost", func(c *Config) { c.Fusion.AgreementBoost = -0.1 }},
		{"zero weight", func(c *Config) { c.Fusion.Weights["onnx-lite"] = 0 }},
		{"auto-select over 1", func(c *Config) { c.Recommend.AutoSelectThreshold = 1.1 }},
		{"display over auto-select", func(c *Config) { c.Recommend.DisplayThreshold = 0.9 }},
		{"zero throttle interval", func(c *Config) { c.Throttle.MinIntervalMs = 0 }},
		{"remote enabled without url", func(c *Config) { c.Backends.Remote.Enabled = true }},
		{"no backend enabled", func(c *Config) {
			c.Backends.Ollama.Enabled = false
			c.Backends.ONNX.Enabled = false
			c.Backends.Remote.Enabled = false
		}},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Backends.Ollama.Model = "llava:13b"
	cfg.Orchestrator.Hybrid = true
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if loaded.Backends.Ollama.Model != "llava:13b" {
		t.Errorf("model = %s", loaded.Backends.Ollama.Model)
	}
	if !loaded.Orchestrator.Hybrid {
		t.Error("hybrid flag lost on round trip")
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	partial := `{"backends": {"ollama": {"enabled": true, "url": "http://gpu-box:11434", "model": "gemma3:4b", "timeout_ms": 2000}}}`
	if err := os.WriteFile(path, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Backends.Ollama.URL != "http://gpu-box:11434" {
		t.Errorf("url = %s", cfg.Backends.Ollama.URL)
	}
	// Unspecified sections retain their defaults
	if cfg.Fusion.IoUThreshold != 0.3 {
		t.Errorf("fusion defaults lost: %v", cfg.Fusion.IoUThreshold)
	}
	if cfg.Throttle.MinIntervalMs != 500 {
		t.Errorf("throttle defaults lost: %v", cfg.Throttle.MinIntervalMs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if path == "" {
		t.Fatal("config path should never be empty")
	}
	if filepath.Base(path) != "config.json" {
		t.Errorf("config path = %s", path)
	}
}
