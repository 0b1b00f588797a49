package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration
type Config struct {
	Fusion       FusionConfig       `json:"fusion"`
	Recommend    RecommendConfig    `json:"recommend"`
	Throttle     ThrottleConfig     `json:"throttle"`
	Backends     BackendsConfig     `json:"backends"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	// TaxonomyPath points to a YAML taxonomy; empty uses the built-in table
	TaxonomyPath string `json:"taxonomy_path"`
}

// FusionConfig holds the detection fusion tuning
type FusionConfig struct {
	IoUThreshold   float64            `json:"iou_threshold"`
	Weights        map[string]float64 `json:"weights"`
	AgreementBoost float64            `json:"agreement_boost"`
}

// RecommendConfig holds the tag recommendation thresholds
type RecommendConfig struct {
	AutoSelectThreshold float64 `json:"auto_select_threshold"`
	DisplayThreshold    float64 `json:"display_threshold"`
}

// ThrottleConfig holds the streaming submission limits
type ThrottleConfig struct {
	MinIntervalMs int `json:"min_interval_ms"`
}

// BackendsConfig holds per-backend adapter settings
type BackendsConfig struct {
	Ollama OllamaConfig `json:"ollama"`
	ONNX   ONNXConfig   `json:"onnx"`
	Remote RemoteConfig `json:"remote"`
}

// OllamaConfig configures the on-device multimodal backend
type OllamaConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url"`
	Model     string `json:"model"`
	TimeoutMs int    `json:"timeout_ms"`
}

// ONNXConfig configures the lightweight local detector backend
type ONNXConfig struct {
	Enabled        bool    `json:"enabled"`
	BundleDir      string  `json:"bundle_dir"`
	InputSize      int     `json:"input_size"`
	ScoreThreshold float64 `json:"score_threshold"`
	NMSThreshold   float64 `json:"nms_threshold"`
	TimeoutMs      int     `json:"timeout_ms"`
}

// RemoteConfig configures the remote vision service backend
type RemoteConfig struct {
	Enabled       bool   `json:"enabled"`
	BaseURL       string `json:"base_url"`
	APIKeyEnv     string `json:"api_key_env"`
	TimeoutMs     int    `json:"timeout_ms"`
	MaxConcurrent int    `json:"max_concurrent"`
	// MaxDim downscales the long image side before upload
	MaxDim int `json:"max_dim"`
}

// OrchestratorConfig holds session coordination settings
type OrchestratorConfig struct {
	Hybrid           bool   `json:"hybrid"`
	RetryTimeoutMs   int    `json:"retry_timeout_ms"`
	HealthWindow     int    `json:"health_window"`
	HealthCooldownMs int    `json:"health_cooldown_ms"`
	HealthFile       string `json:"health_file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Fusion: FusionConfig{
			IoUThreshold: 0.3,
			Weights: map[string]float64{
				"ollama-multimodal": 1.0,
				"remote-vision":     1.2,
				"onnx-lite":         0.7,
			},
			AgreementBoost: 0.1,
		},
		Recommend: RecommendConfig{
			AutoSelectThreshold: 0.80,
			DisplayThreshold:    0.40,
		},
		Throttle: ThrottleConfig{
			MinIntervalMs: 500,
		},
		Backends: BackendsConfig{
			Ollama: OllamaConfig{
				Enabled:   true,
				URL:       "http://localhost:11434",
				Model:     "gemma3:4b",
				TimeoutMs: 2000,
			},
			ONNX: ONNXConfig{
				Enabled:        true,
				BundleDir:      "./models/ppe",
				InputSize:      640,
				ScoreThreshold: 0.25,
				NMSThreshold:   0.45,
				TimeoutMs:      1000,
			},
			Remote: RemoteConfig{
				Enabled:       false,
				BaseURL:       "",
				APIKeyEnv:     "HAZARD_VISION_API_KEY",
				TimeoutMs:     8000,
				MaxConcurrent: 3,
				MaxDim:        1280,
			},
		},
		Orchestrator: OrchestratorConfig{
			Hybrid:           false,
			RetryTimeoutMs:   4000,
			HealthWindow:     20,
			HealthCooldownMs: 300000,
			HealthFile:       "",
		},
		TaxonomyPath: "",
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Fusion.IoUThreshold <= 0 || c.Fusion.IoUThreshold > 1 {
		return fmt.Errorf("fusion.iou_threshold must be in (0, 1]")
	}

	if c.Fusion.AgreementBoost < 0 {
		return fmt.Errorf("fusion.agreement_boost must not be negative")
	}

	for id, w := range c.Fusion.Weights {
		if w <= 0 {
			return fmt.Errorf("fusion.weights[%s] must be positive", id)
		}
	}

	if c.Recommend.AutoSelectThreshold <= 0 || c.Recommend.AutoSelectThreshold > 1 {
		return fmt.Errorf("recommend.auto_select_threshold must be in (0, 1]")
	}

	if c.Recommend.DisplayThreshold < 0 || c.Recommend.DisplayThreshold > 1 {
		return fmt.Errorf("recommend.display_threshold must be in [0, 1]")
	}

	if c.Recommend.DisplayThreshold > c.Recommend.AutoSelectThreshold {
		return fmt.Errorf("recommend.display_threshold must not exceed auto_select_threshold")
	}

	if c.Throttle.MinIntervalMs <= 0 {
		return fmt.Errorf("throttle.min_interval_ms must be positive")
	}

	if c.Backends.Remote.Enabled && c.Backends.Remote.BaseURL == "" {
		return fmt.Errorf("backends.remote.base_url is required when remote is enabled")
	}

	if !c.Backends.Ollama.Enabled && !c.Backends.ONNX.Enabled && !c.Backends.Remote.Enabled {
		return fmt.Errorf("at least one backend must be enabled")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "hazard-analyzer", "config.json")
}
