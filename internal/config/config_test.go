package config

import (
	"os"
	"path/filepath"
	"testing"
)

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// LLM defaults
	if cfg.LLM.BaseURL != "https://router.huggingface.co/v1" {
		t.Errorf("LLM.BaseURL: got %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "HuggingFaceH4/zephyr-7b-beta" {
		t.Errorf("LLM.Model: got %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.1 {
		t.Errorf("LLM.Temperature: got %f, want 0.1", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 256 {
		t.Errorf("LLM.MaxTokens: got %d, want 256", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.TimeoutSec != 120 {
		t.Errorf("LLM.TimeoutSec: got %d, want 120", cfg.LLM.TimeoutSec)
	}

	// Data defaults
	if cfg.Data.CacheTTLSec != 900 {
		t.Errorf("Data.CacheTTLSec: got %d, want 900", cfg.Data.CacheTTLSec)
	}
	if cfg.Data.RatePerSec != 5 {
		t.Errorf("Data.RatePerSec: got %d, want 5", cfg.Data.RatePerSec)
	}

	// News defaults
	if !cfg.News.Enabled {
		t.Error("News.Enabled should be true by default")
	}
	if cfg.News.Limit != 5 {
		t.Errorf("News.Limit: got %d, want 5", cfg.News.Limit)
	}

	// API defaults
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host: got %q, want %q", cfg.API.Host, "0.0.0.0")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
llm:
  hf_token: "hf_file_token_1234567890"
  model: "mistralai/Mistral-7B-Instruct-v0.3"
  temperature: 0.3
  max_tokens: 512
data:
  cache_ttl_sec: 120
news:
  enabled: false
api:
  port: 9090
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.LLM.HFToken != "hf_file_token_1234567890" {
		t.Errorf("LLM.HFToken: got %q", cfg.LLM.HFToken)
	}
	if cfg.LLM.Model != "mistralai/Mistral-7B-Instruct-v0.3" {
		t.Errorf("LLM.Model: got %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM.Temperature: got %f, want 0.3", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 512 {
		t.Errorf("LLM.MaxTokens: got %d, want 512", cfg.LLM.MaxTokens)
	}
	if cfg.Data.CacheTTLSec != 120 {
		t.Errorf("Data.CacheTTLSec: got %d, want 120", cfg.Data.CacheTTLSec)
	}
	if cfg.News.Enabled {
		t.Error("News.Enabled should be false from file")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	cfg := &Config{}

	os.Setenv("MANNY_LLM_HF_TOKEN", "hf_env_token_123456")
	defer os.Unsetenv("MANNY_LLM_HF_TOKEN")

	overrideFromEnv(cfg)

	if cfg.LLM.HFToken != "hf_env_token_123456" {
		t.Errorf("HFToken: got %q", cfg.LLM.HFToken)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg := &Config{
		LLM: LLMConfig{HFToken: "from-config"},
	}
	overrideFromEnv(cfg)

	// Should retain the original value when env is not set
	if cfg.LLM.HFToken != "from-config" {
		t.Errorf("HFToken should stay as 'from-config' when env is unset, got %q", cfg.LLM.HFToken)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "cfg.yaml")
	content := []byte("llm:\n  hf_token: \"hf_from_file_1234567\"\n")
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("MANNY_LLM_HF_TOKEN", "hf_from_env_7654321")
	defer os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.HFToken != "hf_from_env_7654321" {
		t.Errorf("env should win over file, got %q", cfg.LLM.HFToken)
	}
}

// ── maskKey ──

func TestMaskKeyShort(t *testing.T) {
	// Keys with 8 or fewer characters should be fully masked
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"a", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskKeyLong(t *testing.T) {
	// Keys with more than 8 characters show first 3 + ... + last 3
	tests := []struct {
		input string
		want  string
	}{
		{"123456789", "123...789"},
		{"hf_abcdef1234567890xyz", "hf_...xyz"},
		{"ABCDEFGHIJKLMNOP", "ABC...NOP"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ── CheckAPIKeys / checkKey ──

func TestCheckAPIKeysEmpty(t *testing.T) {
	os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg := &Config{}
	statuses := CheckAPIKeys(cfg)

	if len(statuses) != 1 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 1", len(statuses))
	}
	s := statuses[0]
	if s.IsSet {
		t.Errorf("Key %q should not be set", s.Name)
	}
	if s.Source != KeySourceNone {
		t.Errorf("Key %q source: got %q, want %q", s.Name, s.Source, KeySourceNone)
	}
}

func TestCheckAPIKeysFromConfig(t *testing.T) {
	os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg := &Config{
		LLM: LLMConfig{
			HFToken: "hf_test_very_long_key_value",
		},
	}
	statuses := CheckAPIKeys(cfg)

	found := false
	for _, s := range statuses {
		if s.Name == "Hugging Face API Token" {
			found = true
			if !s.IsSet {
				t.Error("HF token should be set")
			}
			if s.Source != KeySourceConfig {
				t.Errorf("Source: got %q, want %q", s.Source, KeySourceConfig)
			}
			if s.Masked != "hf_...lue" {
				t.Errorf("Masked: got %q, want %q", s.Masked, "hf_...lue")
			}
		}
	}
	if !found {
		t.Error("Hugging Face API Token status not found")
	}
}

func TestCheckAPIKeysFromEnv(t *testing.T) {
	os.Setenv("MANNY_LLM_HF_TOKEN", "hf_env_key_for_testing")
	defer os.Unsetenv("MANNY_LLM_HF_TOKEN")

	cfg := &Config{
		LLM: LLMConfig{
			HFToken: "hf_env_key_for_testing",
		},
	}
	statuses := CheckAPIKeys(cfg)

	for _, s := range statuses {
		if s.Name == "Hugging Face API Token" {
			if s.Source != KeySourceEnv {
				t.Errorf("Source: got %q, want %q", s.Source, KeySourceEnv)
			}
		}
	}
}

func TestCheckKeySourceDetection(t *testing.T) {
	// No env, no value
	os.Unsetenv("TEST_VAR")
	s := checkKey("Test", "", "TEST_VAR")
	if s.Source != KeySourceNone {
		t.Errorf("empty value: got source %q, want %q", s.Source, KeySourceNone)
	}
	if s.IsSet {
		t.Error("empty value should not be set")
	}

	// Value from config (no env)
	s = checkKey("Test", "config-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceConfig {
		t.Errorf("config value: got source %q, want %q", s.Source, KeySourceConfig)
	}
	if !s.IsSet {
		t.Error("config value should be set")
	}

	// Value from env
	os.Setenv("TEST_VAR", "env-value-long-enough")
	defer os.Unsetenv("TEST_VAR")
	s = checkKey("Test", "env-value-long-enough", "TEST_VAR")
	if s.Source != KeySourceEnv {
		t.Errorf("env value: got source %q, want %q", s.Source, KeySourceEnv)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	h := homeDir()
	if h == "" {
		t.Error("homeDir() should not return empty string")
	}
}
