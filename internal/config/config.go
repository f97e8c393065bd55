// Package config handles configuration loading for Manny.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"     yaml:"llm"`
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	News    NewsConfig    `mapstructure:"news"    yaml:"news"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig holds hosted model configuration.
type LLMConfig struct {
	HFToken     string  `mapstructure:"hf_token"    yaml:"hf_token"`
	BaseURL     string  `mapstructure:"base_url"    yaml:"base_url"`
	Model       string  `mapstructure:"model"       yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// DataConfig holds market data fetching settings.
type DataConfig struct {
	CacheTTLSec int `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	RatePerSec  int `mapstructure:"rate_per_sec"  yaml:"rate_per_sec"`
}

// NewsConfig holds headline enrichment settings.
type NewsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Limit   int  `mapstructure:"limit"   yaml:"limit"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.manny/config.yaml (home directory)
//  3. /etc/manny/config.yaml (system)
//
// Environment variables override config file values.
// Format: MANNY_<SECTION>_<KEY>, e.g., MANNY_LLM_HF_TOKEN
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".manny"))
	v.AddConfigPath("/etc/manny")

	v.SetEnvPrefix("MANNY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file not required to exist; defaults plus env vars suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("MANNY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults. Low temperature keeps answers anchored to the
	// provided context.
	v.SetDefault("llm.base_url", "https://router.huggingface.co/v1")
	v.SetDefault("llm.model", "HuggingFaceH4/zephyr-7b-beta")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.timeout_sec", 120)

	// Data defaults. 900 seconds matches the company record cache TTL.
	v.SetDefault("data.cache_ttl_sec", 900)
	v.SetDefault("data.rate_per_sec", 5)

	// News defaults
	v.SetDefault("news.enabled", true)
	v.SetDefault("news.limit", 5)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("MANNY_LLM_HF_TOKEN"); key != "" {
		cfg.LLM.HFToken = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
