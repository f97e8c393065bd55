// Package api — configuration management endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mannyfin/manny/internal/config"
	"github.com/mannyfin/manny/internal/llm"
)

// configMu serialises runtime config updates.
var configMu sync.Mutex

// ConfigView is the JSON shape returned by GET /api/v1/config.
// The credential itself is never echoed back, only its masked form.
type ConfigView struct {
	LLM     LLMView              `json:"llm"`
	Data    config.DataConfig    `json:"data"`
	News    config.NewsConfig    `json:"news"`
	API     config.APIConfig     `json:"api"`
	Logging config.LoggingConfig `json:"logging"`
}

// LLMView mirrors config.LLMConfig without the raw token.
type LLMView struct {
	TokenSet    bool    `json:"token_set"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutSec  int     `json:"timeout_sec"`
}

func configView(cfg *config.Config) ConfigView {
	return ConfigView{
		LLM: LLMView{
			TokenSet:    cfg.LLM.HFToken != "",
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			TimeoutSec:  cfg.LLM.TimeoutSec,
		},
		Data:    cfg.Data,
		News:    cfg.News,
		API:     cfg.API,
		Logging: cfg.Logging,
	}
}

// handleGetConfig returns the current (running) configuration.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	configMu.Lock()
	view := configView(s.cfg)
	configMu.Unlock()

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    view,
	})
}

// handleUpdateConfig merges the provided partial configuration into the
// running config. Updates apply to the running process only and are not
// written to disk. Supplying a new token rebuilds the model provider.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	configMu.Lock()
	defer configMu.Unlock()

	mergeConfig(s.cfg, &incoming)

	if incoming.LLM.HFToken != "" {
		provider, err := llm.NewHuggingFaceProvider(s.cfg.LLM.HFToken,
			llm.WithHFBaseURL(s.cfg.LLM.BaseURL),
			llm.WithHFModel(s.cfg.LLM.Model),
		)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid token: "+err.Error())
			return
		}
		s.analyst.SetProvider(provider)
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    configView(s.cfg),
	})
}

// handleGetConfigKeys returns the status of configured credentials.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	keys := config.CheckAPIKeys(s.cfg)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    keys,
	})
}

// mergeConfig copies non-zero/non-empty values from src into dst.
func mergeConfig(dst, src *config.Config) {
	// LLM
	if src.LLM.HFToken != "" {
		dst.LLM.HFToken = src.LLM.HFToken
	}
	if src.LLM.BaseURL != "" {
		dst.LLM.BaseURL = src.LLM.BaseURL
	}
	if src.LLM.Model != "" {
		dst.LLM.Model = src.LLM.Model
	}
	if src.LLM.Temperature != 0 {
		dst.LLM.Temperature = src.LLM.Temperature
	}
	if src.LLM.MaxTokens != 0 {
		dst.LLM.MaxTokens = src.LLM.MaxTokens
	}
	if src.LLM.TimeoutSec != 0 {
		dst.LLM.TimeoutSec = src.LLM.TimeoutSec
	}

	// Data
	if src.Data.CacheTTLSec != 0 {
		dst.Data.CacheTTLSec = src.Data.CacheTTLSec
	}
	if src.Data.RatePerSec != 0 {
		dst.Data.RatePerSec = src.Data.RatePerSec
	}

	// News
	if src.News.Limit != 0 {
		dst.News.Limit = src.News.Limit
	}

	// API
	if src.API.Host != "" {
		dst.API.Host = src.API.Host
	}
	if src.API.Port != 0 {
		dst.API.Port = src.API.Port
	}
	if len(src.API.CORSOrigins) > 0 {
		dst.API.CORSOrigins = src.API.CORSOrigins
	}

	// Logging
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}
