// Package api provides the HTTP REST API server for Manny.
//
// It exposes endpoints for grounded company Q&A, company snapshots,
// headlines, runtime configuration, and WebSocket streaming of query
// progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mannyfin/manny/internal/analyst"
	"github.com/mannyfin/manny/internal/config"
	"github.com/mannyfin/manny/internal/datasource"
	"github.com/mannyfin/manny/internal/llm"
	"github.com/mannyfin/manny/pkg/utils"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	analyst *analyst.Analyst
	source  analyst.CompanySource
	news    analyst.HeadlineSource
	wsHub   *WSHub
}

// ServerOption customises server construction, mainly for tests.
type ServerOption func(*Server)

// WithCompanySource overrides the market data source.
func WithCompanySource(src analyst.CompanySource) ServerOption {
	return func(s *Server) { s.source = src }
}

// WithHeadlineSource overrides the headline source.
func WithHeadlineSource(news analyst.HeadlineSource) ServerOption {
	return func(s *Server) { s.news = news }
}

// WithAnalyst overrides the assembled analyst.
func WithAnalyst(a *analyst.Analyst) ServerOption {
	return func(s *Server) { s.analyst = a }
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	srv := &Server{
		cfg:   cfg,
		wsHub: NewWSHub(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.source == nil {
		srv.source = datasource.NewYahoo(
			datasource.WithYahooCache(datasource.NewCache(time.Duration(cfg.Data.CacheTTLSec)*time.Second)),
			datasource.WithYahooRateLimiter(datasource.NewRateLimiter(cfg.Data.RatePerSec, time.Second)),
		)
	}
	if srv.news == nil && cfg.News.Enabled {
		srv.news = datasource.NewHeadlines()
	}

	if srv.analyst == nil {
		var provider llm.Provider
		if cfg.LLM.HFToken != "" {
			p, err := llm.NewHuggingFaceProvider(cfg.LLM.HFToken,
				llm.WithHFBaseURL(cfg.LLM.BaseURL),
				llm.WithHFModel(cfg.LLM.Model),
			)
			if err != nil {
				return nil, err
			}
			provider = p
		}

		srv.analyst = analyst.New(analyst.Config{
			Source:    srv.source,
			Provider:  provider,
			News:      srv.news,
			NewsLimit: cfg.News.Limit,
			ChatOptions: &llm.ChatOptions{
				Model:       cfg.LLM.Model,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
			},
		})
	}

	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Grounded Q&A
		r.Post("/ask", s.handleAsk)

		// Company snapshot and headlines
		r.Get("/company/{ticker}", s.handleCompany)
		r.Get("/news/{ticker}", s.handleNews)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)

		// WebSocket query progress stream
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AskRequest is the body for POST /api/v1/ask.
type AskRequest struct {
	Ticker   string `json:"ticker"`
	Question string `json:"question"`
}

// AskResponse is the payload returned by POST /api/v1/ask.
type AskResponse struct {
	Ticker  string      `json:"ticker"`
	Answer  string      `json:"answer"`
	Company interface{} `json:"company,omitempty"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":  "ok",
			"version": "dev",
			"time":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ticker := utils.NormalizeTicker(req.Ticker)
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Minute)
	defer cancel()

	s.wsHub.Broadcast(WSMessage{
		Type: "query_started",
		Data: map[string]interface{}{"ticker": ticker, "question": req.Question},
	})

	record, answer, err := s.analyst.Answer(ctx, ticker, req.Question)
	if err != nil {
		s.wsHub.Broadcast(WSMessage{
			Type: "query_failed",
			Data: map[string]interface{}{"ticker": ticker, "error": err.Error()},
		})
		if errors.Is(err, datasource.ErrTickerNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.wsHub.Broadcast(WSMessage{
		Type: "answer_ready",
		Data: map[string]interface{}{"ticker": ticker},
	})

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: AskResponse{
			Ticker:  ticker,
			Answer:  answer,
			Company: record,
		},
	})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	ticker = utils.NormalizeTicker(ticker)
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	record, err := s.source.GetCompanyRecord(ctx, ticker)
	if err != nil {
		if errors.Is(err, datasource.ErrTickerNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.wsHub.Broadcast(WSMessage{
		Type: "data_fetched",
		Data: map[string]interface{}{"ticker": ticker},
	})

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    record,
	})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	if s.news == nil {
		writeError(w, http.StatusServiceUnavailable, "headlines are disabled")
		return
	}

	ticker := chi.URLParam(r, "ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	ticker = utils.NormalizeTicker(ticker)
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	// The company name sharpens headline matching; a fetch failure here
	// degrades to symbol-only matching rather than failing the request.
	name := ""
	if record, err := s.source.GetCompanyRecord(ctx, ticker); err == nil && record.CompanyName != nil {
		name = *record.CompanyName
	}

	articles, err := s.news.CompanyHeadlines(ctx, name, ticker, s.cfg.News.Limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    articles,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSHub manages WebSocket connections and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow client; disconnect
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}
