package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mannyfin/manny/internal/analyst"
	"github.com/mannyfin/manny/internal/config"
	"github.com/mannyfin/manny/internal/datasource"
	"github.com/mannyfin/manny/internal/llm"
	"github.com/mannyfin/manny/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

type stubSource struct {
	record *models.CompanyRecord
	err    error
}

func (s *stubSource) GetCompanyRecord(_ context.Context, _ string) (*models.CompanyRecord, error) {
	return s.record, s.err
}

type stubProvider struct {
	content string
	err     error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, _ []llm.Message, _ *llm.ChatOptions) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content, FinishReason: llm.FinishStop}, nil
}

func (s *stubProvider) Ping(_ context.Context) error { return nil }

type stubNews struct {
	articles []models.NewsArticle
	err      error
}

func (s *stubNews) CompanyHeadlines(_ context.Context, _, _ string, _ int) ([]models.NewsArticle, error) {
	return s.articles, s.err
}

func testRecord() *models.CompanyRecord {
	name := "Infosys"
	pe := 25.4
	return &models.CompanyRecord{
		Ticker:        "INFY.NS",
		CompanyName:   &name,
		MarketCap:     "₹65,00,00,00,00,000.00",
		PERatio:       &pe,
		DividendYield: "2.10%",
		FetchedAt:     time.Now(),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			BaseURL:     "https://router.huggingface.co/v1",
			Model:       llm.DefaultHFModel,
			Temperature: 0.1,
			MaxTokens:   256,
		},
		Data: config.DataConfig{CacheTTLSec: 900, RatePerSec: 5},
		News: config.NewsConfig{Enabled: false, Limit: 5},
		API:  config.APIConfig{Host: "127.0.0.1", Port: 8080},
	}
}

func testServer(t *testing.T, source analyst.CompanySource, provider llm.Provider, news analyst.HeadlineSource) *Server {
	t.Helper()
	cfg := testConfig()
	a := analyst.New(analyst.Config{
		Source:   source,
		Provider: provider,
		News:     news,
	})
	srv, err := NewServer(cfg,
		WithCompanySource(source),
		WithHeadlineSource(news),
		WithAnalyst(a),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.wsHub.Run()
	return srv
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// ════════════════════════════════════════════════════════════════════
// Health
// ════════════════════════════════════════════════════════════════════

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "ok"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("health should report success")
	}
}

// ════════════════════════════════════════════════════════════════════
// Ask
// ════════════════════════════════════════════════════════════════════

func TestAskHappyPath(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "The P/E ratio is 25.4."}, nil)

	body := strings.NewReader(`{"ticker":"INFY.NS","question":"What is the P/E ratio?"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	data, _ := json.Marshal(resp.Data)
	if !strings.Contains(string(data), "The P/E ratio is 25.4.") {
		t.Errorf("answer missing from payload: %s", data)
	}
	if !strings.Contains(string(data), "INFY.NS") {
		t.Errorf("ticker missing from payload: %s", data)
	}
}

func TestAskMissingTicker(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	body := strings.NewReader(`{"question":"What is the P/E ratio?"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestAskMissingQuestion(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	body := strings.NewReader(`{"ticker":"INFY.NS"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestAskInvalidBody(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestAskUnknownTicker(t *testing.T) {
	notFound := fmt.Errorf("%w: no data found for ticker %q; it may be delisted or invalid",
		datasource.ErrTickerNotFound, "FAKE.XX")
	srv := testServer(t, &stubSource{err: notFound}, &stubProvider{content: "x"}, nil)

	body := strings.NewReader(`{"ticker":"FAKE.XX","question":"q"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !strings.Contains(resp.Error, "FAKE.XX") {
		t.Errorf("error should cite the ticker: %q", resp.Error)
	}
}

func TestAskProviderFailureStillAnswers(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{err: llm.ErrProviderDown}, nil)

	body := strings.NewReader(`{"ticker":"INFY.NS","question":"q"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	// Generation failures degrade to a canned answer, not an HTTP error.
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	if !strings.Contains(string(data), analyst.AnswerGenerationFailed) {
		t.Errorf("expected fallback answer in payload: %s", data)
	}
}

func TestAskWithoutCredential(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, nil, nil)

	body := strings.NewReader(`{"ticker":"INFY.NS","question":"q"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	if !strings.Contains(string(data), analyst.AnswerTokenMissing) {
		t.Errorf("expected missing-credential answer in payload: %s", data)
	}
}

// ════════════════════════════════════════════════════════════════════
// Company / News
// ════════════════════════════════════════════════════════════════════

func TestCompanyEndpoint(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/company/INFY.NS", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	if !strings.Contains(string(data), "Infosys") {
		t.Errorf("company payload missing name: %s", data)
	}
}

func TestCompanyNotFound(t *testing.T) {
	notFound := fmt.Errorf("%w: no data found for ticker %q; it may be delisted or invalid",
		datasource.ErrTickerNotFound, "FAKE.XX")
	srv := testServer(t, &stubSource{err: notFound}, &stubProvider{content: "x"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/company/FAKE.XX", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestNewsEndpoint(t *testing.T) {
	news := &stubNews{articles: []models.NewsArticle{
		{Title: "Infosys wins large deal", Source: "Test Markets"},
	}}
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, news)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/news/INFY.NS", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	data, _ := json.Marshal(decodeResponse(t, rec).Data)
	if !strings.Contains(string(data), "Infosys wins large deal") {
		t.Errorf("news payload missing headline: %s", data)
	}
}

func TestNewsDisabled(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/news/INFY.NS", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Config
// ════════════════════════════════════════════════════════════════════

func TestGetConfigHidesToken(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)
	srv.cfg.LLM.HFToken = "hf_secret_token_value"

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hf_secret_token_value") {
		t.Error("raw token must never appear in config responses")
	}
	if !strings.Contains(rec.Body.String(), `"token_set":true`) {
		t.Errorf("token_set flag missing: %s", rec.Body.String())
	}
}

func TestUpdateConfigInstallsProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"configured answer"},"finish_reason":"stop"}]}`)
	}))
	defer upstream.Close()

	// Start with no credential so queries return the canned string.
	srv := testServer(t, &stubSource{record: testRecord()}, nil, nil)

	body := strings.NewReader(fmt.Sprintf(
		`{"llm":{"hf_token":"hf_new_token_123456","base_url":%q}}`, upstream.URL))
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", rec.Code, rec.Body.String())
	}
	if srv.cfg.LLM.HFToken != "hf_new_token_123456" {
		t.Errorf("token not merged: %q", srv.cfg.LLM.HFToken)
	}

	// The new provider is installed and answers through the updated URL.
	askBody := strings.NewReader(`{"ticker":"INFY.NS","question":"q"}`)
	askReq := httptest.NewRequest(http.MethodPost, "/api/v1/ask", askBody)
	askRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(askRec, askReq)

	data, _ := json.Marshal(decodeResponse(t, askRec).Data)
	if !strings.Contains(string(data), "configured answer") {
		t.Errorf("expected answer from updated provider, got: %s", data)
	}
}

func TestUpdateConfigMergesPartial(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)

	body := strings.NewReader(`{"news":{"limit":3},"logging":{"level":"debug"}}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if srv.cfg.News.Limit != 3 {
		t.Errorf("News.Limit: got %d, want 3", srv.cfg.News.Limit)
	}
	if srv.cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q", srv.cfg.Logging.Level)
	}
	// Untouched values survive the merge.
	if srv.cfg.LLM.MaxTokens != 256 {
		t.Errorf("LLM.MaxTokens: got %d, want 256", srv.cfg.LLM.MaxTokens)
	}
}

func TestConfigKeysEndpoint(t *testing.T) {
	srv := testServer(t, &stubSource{record: testRecord()}, &stubProvider{content: "x"}, nil)
	srv.cfg.LLM.HFToken = "hf_long_token_abcdef"

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/keys", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	bodyStr := rec.Body.String()
	if !strings.Contains(bodyStr, "Hugging Face API Token") {
		t.Errorf("keys payload missing token entry: %s", bodyStr)
	}
	if strings.Contains(bodyStr, "hf_long_token_abcdef") {
		t.Error("raw token must be masked in keys payload")
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket Hub
// ════════════════════════════════════════════════════════════════════

func TestWSHubBroadcast(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	client := &WSClient{hub: hub, send: make(chan WSMessage, 8)}
	hub.Register(client)

	// Registration is asynchronous.
	deadline := time.After(time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	hub.Broadcast(WSMessage{Type: "answer_ready", Data: map[string]interface{}{"ticker": "INFY.NS"}})

	select {
	case msg := <-client.send:
		if msg.Type != "answer_ready" {
			t.Errorf("type: got %q", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached client")
	}

	hub.Unregister(client)
}

func TestWSHubDropsWhenFull(t *testing.T) {
	hub := NewWSHub()
	// Without a running event loop the broadcast channel fills; Broadcast
	// must not block.
	for i := 0; i < 300; i++ {
		hub.Broadcast(WSMessage{Type: "query_started"})
	}
}
