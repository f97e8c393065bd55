// Package analyst orchestrates the question-answering pipeline: fetch a
// company record, build the grounded prompt, invoke the chat-completion
// model, and return either the answer or a canonical fallback string.
package analyst

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/mannyfin/manny/internal/analyst/prompts"
	"github.com/mannyfin/manny/internal/llm"
	"github.com/mannyfin/manny/pkg/models"
)

// Canonical answer strings. Generation never raises past this boundary —
// every failure becomes one of these.
const (
	// AnswerFetchFailed is returned when no company record is available.
	AnswerFetchFailed = "Could not generate a response as data fetching failed."

	// AnswerTokenMissing is returned when no model credential is configured.
	AnswerTokenMissing = "Hugging Face API token is not set. Set MANNY_LLM_HF_TOKEN or add it via the configuration surface."

	// AnswerGenerationFailed is returned when the chat-completion call errors.
	AnswerGenerationFailed = "Sorry, I was unable to generate a response. This could be a temporary issue with the AI service. Please try again."
)

// CompanySource fetches the normalized company snapshot for a ticker.
type CompanySource interface {
	GetCompanyRecord(ctx context.Context, ticker string) (*models.CompanyRecord, error)
}

// HeadlineSource fetches supplemental headlines for a company.
type HeadlineSource interface {
	CompanyHeadlines(ctx context.Context, companyName, ticker string, limit int) ([]models.NewsArticle, error)
}

// Analyst sequences the fetch → build → generate pipeline. It holds no
// per-query state; the only cross-query state is the fetcher's cache.
type Analyst struct {
	mu sync.RWMutex

	source    CompanySource
	provider  llm.Provider // nil until a credential is configured
	news      HeadlineSource
	opts      *llm.ChatOptions
	newsLimit int
}

// Config holds the collaborators for creating an Analyst.
type Config struct {
	Source CompanySource

	// Provider may be nil when no credential is configured yet; queries
	// then answer with the missing-credential string.
	Provider llm.Provider

	// News is optional supplemental grounding. Nil disables headlines.
	News      HeadlineSource
	NewsLimit int

	ChatOptions *llm.ChatOptions
}

// New creates an Analyst.
func New(cfg Config) *Analyst {
	limit := cfg.NewsLimit
	if limit <= 0 {
		limit = 5
	}
	return &Analyst{
		source:    cfg.Source,
		provider:  cfg.Provider,
		news:      cfg.News,
		opts:      cfg.ChatOptions,
		newsLimit: limit,
	}
}

// SetProvider swaps the chat-completion provider at runtime, e.g. after a
// credential arrives through the configuration surface.
func (a *Analyst) SetProvider(p llm.Provider) {
	a.mu.Lock()
	a.provider = p
	a.mu.Unlock()
}

func (a *Analyst) getProvider() llm.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.provider
}

// Answer runs one full query. On fetch failure it returns an absent record,
// an empty answer, and the fetch error — the model is never invoked for a
// known-bad ticker. On success the answer is the model's text or one of the
// canonical fallback strings; generation never returns an error.
func (a *Analyst) Answer(ctx context.Context, ticker, question string) (*models.CompanyRecord, string, error) {
	record, err := a.source.GetCompanyRecord(ctx, ticker)
	if err != nil {
		return nil, "", err
	}

	var headlines []models.NewsArticle
	if a.news != nil {
		name := ""
		if record.CompanyName != nil {
			name = *record.CompanyName
		}
		headlines, err = a.news.CompanyHeadlines(ctx, name, ticker, a.newsLimit)
		if err != nil {
			// Headlines are supplemental; a feed failure never fails a query.
			log.Printf("headlines unavailable for %s: %v", ticker, err)
			headlines = nil
		}
	}

	return record, a.generate(ctx, record, question, headlines), nil
}

// generate produces the answer text for a fetched record. All failure
// paths convert to canonical strings at this boundary.
func (a *Analyst) generate(ctx context.Context, record *models.CompanyRecord, question string, headlines []models.NewsArticle) string {
	if record == nil {
		return AnswerFetchFailed
	}

	provider := a.getProvider()
	if provider == nil {
		return AnswerTokenMissing
	}

	messages := prompts.Build(record, question, headlines)
	resp, err := provider.Chat(ctx, messages, a.opts)
	if err != nil {
		log.Printf("chat completion failed: %v", err)
		return AnswerGenerationFailed
	}

	return strings.TrimSpace(resp.Content)
}
