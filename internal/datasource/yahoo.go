package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mannyfin/manny/pkg/models"
	"github.com/mannyfin/manny/pkg/utils"
)

// CompanyCacheTTL is how long a fetched CompanyRecord stays fresh.
const CompanyCacheTTL = 900 * time.Second

// Yahoo fetches company data from the Yahoo Finance API.
type Yahoo struct {
	baseURL string
	client  *http.Client
	cache   *Cache
	limiter *RateLimiter
}

// YahooOption configures the Yahoo fetcher.
type YahooOption func(*Yahoo)

// WithYahooBaseURL sets a custom base URL (e.g., for tests or proxies).
func WithYahooBaseURL(url string) YahooOption {
	return func(y *Yahoo) { y.baseURL = strings.TrimRight(url, "/") }
}

// WithYahooHTTPClient sets a custom HTTP client.
func WithYahooHTTPClient(client *http.Client) YahooOption {
	return func(y *Yahoo) { y.client = client }
}

// WithYahooCache sets a custom cache, making TTL policy injectable.
func WithYahooCache(cache *Cache) YahooOption {
	return func(y *Yahoo) { y.cache = cache }
}

// WithYahooRateLimiter sets a custom rate limiter.
func WithYahooRateLimiter(limiter *RateLimiter) YahooOption {
	return func(y *Yahoo) { y.limiter = limiter }
}

// NewYahoo creates a Yahoo Finance fetcher with a 900-second record cache
// and a polite client-side request rate.
func NewYahoo(opts ...YahooOption) *Yahoo {
	y := &Yahoo{
		baseURL: "https://query1.finance.yahoo.com",
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   NewCache(CompanyCacheTTL),
		limiter: NewRateLimiter(5, time.Second), // 5 req/s
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Name returns the data source name.
func (y *Yahoo) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance API types ---

type yfChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp []int64 `json:"timestamp"`
		} `json:"result"`
		Error *yfError `json:"error"`
	} `json:"chart"`
}

type yfSummaryResponse struct {
	QuoteSummary struct {
		Result []yfSummaryResult `json:"result"`
		Error  *yfError          `json:"error"`
	} `json:"quoteSummary"`
}

type yfSummaryResult struct {
	Price         *yfPrice         `json:"price"`
	SummaryDetail *yfSummaryDetail `json:"summaryDetail"`
	AssetProfile  *yfAssetProfile  `json:"assetProfile"`
}

type yfPrice struct {
	LongName  string    `json:"longName"`
	MarketCap *yfNumber `json:"marketCap"`
}

type yfSummaryDetail struct {
	TrailingPE       *yfNumber `json:"trailingPE"`
	DividendYield    *yfNumber `json:"dividendYield"`
	FiftyTwoWeekHigh *yfNumber `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow  *yfNumber `json:"fiftyTwoWeekLow"`
}

type yfAssetProfile struct {
	Sector              string `json:"sector"`
	Industry            string `json:"industry"`
	LongBusinessSummary string `json:"longBusinessSummary"`
}

// yfNumber is Yahoo's {raw, fmt} value envelope. Raw is nil when the
// field is present but empty.
type yfNumber struct {
	Raw *float64 `json:"raw"`
	Fmt string   `json:"fmt"`
}

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Public methods ---

// GetCompanyRecord returns the normalized company snapshot for a ticker.
// Results are cached by exact ticker string for CompanyCacheTTL; a cache
// hit bypasses the network entirely. A ticker with no recent trading
// history yields ErrTickerNotFound; any other failure is a provider error.
func (y *Yahoo) GetCompanyRecord(ctx context.Context, ticker string) (*models.CompanyRecord, error) {
	if strings.TrimSpace(ticker) == "" {
		return nil, fmt.Errorf("ticker must not be empty")
	}

	cacheKey := "company:" + ticker
	if cached, ok := y.cache.Get(cacheKey); ok {
		return cached.(*models.CompanyRecord), nil
	}

	// Liveness probe: a symbol without recent trading history is treated
	// as delisted or invalid before any metadata is requested.
	alive, err := y.hasTradingHistory(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, fmt.Errorf("%w: no data found for ticker %q; it may be delisted or invalid", ErrTickerNotFound, ticker)
	}

	record, err := y.fetchSummary(ctx, ticker)
	if err != nil {
		return nil, err
	}

	if !record.HasName() {
		log.Printf("warning: fetched ticker %q but detailed information is sparse", ticker)
	}

	y.cache.Set(cacheKey, record)
	return record, nil
}

// --- Internal helpers ---

// hasTradingHistory checks the chart API for at least one 1-day candle.
func (y *Yahoo) hasTradingHistory(ctx context.Context, ticker string) (bool, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return false, err
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", y.baseURL, ticker)
	body, _, err := doGet(ctx, y.client, url, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		// Yahoo answers 404 for unknown symbols on the chart endpoint.
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("yahoo chart %s: %w", ticker, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	var resp yfChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, fmt.Errorf("parse yahoo chart: %w", err)
	}

	if resp.Chart.Error != nil {
		return false, nil
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Timestamp) == 0 {
		return false, nil
	}
	return true, nil
}

// fetchSummary retrieves and normalizes the company metadata payload.
func (y *Yahoo) fetchSummary(ctx context.Context, ticker string) (*models.CompanyRecord, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	modules := "price,summaryDetail,assetProfile"
	url := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s", y.baseURL, ticker, modules)

	body, _, err := doGet(ctx, y.client, url, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo summary %s: %w", ticker, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yfSummaryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse yahoo summary: %w", err)
	}

	if resp.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("yahoo API error: %s", resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("yahoo summary %s: empty result", ticker)
	}

	return normalizeSummary(ticker, resp.QuoteSummary.Result[0]), nil
}

// normalizeSummary maps the raw Yahoo payload into the fixed record shape.
// Missing upstream fields become nil; MarketCap and DividendYield are
// display-formatted here, treating an absent value as zero.
func normalizeSummary(ticker string, r yfSummaryResult) *models.CompanyRecord {
	record := &models.CompanyRecord{
		Ticker:    ticker,
		FetchedAt: time.Now(),
	}

	var marketCap, dividendYield float64

	if r.Price != nil {
		record.CompanyName = optString(r.Price.LongName)
		if v := numValue(r.Price.MarketCap); v != nil {
			marketCap = *v
		}
	}
	if r.SummaryDetail != nil {
		record.PERatio = numValue(r.SummaryDetail.TrailingPE)
		record.WeekHigh52 = numValue(r.SummaryDetail.FiftyTwoWeekHigh)
		record.WeekLow52 = numValue(r.SummaryDetail.FiftyTwoWeekLow)
		if v := numValue(r.SummaryDetail.DividendYield); v != nil {
			dividendYield = *v
		}
	}
	if r.AssetProfile != nil {
		record.Sector = optString(r.AssetProfile.Sector)
		record.Industry = optString(r.AssetProfile.Industry)
		record.BusinessSummary = optString(r.AssetProfile.LongBusinessSummary)
	}

	record.MarketCap = utils.FormatINR(marketCap)
	// Yahoo reports the yield as a ratio; render as a percentage.
	record.DividendYield = utils.FormatPercent(dividendYield * 100)

	return record
}

func optString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func numValue(n *yfNumber) *float64 {
	if n == nil || n.Raw == nil {
		return nil
	}
	return n.Raw
}
