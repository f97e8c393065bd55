package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/mannyfin/manny/pkg/models"
	"github.com/mannyfin/manny/pkg/utils"
)

// NewsSource is a single financial news RSS feed.
type NewsSource struct {
	Name   string
	RSSURL string
}

// DefaultNewsSources lists the configured Indian financial news RSS feeds.
var DefaultNewsSources = []NewsSource{
	{Name: "Moneycontrol", RSSURL: "https://www.moneycontrol.com/rss/marketreports.xml"},
	{Name: "Economic Times Markets", RSSURL: "https://economictimes.indiatimes.com/markets/rssfeeds/1977021501.cms"},
	{Name: "LiveMint Markets", RSSURL: "https://www.livemint.com/rss/markets"},
	{Name: "Business Standard Markets", RSSURL: "https://www.business-standard.com/rss/markets-106.rss"},
}

// Headlines fetches recent market headlines and filters them down to the
// ones mentioning a specific company. Supplemental grounding context only:
// a headline failure never fails a query.
type Headlines struct {
	sources []NewsSource
	cache   *Cache
	limiter *RateLimiter
	parser  *gofeed.Parser
}

// NewHeadlines creates a headlines source with the default Indian feeds.
func NewHeadlines() *Headlines {
	return NewHeadlinesWithSources(DefaultNewsSources)
}

// NewHeadlinesWithSources creates a headlines source with custom feeds.
func NewHeadlinesWithSources(sources []NewsSource) *Headlines {
	return &Headlines{
		sources: sources,
		cache:   NewCache(10 * time.Minute),
		limiter: NewRateLimiter(2, time.Second), // conservative: 2 req/s
		parser:  gofeed.NewParser(),
	}
}

// Name returns the data source name.
func (h *Headlines) Name() string { return "Indian News" }

// CompanyHeadlines returns recent headlines mentioning the company,
// matched by company name or bare exchange symbol.
func (h *Headlines) CompanyHeadlines(ctx context.Context, companyName, ticker string, limit int) ([]models.NewsArticle, error) {
	all, err := h.marketHeadlines(ctx)
	if err != nil {
		return nil, err
	}

	keywords := companyKeywords(companyName, ticker)
	var filtered []models.NewsArticle
	for _, a := range all {
		if matchesAny(a.Title+" "+a.Summary, keywords) {
			filtered = append(filtered, a)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// marketHeadlines fetches all configured feeds concurrently and merges the
// articles newest-first. Individual feed failures are skipped.
func (h *Headlines) marketHeadlines(ctx context.Context) ([]models.NewsArticle, error) {
	const cacheKey = "news:market"
	if cached, ok := h.cache.Get(cacheKey); ok {
		return cached.([]models.NewsArticle), nil
	}

	var mu sync.Mutex
	var all []models.NewsArticle

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range h.sources {
		src := src
		g.Go(func() error {
			articles, err := h.fetchRSS(ctx, src)
			if err != nil {
				// Non-critical: skip failed sources.
				return nil
			}
			mu.Lock()
			all = append(all, articles...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].PublishedAt.After(all[j].PublishedAt)
	})

	h.cache.Set(cacheKey, all)
	return all, nil
}

// fetchRSS parses an RSS feed and returns its articles.
func (h *Headlines) fetchRSS(ctx context.Context, src NewsSource) ([]models.NewsArticle, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feed, err := h.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	articles := make([]models.NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.NewsArticle{
			Title:   item.Title,
			URL:     item.Link,
			Source:  src.Name,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		articles = append(articles, a)
	}

	return articles, nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// companyKeywords builds the lowercase match terms for a company.
func companyKeywords(companyName, ticker string) []string {
	var keywords []string
	if name := strings.TrimSpace(strings.ToLower(companyName)); name != "" {
		keywords = append(keywords, name)
	}
	if sym := strings.ToLower(utils.BareSymbol(ticker)); sym != "" {
		keywords = append(keywords, sym)
	}
	return keywords
}

func matchesAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
