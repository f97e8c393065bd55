// Manny — conversational stock Q&A grounded in live market data.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mannyfin/manny/api"
	"github.com/mannyfin/manny/internal/analyst"
	"github.com/mannyfin/manny/internal/config"
	"github.com/mannyfin/manny/internal/datasource"
	"github.com/mannyfin/manny/internal/llm"
	"github.com/mannyfin/manny/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "manny",
	Short: "Manny — ask questions about a stock, answered from live data",
	Long: `Manny fetches a company's live market profile, grounds a language
model strictly in that data, and answers your question. Answers never
draw on anything outside the fetched record.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(companyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// newAnalyst assembles the data source, optional headline source, and
// model provider from the loaded config.
func newAnalyst() (*analyst.Analyst, error) {
	source := datasource.NewYahoo(
		datasource.WithYahooCache(datasource.NewCache(time.Duration(cfg.Data.CacheTTLSec)*time.Second)),
		datasource.WithYahooRateLimiter(datasource.NewRateLimiter(cfg.Data.RatePerSec, time.Second)),
	)

	var news analyst.HeadlineSource
	if cfg.News.Enabled {
		news = datasource.NewHeadlines()
	}

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

	return analyst.New(analyst.Config{
		Source:    source,
		Provider:  provider,
		News:      news,
		NewsLimit: cfg.News.Limit,
		ChatOptions: &llm.ChatOptions{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	}), nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Manny %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Ask Command ---

var askCmd = &cobra.Command{
	Use:   "ask [ticker]",
	Short: "Ask a question about a stock",
	Long: `Fetch the company's market profile and answer a question from it.

Examples:
  manny ask INFY.NS -q "What is the P/E ratio?"
  manny ask RELIANCE.NS -q "What sector is this company in?" --no-news`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		if question == "" {
			return fmt.Errorf("a question is required; pass it with -q")
		}
		noNews, _ := cmd.Flags().GetBool("no-news")
		if noNews {
			cfg.News.Enabled = false
		}

		a, err := newAnalyst()
		if err != nil {
			return err
		}

		ticker := utils.NormalizeTicker(args[0])
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
		defer cancel()

		fmt.Printf("🔍 Fetching data for %s...\n\n", ticker)
		record, answer, err := a.Answer(ctx, ticker, question)
		if err != nil {
			return err
		}

		for _, f := range record.Display() {
			if f.Label == "Business Summary" {
				continue
			}
			fmt.Printf("  %-32s %s\n", f.Label+":", f.Value)
		}
		fmt.Printf("\n💬 %s\n", answer)
		return nil
	},
}

func init() {
	askCmd.Flags().StringP("question", "q", "", "question to answer from the fetched data")
	askCmd.Flags().Bool("no-news", false, "skip headline enrichment")
}

// --- Company Command ---

var companyCmd = &cobra.Command{
	Use:   "company [ticker]",
	Short: "Show a company's market profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := datasource.NewYahoo()

		ticker := utils.NormalizeTicker(args[0])
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		record, err := source.GetCompanyRecord(ctx, ticker)
		if err != nil {
			return err
		}

		for _, f := range record.Display() {
			fmt.Printf("  %-32s %s\n", f.Label+":", f.Value)
		}
		return nil
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := api.NewServer(cfg)
		if err != nil {
			return err
		}

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		fmt.Printf("🌐 Starting Manny API server on %s\n", addr)
		return srv.ListenAndServe(addr)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  Manny — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:     %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    Model:        %s\n", cfg.LLM.Model)
		fmt.Printf("    Cache TTL:    %ds\n", cfg.Data.CacheTTLSec)
		fmt.Printf("    Headlines:    %v (limit %d)\n", cfg.News.Enabled, cfg.News.Limit)
		fmt.Printf("    API Server:   %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
