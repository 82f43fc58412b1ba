// One-shot CLI: analyze a symbol against the backend, streaming step
// progress to the terminal, then print the scores.
//
// Usage:
//
//	go run cmd/hypewatch/main.go [-refresh] [-json] AAPL
//	go run cmd/hypewatch/main.go -trending
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"hypewatch/internal/analyze"
	"hypewatch/internal/config"
	"hypewatch/internal/util"
)

func main() {
	var (
		backend  = flag.String("backend", "", "backend base URL (default from config/env)")
		mode     = flag.String("mode", "", "transport mode: stream, json, or poll")
		refresh  = flag.Bool("refresh", false, "force a fresh run, bypassing the backend cache")
		jsonOut  = flag.Bool("json", false, "print the full result as JSON")
		trending = flag.Bool("trending", false, "list trending movers and exit")
		logLevel = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg := config.Default()
	if *backend != "" {
		cfg.Backend.BaseURL = *backend
	}
	if *mode != "" {
		cfg.Backend.Mode = *mode
	}
	logger := util.NewLogger(*logLevel, "text")
	util.SetDefault(logger)

	ctx := context.Background()

	if *trending {
		stocks, err := analyze.FetchTrending(ctx, cfg.Backend.BaseURL, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "trending: %v\n", err)
			os.Exit(1)
		}
		for _, s := range stocks {
			fmt.Printf("%-6s %10s %8s %8s  %s\n", s.Ticker, s.Price, s.Change, s.ChangePercent, s.Sector)
		}
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: hypewatch [flags] SYMBOL")
		flag.PrintDefaults()
		os.Exit(1)
	}
	symbol := flag.Arg(0)

	var transport analyze.Transport
	switch cfg.Backend.Mode {
	case "stream", "":
		transport = analyze.NewStreamTransport(cfg.Backend.BaseURL)
	case "json":
		transport = analyze.NewJSONTransport(cfg.Backend.BaseURL)
	case "poll":
		transport = analyze.NewPollTransport(cfg.Backend.BaseURL, cfg.Backend.PollInterval())
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", cfg.Backend.Mode)
		os.Exit(1)
	}

	client := analyze.NewClient(transport, analyze.Options{
		Logger: logger,
		Notify: func(u analyze.StepUpdate) {
			marker := " "
			switch u.Severity {
			case analyze.SeverityPositive:
				marker = "+"
			case analyze.SeverityNegative:
				marker = "!"
			}
			msg := u.Record.Message
			if msg == "" {
				msg = u.Record.Step
			}
			fmt.Printf("[%s] %s %s\n", u.Record.Status, marker, msg)
		},
	})

	start := time.Now()
	<-client.Start(ctx, symbol, *refresh)
	st := client.Snapshot()

	switch st.Phase {
	case analyze.PhaseSucceeded:
	case analyze.PhaseLoading:
		fmt.Fprintln(os.Stderr, "stream ended without a result; the job may still be running, retry with -refresh")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", st.Err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st.Result); err != nil {
			fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
			os.Exit(1)
		}
		return
	}

	scores := st.Result.Scores
	fmt.Printf("\n=== %s (%.1fs) ===\n", st.Symbol, time.Since(start).Seconds())
	if ci := st.Result.CompanyInfo; ci != nil && ci.Name != "" {
		fmt.Printf("%s (%s)\n", ci.Name, ci.Sector)
	}
	fmt.Printf("  hype index            %6.1f\n", scores.HypeIndex)
	fmt.Printf("  financial momentum    %6.1f\n", scores.FinancialMomentum)
	fmt.Printf("  news sentiment        %6.1f\n", scores.NewsSentiment)
	fmt.Printf("  social buzz           %6.1f\n", scores.SocialBuzz)
	fmt.Printf("  sentiment/price div.  %6.1f\n", scores.SentimentPriceDivergence)
	if st.Result.LastRun != "" {
		fmt.Printf("  last run              %s\n", st.Result.LastRun)
	}
}
