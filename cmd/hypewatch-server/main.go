// hypewatch-server runs the dashboard service: it tracks the saved-symbol
// watchlist against the analysis backend, keeps results inside the staleness
// horizon, archives scores, and serves the REST/SSE/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hypewatch/internal/analyze"
	"hypewatch/internal/bookmarks"
	"hypewatch/internal/config"
	"hypewatch/internal/dashboard"
	"hypewatch/internal/feeds"
	"hypewatch/internal/history"
	"hypewatch/internal/httpapi"
	"hypewatch/internal/util"
)

func main() {
	cfgPath := "config/hypewatch.yaml"
	if p := os.Getenv("HYPEWATCH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	store, err := bookmarks.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening settings store: %v", err)
	}
	defer store.Close()

	archive, err := history.NewArchive(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("opening score archive: %v", err)
	}

	var transport analyze.Transport
	switch cfg.Backend.Mode {
	case "stream", "":
		transport = analyze.NewStreamTransport(cfg.Backend.BaseURL)
	case "json":
		transport = analyze.NewJSONTransport(cfg.Backend.BaseURL)
	case "poll":
		transport = analyze.NewPollTransport(cfg.Backend.BaseURL, cfg.Backend.PollInterval())
	default:
		log.Fatalf("unknown backend mode %q", cfg.Backend.Mode)
	}

	fetcher := feeds.NewFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, logger)
	tracker := dashboard.NewTracker(transport, store, archive, logger)
	api := httpapi.NewServer(tracker, store, archive, fetcher, cfg.Backend.BaseURL, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go api.Hub().Run(ctx)
	go tracker.Run(ctx, cfg.Dashboard.RefreshInterval())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("hypewatch-server listening", "addr", addr, "backend", cfg.Backend.BaseURL, "mode", cfg.Backend.Mode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
