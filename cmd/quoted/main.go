package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/config"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"github.com/vitos/crypto_quote_cache/internal/infrastructure/exchange"
	"github.com/vitos/crypto_quote_cache/internal/infrastructure/logger"
	"github.com/vitos/crypto_quote_cache/internal/infrastructure/storage"
	"github.com/vitos/crypto_quote_cache/internal/usecase"
	"github.com/vitos/crypto_quote_cache/internal/web"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	path := os.Getenv("QUOTES_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Reference data
	registry := usecase.NewRegistry()
	for _, a := range cfg.Assets {
		if _, err := registry.RegisterAsset(a.Symbol, decimal.RequireFromString(a.Basis)); err != nil {
			log.Fatal("Failed to register asset", zap.String("asset", a.Symbol), zap.Error(err))
		}
	}

	var feeds []domain.Feed
	for _, ex := range cfg.Exchanges {
		if !strings.EqualFold(ex.Name, exchange.BybitName) {
			log.Warn("Unsupported exchange, skipping", zap.String("exchange", ex.Name))
			continue
		}
		interval, _ := config.BarInterval(ex.BarInterval)
		feed := exchange.NewBybitFeed(exchange.BybitConfig{
			RESTEndpoint:  ex.RESTEndpoint,
			WSEndpoint:    ex.WSEndpoint,
			Category:      ex.Category,
			Symbols:       ex.Symbols,
			BookDepth:     ex.BookDepth,
			KlineInterval: ex.BarInterval,
			BarInterval:   interval,
		}, registry, log)
		if _, err := feed.LoadInstruments(ctx); err != nil {
			log.Fatal("Failed to load instruments", zap.String("exchange", ex.Name), zap.Error(err))
		}
		feeds = append(feeds, feed)
	}

	// 4. Storage
	opts := usecase.QuoteServiceOptions{SeedUSDT: cfg.SeedUSDT()}
	var (
		store    *storage.SQLiteStore
		archiver *usecase.BookArchiver
	)
	if cfg.Storage.Enabled {
		store, err = storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		defer store.Close()
		archiveLog := log.Named("archiver")
		if cfg.Storage.LogPath != "" {
			if archiveLog, err = logger.NewFileLogger(cfg.Storage.LogPath, cfg.Logging.Level); err != nil {
				log.Fatal("Failed to init archive log", zap.Error(err))
			}
			defer archiveLog.Sync()
		}
		archiver = usecase.NewBookArchiver(store, cfg.Storage.QueueSize, archiveLog)
		opts.Sink = archiver
	}

	// 5. Quote service
	quotes := usecase.NewQuoteService(registry, opts, log)
	if store != nil {
		if err := quotes.Restore(ctx, store, cfg.Storage.RestoreLimit); err != nil {
			log.Error("Failed to restore book chains", zap.Error(err))
		}
	}

	dispatcher := usecase.NewDispatcher(log)
	dispatcher.Register("quotes", quotes)

	// 6. Background workers
	var wg sync.WaitGroup
	if archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archiver.Run(ctx)
		}()
	}
	for _, feed := range feeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx, dispatcher); err != nil {
				log.Error("Feed stopped", zap.Error(err))
			}
		}()
	}

	// 7. Web server
	server := web.NewServer(cfg.Server.Port, registry, quotes, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
			stop()
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	wg.Wait()

	if archiver != nil {
		saved, dropped, failed := archiver.Stats()
		log.Info("Books archived", zap.Int64("saved", saved), zap.Int64("dropped", dropped), zap.Int64("failed", failed))
	}
}
