package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/config"
	"github.com/vitos/crypto_quote_cache/internal/infrastructure/exchange"
	"github.com/vitos/crypto_quote_cache/internal/usecase"
	"go.uber.org/zap"
)

// Streams Bybit market data for a few seconds and prints what the quote cache derived from it.
func main() {
	// 1. Load Config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var bybitCfg *config.ExchangeConfig
	for i := range cfg.Exchanges {
		if strings.EqualFold(cfg.Exchanges[i].Name, exchange.BybitName) {
			bybitCfg = &cfg.Exchanges[i]
		}
	}
	if bybitCfg == nil {
		fmt.Println("No bybit exchange configured")
		os.Exit(1)
	}
	fmt.Printf("Testing Bybit Interaction...\n")
	fmt.Printf("Endpoint: %s\n", bybitCfg.RESTEndpoint)

	registry := usecase.NewRegistry()
	for _, a := range cfg.Assets {
		if _, err := registry.RegisterAsset(a.Symbol, decimal.RequireFromString(a.Basis)); err != nil {
			fmt.Printf("❌ Asset %s: %v\n", a.Symbol, err)
		}
	}

	interval, _ := config.BarInterval(bybitCfg.BarInterval)
	feed := exchange.NewBybitFeed(exchange.BybitConfig{
		RESTEndpoint:  bybitCfg.RESTEndpoint,
		WSEndpoint:    bybitCfg.WSEndpoint,
		Category:      bybitCfg.Category,
		Symbols:       bybitCfg.Symbols,
		BookDepth:     bybitCfg.BookDepth,
		KlineInterval: bybitCfg.BarInterval,
		BarInterval:   interval,
	}, registry, zap.NewNop())

	// 2. Check REST (instruments)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	instruments, err := feed.LoadInstruments(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to load instruments: %v\n", err)
		os.Exit(1)
	}
	for _, inst := range instruments {
		fmt.Printf("✅ %s tick=%s step=%s\n", inst.Symbol(), inst.PriceBasis, inst.VolumeBasis)
	}

	// 3. Check WS (trades and books)
	quotes := usecase.NewQuoteService(registry, usecase.QuoteServiceOptions{SeedUSDT: cfg.SeedUSDT()}, nil)
	_ = feed.Run(ctx, quotes)

	for _, inst := range instruments {
		fmt.Printf("%s:\n", inst.Symbol())
		if t := quotes.LastTrade(inst); t != nil {
			fmt.Printf("  ✅ Last trade: %s x %s (%s)\n", t.Price, t.Volume, t.Side)
		} else {
			fmt.Printf("  ❌ No trade received\n")
		}
		bid, ask := quotes.BestBid(inst.Pair), quotes.BestAsk(inst.Pair)
		if bid != nil && ask != nil {
			fmt.Printf("  ✅ Best bid %s / ask %s, %d books compacted\n", bid.Price, ask.Price, quotes.Chain().Length(inst))
		} else {
			fmt.Printf("  ❌ No book received\n")
		}
	}
}
