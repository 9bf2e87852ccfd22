package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_quote_cache/internal/domain"
	"github.com/vitos/crypto_quote_cache/internal/infrastructure/storage"
)

// Prints the persisted book chain of one instrument, resolved back to full books.
// Bases are not stored with the chain, so they come from the flags.
func main() {
	dbPath := flag.String("db", "quotes.db", "sqlite database")
	symbol := flag.String("instrument", "", "instrument symbol, e.g. BYBIT:BTC.USDT")
	limit := flag.Int("limit", 20, "newest books to load, 0 for all")
	depth := flag.Int("depth", 5, "levels printed per side")
	priceBasis := flag.String("price-basis", "0.01", "instrument price basis")
	volumeBasis := flag.String("volume-basis", "0.001", "instrument volume basis")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	ctx := context.Background()

	if *symbol == "" {
		symbols, err := store.ListInstruments(ctx)
		if err != nil {
			fmt.Printf("Failed to list instruments: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Found %d instruments:\n", len(symbols))
		for _, s := range symbols {
			n, _ := store.CountBooks(ctx, s)
			fmt.Printf("- %s (%d books)\n", s, n)
		}
		return
	}

	inst, err := parseInstrument(*symbol, *priceBasis, *volumeBasis)
	if err != nil {
		fmt.Printf("Bad instrument: %v\n", err)
		os.Exit(1)
	}
	records, err := store.LoadChain(ctx, inst.Symbol(), *limit)
	if err != nil {
		fmt.Printf("Failed to load chain: %v\n", err)
		os.Exit(1)
	}
	books, err := domain.NewBookChain().Restore(inst, records)
	if err != nil {
		fmt.Printf("Chain restored with gaps: %v\n", err)
	}

	fmt.Printf("Loaded %d records, %d books restored:\n", len(records), len(books))
	for _, b := range books {
		bids, asks, err := b.Resolve()
		if err != nil {
			fmt.Printf("- #%d: %v\n", b.ID(), err)
			continue
		}
		fmt.Printf("- #%d parent=%d time=%s bids=%d asks=%d\n",
			b.ID(), b.ParentID(), b.Time.Format("15:04:05.000"), len(bids), len(asks))
		for i := 0; i < *depth && (i < len(bids) || i < len(asks)); i++ {
			fmt.Printf("    %-24s %-24s\n", level(bids, i), level(asks, i))
		}
	}
}

// parseInstrument builds an instrument from EXCHANGE:BASE.QUOTE[.PROMPT]. Asset bases are
// not needed to resolve books, so the instrument bases stand in for them.
func parseInstrument(symbol, priceBasis, volumeBasis string) (*domain.Instrument, error) {
	exchange, pairSymbol, ok := strings.Cut(symbol, ":")
	if !ok {
		return nil, fmt.Errorf("%q has no exchange prefix", symbol)
	}
	parts := strings.Split(pairSymbol, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%q is not BASE.QUOTE[.PROMPT]", pairSymbol)
	}
	pb, err := decimal.NewFromString(priceBasis)
	if err != nil {
		return nil, err
	}
	vb, err := decimal.NewFromString(volumeBasis)
	if err != nil {
		return nil, err
	}
	base, err := domain.NewAsset(parts[0], vb)
	if err != nil {
		return nil, err
	}
	quote, err := domain.NewAsset(parts[1], pb)
	if err != nil {
		return nil, err
	}
	prompt := ""
	if len(parts) == 3 {
		prompt = parts[2]
	}
	pair, err := domain.NewAssetPair(base, quote, prompt)
	if err != nil {
		return nil, err
	}
	return domain.NewInstrument(exchange, "", pair, pb, vb)
}

func level(side []domain.Offer, i int) string {
	if i >= len(side) {
		return ""
	}
	return fmt.Sprintf("%s x %s", side[i].Price, side[i].Volume)
}
