package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/crypto_quote_cache/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	registry *usecase.Registry
	quotes   *usecase.QuoteService
	logger   *zap.Logger
}

func NewServer(
	port int,
	registry *usecase.Registry,
	quotes *usecase.QuoteService,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:   http.NewServeMux(),
		registry: registry,
		quotes:   quotes,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Instruments
	s.router.HandleFunc("GET /api/instruments", s.handleListInstruments)
	s.router.HandleFunc("GET /api/instruments/{symbol}/trade", s.handleInstrumentTrade)
	s.router.HandleFunc("GET /api/instruments/{symbol}/book", s.handleInstrumentBook)
	s.router.HandleFunc("GET /api/instruments/{symbol}/bid", s.handleInstrumentBid)
	s.router.HandleFunc("GET /api/instruments/{symbol}/ask", s.handleInstrumentAsk)
	s.router.HandleFunc("GET /api/instruments/{symbol}/bar", s.handleInstrumentBar)

	// Asset pairs
	s.router.HandleFunc("GET /api/pairs/{symbol}/trade", s.handlePairTrade)
	s.router.HandleFunc("GET /api/pairs/{symbol}/book", s.handlePairBook)
	s.router.HandleFunc("GET /api/pairs/{symbol}/bar", s.handlePairBar)
	s.router.HandleFunc("GET /api/pairs/{symbol}/best-bid", s.handlePairOffer(s.quotes.BestBid))
	s.router.HandleFunc("GET /api/pairs/{symbol}/best-ask", s.handlePairOffer(s.quotes.BestAsk))
	s.router.HandleFunc("GET /api/pairs/{symbol}/implied-bid", s.handlePairOffer(s.quotes.ImpliedBid))
	s.router.HandleFunc("GET /api/pairs/{symbol}/implied-ask", s.handlePairOffer(s.quotes.ImpliedAsk))
	s.router.HandleFunc("GET /api/pairs/{symbol}/markets", s.handlePairMarkets)

	// Rate matrices
	s.router.HandleFunc("GET /api/rates/{matrix}", s.handleRates)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
