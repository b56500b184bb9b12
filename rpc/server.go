package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pelago/native/lending"
)

// lendingEngine is the surface this layer consumes from the ledger
// engine; *lending.Engine satisfies it.
type lendingEngine interface {
	Supply(id lending.MarketID, supplier common.Address, amount lending.Amount) (uint64, uint64, error)
	Withdraw(id lending.MarketID, supplier common.Address, amount lending.Amount) (uint64, uint64, error)
	Borrow(id lending.MarketID, borrower common.Address, amount lending.Amount) (uint64, uint64, error)
	Repay(id lending.MarketID, payer, borrower common.Address, amount lending.Amount) (uint64, uint64, error)
	SupplyCollateral(id lending.MarketID, owner common.Address, amount uint64) error
	WithdrawCollateral(id lending.MarketID, owner common.Address, amount uint64) error
	Accrue(id lending.MarketID) (uint64, error)
	IsHealthy(id lending.MarketID, owner common.Address) (bool, error)
	Market(id lending.MarketID) (*lending.Market, error)
	Position(id lending.MarketID, owner common.Address) (*lending.UserPosition, error)
}

// Server exposes the ledger's six transitions and read-only views over
// HTTP. All state decisions live in the engine; this layer only parses,
// dispatches and maps errors.
type Server struct {
	engine  LedgerEngine
	logger  *slog.Logger
	limiter *rateLimiter
}

// LedgerEngine is the surface the HTTP layer needs from the lending
// engine. Declared here so tests can substitute a failing engine.
type LedgerEngine = lendingEngine

// Options configures the HTTP server.
type Options struct {
	Logger            *slog.Logger
	RequestsPerMinute float64
	Burst             int
}

// NewServer wires the handler stack around a lending engine.
func NewServer(engine LedgerEngine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		limiter: newRateLimiter(opts.RequestsPerMinute, opts.Burst, logger),
	}
}

// Handler builds the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/lending", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		s.mountLending(r)
	})
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, apiErr *APIError) {
	if apiErr == nil {
		return
	}
	s.writeJSON(w, apiErr.HTTPStatus, map[string]string{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	})
}
