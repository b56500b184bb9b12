package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pelago/config"
	"pelago/core/state"
	coretypes "pelago/core/types"
	"pelago/native/custody"
	"pelago/native/lending"
	"pelago/observability"
	"pelago/observability/logging"
	"pelago/rpc"
	"pelago/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to pelagod config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PELAGO_ENV"))
	logger := logging.Setup("pelagod", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "" {
		env = cfg.Environment
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "err", err)
		}
	}()

	manager := state.NewManager(db)
	engine := lending.NewEngine()
	engine.SetState(manager)
	engine.SetCustody(custody.NewLedger(manager))
	engine.SetClock(lending.ClockFunc(func() int64 { return time.Now().Unix() }))
	engine.SetOraclePrice(cfg.OraclePrice)
	engine.SetEventSink(&eventLogger{logger: logger})

	authority, loanAsset, collateralAsset, loanVault, collateralVault := cfg.MarketAddresses()
	marketID, err := engine.InitializeMarket(authority, loanAsset, collateralAsset, loanVault, collateralVault, cfg.Market.LLTV)
	switch {
	case err == nil:
		logger.Info("market initialised", "market", marketID.String(), "lltv", cfg.Market.LLTV)
	case errors.Is(err, lending.ErrMarketExists):
		marketID = lending.NewMarketID(loanAsset, collateralAsset)
		logger.Info("market already initialised", "market", marketID.String())
	default:
		log.Fatalf("bootstrap market: %v", err)
	}

	server := rpc.NewServer(engine, rpc.Options{
		Logger:            logger,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("pelagod listening", "addr", cfg.ListenAddress, "market", marketID.String())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown http server", "err", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}

// eventLogger forwards ledger events to the structured log and the
// metrics registry.
type eventLogger struct {
	logger *slog.Logger
}

func (s *eventLogger) Emit(evt *coretypes.Event) {
	if evt == nil {
		return
	}
	observability.Ledger().RecordEvent(evt.Type)
	args := make([]any, 0, 2*len(evt.Attributes))
	for key, value := range evt.Attributes {
		args = append(args, key, value)
	}
	s.logger.Info(evt.Type, args...)
}
