package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"arbitrage/internal/api"
	"arbitrage/internal/config"
	"arbitrage/internal/engine"
	"arbitrage/internal/exchange"
	"arbitrage/internal/logging"
	"arbitrage/internal/models"
	"arbitrage/internal/recovery"
	"arbitrage/internal/repository"
	"arbitrage/pkg/crypto"
	"arbitrage/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer logger.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to audit database")

	tradeRepo := repository.NewTradeRepository(db)
	oppRepo := repository.NewOpportunityRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	healthRepo := repository.NewHealthSnapshotRepository(db)

	apiSecret, err := resolveExchangeSecret(cfg)
	if err != nil {
		logger.Fatal("failed to resolve exchange secret", zap.Error(err))
	}

	kraken := exchange.NewKraken(logger)
	kraken.SetBookDepth(cfg.Trading.OrderbookDepth)
	if err := kraken.Connect(os.Getenv("KRAKEN_API_KEY"), apiSecret); err != nil {
		logger.Fatal("failed to configure exchange credentials", zap.Error(err))
	}
	defer kraken.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	var catalog []exchange.PairInfo
	err = retry.Do(ctx, retry.Probe(), func() error {
		var e error
		catalog, e = kraken.ListPairs(ctx, cfg.Trading.MaxPairs)
		return e
	})
	cancel()
	if err != nil {
		logger.Fatal("failed to fetch bootstrap pair catalog", zap.Error(err))
	}

	pairMeta := make(map[string]models.Pair, len(catalog))
	symbols := make([]string, 0, len(catalog))
	for _, p := range catalog {
		pairMeta[p.Symbol] = models.Pair{
			Symbol: p.Symbol, Base: models.Currency(p.Base), Quote: models.Currency(p.Quote),
			PricePrecision: p.PricePrecision, VolumePrecision: p.VolumePrecision, MinOrderSize: p.MinOrderSize,
		}
		symbols = append(symbols, p.Symbol)
	}
	logger.Info("bootstrap catalog loaded", zap.Int("pairs", len(symbols)))

	// Refresh the account's fee tier from the exchange before the fee
	// rate is baked into the conversion graph; configured defaults stand
	// when the private call is unavailable (missing credentials, outage).
	if len(symbols) > 0 {
		feeCtx, feeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		taker, maker, err := kraken.Fees(feeCtx, symbols[0])
		feeCancel()
		if err != nil {
			logger.Warn("could not refresh fee tier, keeping configured defaults", zap.Error(err))
		} else if taker > 0 {
			cfg.Trading.TakerFeePct = taker
			cfg.Trading.MakerFeePct = maker
			logger.Info("fee tier refreshed", zap.Float64("taker_pct", taker), zap.Float64("maker_pct", maker))
		}
	}

	eng := engine.New(cfg, kraken, pairMeta, tradeRepo, oppRepo, notifRepo, healthRepo, logger)

	recoveryMgr := recovery.New(tradeRepo, kraken, eng.Breaker(), eng.WireResolver(), logger)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := recoveryMgr.Run(startupCtx); err != nil {
		logger.Error("startup recovery failed", zap.Error(err))
	}
	startupCancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	engineErrCh := make(chan error, 1)
	go func() {
		engineErrCh <- eng.Run(runCtx, symbols)
	}()

	deps := &api.Dependencies{Breaker: eng.Breaker(), Scanner: eng.Scanner(), Resolver: eng}
	router := api.SetupRoutes(deps)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting status server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("status server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	runCancel()

	select {
	case err := <-engineErrCh:
		if err != nil && err != context.Canceled {
			logger.Error("engine exited with error", zap.Error(err))
		}
	case <-time.After(30 * time.Second):
		logger.Warn("engine did not drain within shutdown timeout")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status server forced to shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// resolveExchangeSecret returns the Kraken API secret in plaintext,
// decrypting KRAKEN_API_SECRET_ENC with the configured encryption key
// when present. Falls back to the plaintext KRAKEN_API_SECRET for
// local development so the encrypted path stays optional, not required.
func resolveExchangeSecret(cfg *config.Config) (string, error) {
	if enc := os.Getenv("KRAKEN_API_SECRET_ENC"); enc != "" {
		plaintext, err := crypto.DecryptWithKeyString(enc, cfg.Security.EncryptionKey)
		if err != nil {
			return "", fmt.Errorf("decrypt exchange secret: %w", err)
		}
		return plaintext, nil
	}
	return os.Getenv("KRAKEN_API_SECRET"), nil
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
