package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"lendflow/chain"
	"lendflow/config"
	"lendflow/gateway"
	"lendflow/lending"
	"lendflow/observability/logging"
	"lendflow/oracle"
	"lendflow/storage"
)

func main() {
	var cfgPath string
	var env string
	flag.StringVar(&cfgPath, "config", "lendflow.toml", "path to lendflowd config")
	flag.StringVar(&env, "env", "dev", "deployment environment tag for logs")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("lendflowd", env, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, env); err != nil {
		logger.Error("lendflowd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, env string) error {
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := storage.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := storage.New(db)

	for _, asset := range cfg.Assets {
		if err := store.EnsurePool(ctx, asset.Symbol); err != nil {
			return fmt.Errorf("ensure pool %s: %w", asset.Symbol, err)
		}
	}

	feed := oracle.NewStaticFeed()
	for symbol, price := range cfg.Oracle.Prices {
		if quote := new(big.Rat).SetFloat64(price); quote != nil {
			feed.Set(symbol, quote)
		}
	}
	guarded := oracle.NewGuarded(feed, time.Duration(cfg.Oracle.MaxAgeSeconds)*time.Second)

	var submitter chain.Submitter = chain.NoopSubmitter{}
	if cfg.Chain.Enabled {
		rpcSubmitter, err := chain.DialSubmitter(ctx, cfg.Chain.RPCURL, time.Duration(cfg.Chain.TimeoutSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("dial chain: %w", err)
		}
		defer rpcSubmitter.Close()
		submitter = chain.NewRetryingSubmitter(rpcSubmitter, cfg.Chain.RetryAttempts, 0)
	}

	params := lending.RiskParameters{
		LiquidationThresholdBps: cfg.Risk.LiquidationThresholdBps,
		MinHealthFactorBps:      cfg.Risk.MinHealthFactorBps,
		LiquidationBonusBps:     cfg.Risk.LiquidationBonusBps,
		ReserveFactorBps:        cfg.Risk.ReserveFactorBps,
	}
	model := lending.NewInterestModel(cfg.Interest.BaseRate, cfg.Interest.Slope1, cfg.Interest.Slope2, cfg.Interest.Kink)
	engine := lending.NewEngine(lending.Config{
		Store:     store,
		Risk:      lending.NewRiskEngine(params, guarded),
		Pools:     lending.NewPoolAccounting(model, params.ReserveFactorBps),
		Submitter: submitter,
	})

	server := gateway.New(gateway.Config{
		Engine:     engine,
		Units:      gateway.NewUnits(cfg.AssetDecimals()),
		DB:         dbPinger{db: db},
		JWTSecret:  cfg.Auth.JWTSecret,
		AdminToken: cfg.Auth.AdminToken,
		RatePerSec: cfg.RateLimit.PerSecond,
		RateBurst:  cfg.RateLimit.Burst,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("lendflowd listening", "address", cfg.Server.ListenAddress, "env", env, "driver", cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// dbPinger adapts the gorm handle to the gateway's health probe.
type dbPinger struct {
	db *gorm.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
