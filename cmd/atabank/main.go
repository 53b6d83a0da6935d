package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/atabank/backend/internal/audit"
	"github.com/atabank/backend/internal/config"
	"github.com/atabank/backend/internal/database"
	"github.com/atabank/backend/internal/handlers"
	"github.com/atabank/backend/internal/logger"
	"github.com/atabank/backend/internal/services"
)

func main() {
	configPath := pflag.StringP("config", "c", ".env", "path to a dotenv config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("AtaBank exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, dialect, err := database.InitDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		return err
	}

	// Rate snapshots survive restarts only when Redis is reachable.
	redisClient := database.InitRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := services.NewRateSnapshotStore(redisClient, cfg.Redis, log)

	rateService := services.NewRateService(
		services.NewExchangeRateAPIClient(cfg.Rates, log),
		store,
		cfg.Rates,
		log,
	)
	accountService := services.NewAccountService(
		services.NewLedgerService(db, dialect, log),
		services.NewArgon2Hasher(cfg.Argon2),
		audit.NewAuditLogger(log),
		cfg.Ledger,
		log,
	)

	shell := handlers.NewShell(accountService, rateService, os.Stdin, os.Stdout, handlers.ShellOptions{
		Locale:       language.Make(cfg.Display.Locale),
		HistoryLimit: cfg.Ledger.HistoryLimit,
		Logger:       log,
	})

	log.Info("AtaBank started", zap.String("driver", dialect.DriverName()), zap.Bool("redis", redisClient != nil))

	done := make(chan error, 1)
	go func() {
		done <- shell.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Info("Shutting down AtaBank")
		return nil
	}
}
