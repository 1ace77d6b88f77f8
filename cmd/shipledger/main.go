package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"shipledger/internal/amqp"
	"shipledger/internal/catalog"
	"shipledger/internal/config"
	apphttp "shipledger/internal/http"
	applog "shipledger/internal/log"
	"shipledger/internal/services"
	"shipledger/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors elsewhere)
	_ = godotenv.Load()

	logger := applog.New(applog.ComponentApp, applog.ParseLevel(os.Getenv("LOG_LEVEL")))
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prices := catalog.New(repo)
	if err := prices.LoadDefaults(ctx); err != nil {
		logger.Error("Failed to load price catalog", "error", err)
		os.Exit(1)
	}

	// Change events are optional: without an AMQP URL the ledger only
	// notifies in-process subscribers.
	var events *amqp.Client
	if cfg.AMQPURL != "" {
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		logger.Info("AMQP change events enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP change events disabled - no AMQP_URL provided")
	}

	ledger := services.NewLedgerService(repo, prices, events)
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Ledger close error", "error", err)
		}
	}()

	srv := apphttp.NewServer(":"+cfg.Port, ledger, cfg.ReportCacheTTL)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting shipledger server", "port", cfg.Port, "db", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
