// Package main запускает HTTP-сервер сверки эскроу-платежей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/escrow-reconciliation/internal/config"
	"github.com/mmeshcher/escrow-reconciliation/internal/handler"
	"github.com/mmeshcher/escrow-reconciliation/internal/notify"
	"github.com/mmeshcher/escrow-reconciliation/internal/provider"
	"github.com/mmeshcher/escrow-reconciliation/internal/repository"
	"github.com/mmeshcher/escrow-reconciliation/internal/revolut"
	"github.com/mmeshcher/escrow-reconciliation/internal/service"
	"github.com/mmeshcher/escrow-reconciliation/internal/signature"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var (
		revolutClient *revolut.Client
		fetcher       provider.TransactionFetcher
		lister        service.TransactionLister
	)
	if cfg.RevolutAPIAddress != "" {
		revolutClient = revolut.NewClient(cfg.RevolutAPIAddress, cfg.RevolutAccessToken)
		fetcher = revolutClient
		lister = revolutClient
	}

	dispatcher := notify.NewDispatcher(repo, logger, notify.Config{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.NotifyTimeout,
	})

	svc := service.NewService(repo, dispatcher, logger, service.Config{
		AmountTolerancePercent: cfg.AmountTolerancePercent,
		ClearingPeriod:         time.Duration(cfg.ClearingPeriodDays) * 24 * time.Hour,
	})
	txSync := service.NewTransactionSync(svc, lister, cfg.RevolutSyncInterval, logger)

	production := cfg.IsProduction()
	providers := []handler.Provider{
		{
			Parser: provider.NewRevolutParser(fetcher),
			Verifier: signature.NewHMACVerifier(
				signature.RevolutConfig(provider.NameRevolut, cfg.RevolutWebhookSecret, cfg.TimestampTolerance, production),
				logger,
			),
		},
		{
			Parser: provider.NewRevolutMerchantParser(),
			Verifier: signature.NewHMACVerifier(
				signature.RevolutConfig(provider.NameRevolutMerchant, cfg.RevolutMerchantWebhookSecret, cfg.TimestampTolerance, production),
				logger,
			),
		},
		{
			Parser:   provider.NewStripeParser(),
			Verifier: signature.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.TimestampTolerance, production, logger),
		},
	}

	h := handler.NewHandler(svc, repo, logger, cfg.WebhookTimeout)
	r := h.SetupRouter(providers)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Источники уведомлений: HTTP-сервер и синхронизация Revolut.
	var producers sync.WaitGroup
	producers.Add(2)

	// Воркеры уведомлений работают, пока не остановятся все источники
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		producers.Wait()
		dispatcher.Close()
		return nil
	})

	// Периодическая синхронизация транзакций Revolut
	g.Go(func() error {
		defer producers.Done()
		return txSync.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting reconciliation server", "addr", cfg.RunAddress, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		defer producers.Done()
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout+5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
