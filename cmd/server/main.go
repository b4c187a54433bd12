package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabshare/internal/analyzer"
	"tabshare/internal/auth"
	"tabshare/internal/config"
	"tabshare/internal/ledger"
	"tabshare/internal/metrics"
	"tabshare/internal/realtime"
	"tabshare/internal/server"
	"tabshare/internal/service"
	"tabshare/internal/storage/sqlite"
	"tabshare/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "database", cfg.DBPath)

	m := metrics.New()
	registry := realtime.NewRegistry(func(delta int) {
		m.OpenConnections.Add(float64(delta))
	})
	dispatcher := realtime.NewDispatcher(registry, m)

	var receipts analyzer.ReceiptAnalyzer
	if cfg.AnalyzerURL != "" {
		receipts = analyzer.NewHTTP(cfg.AnalyzerURL)
		slog.Info("receipt analyzer configured", "endpoint", cfg.AnalyzerURL)
	}

	tokens := auth.NewPayerTokens(cfg.TokenSecret)
	claims := ledger.New(store, dispatcher).WithMetrics(m)
	bills := service.NewBillService(store, dispatcher, tokens, receipts, cfg.ShareBaseURL)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(bills, claims, tokens, dispatcher, registry, m).Handler(),
	}

	go func() {
		slog.Info("server starting", "address", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	registry.Shutdown()
}
