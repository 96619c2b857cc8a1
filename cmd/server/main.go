package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snowshare/internal/server/api"
	"snowshare/internal/server/config"
	"snowshare/internal/server/database"
	"snowshare/internal/server/quota"
	"snowshare/internal/server/service"
	"snowshare/internal/server/storage"
	"snowshare/internal/server/transfer"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"anon_max_file_size_mb", cfg.Quota.AnonMaxFileSizeMB,
		"anon_quota_mb", cfg.Quota.AnonQuotaMB,
		"auth_max_file_size_mb", cfg.Quota.AuthMaxFileSizeMB,
		"auth_quota_mb", cfg.Quota.AuthQuotaMB,
		"anon_max_expiry", cfg.AnonMaxExpiry,
		"trust_proxy", cfg.TrustProxy,
		"api_tokens", len(cfg.APITokens),
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Services
	repo := database.NewRepository(db)
	ledger := quota.NewLedger(repo, cfg.Quota)
	ingest := service.NewIngestPipeline(repo, store, ledger, service.IngestOptions{
		BaseURL:       cfg.BaseURL,
		AnonMaxExpiry: cfg.AnonMaxExpiry,
		ChunkBuffer:   cfg.ChunkBuffer,
	})
	shares := service.NewShareService(repo, store, service.NewAccessGate())
	archiver := transfer.NewArchiveStreamer(store)
	auth := api.NewTokenAuthenticator(cfg.APITokens)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(ingest, shares, archiver, store, auth, db)
	e, limiter := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	limiter.Stop()

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}
