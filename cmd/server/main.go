package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pillows/blob.zip/internal/server/api"
	"github.com/pillows/blob.zip/internal/server/blob"
	"github.com/pillows/blob.zip/internal/server/config"
	"github.com/pillows/blob.zip/internal/server/database"
	"github.com/pillows/blob.zip/internal/server/notify"
	"github.com/pillows/blob.zip/internal/server/service"
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
		"base_url", cfg.BaseURL,
		"s3_bucket", cfg.S3Bucket,
		"max_upload_size", cfg.MaxUploadSize,
		"retention", cfg.Retention,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
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

	// Blob store
	store, err := blob.NewS3Store(ctx, blob.S3Config{
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Endpoint:   cfg.S3Endpoint,
		PublicURL:  cfg.S3PublicURL,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		slog.Error("failed to initialize blob store", "error", err)
		os.Exit(1)
	}
	slog.Info("blob store initialized", "bucket", cfg.S3Bucket, "endpoint", cfg.S3Endpoint)

	// Notification sink (fire-and-forget)
	notifier := notify.NewNotifier(cfg.DiscordWebhookURL)
	defer notifier.Close()

	// Repositories and services
	fileRepo := database.NewFileRepository(db)
	guardRepo := database.NewGuardRepository(db)

	guard := service.NewGuard(guardRepo)
	uploads := service.NewUploadService(fileRepo, store, notifier, cfg.MaxUploadSize, cfg.Retention, cfg.BaseURL)
	sessions := service.NewMemorySessionStore()
	chunks := service.NewChunkEngine(sessions, fileRepo, store, notifier, cfg.MaxUploadSize, cfg.Retention, cfg.SessionTTL, cfg.BaseURL)
	gate := service.NewDownloadGate(fileRepo, store, notifier, cfg.DeleteGrace, cfg.BaseURL)

	auth, err := service.NewAdminAuth(cfg.AdminPassword, cfg.JWTSecret, cfg.JWTTTL, guard)
	if err != nil {
		slog.Error("failed to configure admin auth", "error", err)
		os.Exit(1)
	}
	if cfg.AdminPassword == "" {
		slog.Warn("ADMIN_PASSWORD not set, admin API disabled")
	}

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	chunks.StartReaper(workerCtx)
	sweeper := service.NewSweeper(uploads, cfg.CleanupInterval)
	sweeper.Start(workerCtx)

	// Setup HTTP router
	handler := api.NewHandler(uploads, chunks, gate, guard, auth, db, cfg.MaxUploadSize)
	e := api.SetupRouter(handler, cfg)

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

	// Stop background workers
	workerCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
