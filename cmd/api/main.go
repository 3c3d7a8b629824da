package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"acadRepo/internal/api"
	"acadRepo/internal/auth"
	"acadRepo/internal/config"
	"acadRepo/internal/database"
	"acadRepo/internal/mail"
	"acadRepo/internal/storage"
	"acadRepo/internal/synopsis"
	"acadRepo/internal/upload"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Printf("database connection ready")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	log.Printf("database migrated")

	privateKey, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		log.Fatalf("read jwt private key: %v", err)
	}
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("read jwt public key: %v", err)
	}
	authService, err := auth.NewAuthService(privateKey, publicKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	if err := ensureDefaultAvatar(storageClient); err != nil {
		log.Fatalf("store default avatar: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	summarizer, err := synopsis.NewFromConfig(context.Background(), cfg.AI)
	if err != nil {
		log.Fatalf("init synopsis generator: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	uploads := &upload.Validator{
		MaxImageBytes:    cfg.Uploads.MaxImageBytes,
		MaxDocumentBytes: cfg.Uploads.MaxDocumentBytes,
	}
	if cfg.Uploads.ClamdAddr != "" {
		uploads.Scanner = upload.NewClamdScanner(cfg.Uploads.ClamdAddr)
		log.Printf("clamd scanning enabled at %s", cfg.Uploads.ClamdAddr)
	}

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, cfg, api.Dependencies{
		DB:         db,
		Auth:       authService,
		Redis:      redisClient,
		Store:      storageClient,
		Mailer:     mail.NewSMTPMailer(cfg.Mail, logger),
		Summarizer: summarizer,
		Tasks:      asynqClient,
		Uploads:    uploads,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	log.Printf("api stopped")
}

func ensureDefaultAvatar(client *storage.Client) error {
	png, err := storage.PlaceholderAvatarPNG()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.EnsureObject(ctx, database.DefaultAvatarKey, png, "image/png")
}
