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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lumina/internal/app"
	"lumina/internal/config"
	"lumina/internal/server"
	"lumina/internal/session"
	"lumina/internal/util"
	"lumina/pkg/ai"
	"lumina/pkg/extract"
	"lumina/pkg/storage"
	"lumina/pkg/store"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL := 720 * time.Hour
	if cfg.SessionTTL != "" {
		sessionTTL, err = time.ParseDuration(cfg.SessionTTL)
		if err != nil {
			log.Fatalf("failed to parse session ttl: %v", err)
		}
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}
	notifier, err := store.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Namespace)
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	revoker := session.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	sessions, err := session.NewManager(cfg.SessionSecret, sessionTTL, revoker, session.Options{})
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}
	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:      db,
		Objects:    objects,
		Notifier:   notifier,
		Summarizer: ai.NewSummarizer(gemini, cfg.GeminiModel),
		Extract:    extract.Text,
		Namespace:  cfg.Namespace,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Sessions:       sessions,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event stream connections stay open
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("lumina server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
