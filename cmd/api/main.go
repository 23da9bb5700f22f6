package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"memegen/internal/caption"
	"memegen/internal/compositor"
	"memegen/internal/http/handlers"
	httpapi "memegen/internal/http/httpapi"
	"memegen/internal/infra"
	"memegen/internal/jobs"
	"memegen/internal/providers/ollama"
	"memegen/internal/storage"
	"memegen/internal/worker"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	uploadDir := cfg.UploadDir
	if !filepath.IsAbs(uploadDir) {
		if abs, err := filepath.Abs(uploadDir); err == nil {
			uploadDir = abs
		}
	}
	fileStore, err := storage.NewFileStore(uploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	registry := jobs.NewRegistry(jobs.Options{Remover: fileStore, Logger: &logger})

	sender := ollama.NewRetryingClient(ollama.RetryOptions{
		HTTPClient:     &http.Client{},
		MaxAttempts:    cfg.OllamaMaxAttempts,
		AttemptTimeout: cfg.OllamaTimeout,
		BackoffBase:    cfg.OllamaBackoffBase,
		Logger:         &logger,
	})
	ollamaClient := ollama.NewClient(ollama.Options{
		Endpoint: cfg.OllamaURL,
		Sender:   sender,
		Logger:   &logger,
	})
	pipeline := caption.NewPipeline(ollamaClient, caption.Options{
		VisionModel:  cfg.VisionModel,
		CaptionModel: cfg.CaptionModel,
		MaxWords:     cfg.CaptionMaxWords,
		Logger:       &logger,
	})

	renderer, err := compositor.NewDefault(cfg.FontSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to load caption font")
	}

	jobWorker, err := worker.New(worker.Options{
		Registry:  registry,
		Captioner: pipeline,
		Renderer:  renderer,
		Store:     fileStore,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := jobs.NewReaper(registry, cfg.ReapInterval, cfg.ReapGrace, &logger)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("api: reaper stopped with error")
		}
	}()

	app := handlers.NewApp(registry, jobWorker,
		handlers.WithJobContext(ctx),
		handlers.WithMaxUploadBytes(cfg.MaxUploadBytes),
		handlers.WithLogger(&logger),
	)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             &logger,
		AuthUsername:       cfg.AuthUsername,
		AuthPassword:       cfg.AuthPassword,
		StatusRateLimit:    cfg.StatusRateLimitPerSec,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     cfg.TrustedProxies,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("ollama", ollamaClient.Endpoint()).
			Str("uploads", fileStore.BasePath()).
			Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	<-reaperDone

	// Cancelling ctx aborts in-flight Ollama calls, so jobs report promptly.
	waitDone := make(chan struct{})
	go func() {
		jobWorker.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("api: gave up waiting for running jobs")
	}
	logger.Info().Msg("api: stopped")
}
