package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/api"
	"chatreminder/internal/audit"
	"chatreminder/internal/config"
	"chatreminder/internal/domain"
	"chatreminder/internal/scheduler"
	"chatreminder/internal/store"
	"chatreminder/internal/tasks"
	"chatreminder/internal/webhook"
	"chatreminder/internal/worker"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg)

	taskStore, logStore, err := store.Open(store.Config{
		Driver:    cfg.StoreDriver,
		Dir:       cfg.DataDir,
		Retention: cfg.LogRetention,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer taskStore.Close()
	defer logStore.Close()

	client, err := webhook.New(webhook.Config{
		URL:       cfg.WebhookURL,
		Key:       cfg.WebhookKey,
		Timeout:   cfg.DispatchTimeout,
		PerMinute: cfg.RatePerMinute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("webhook client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := audit.NewRecorder(logStore, cfg.Location)
	pipeline := scheduler.NewPipeline(client, recorder, cfg.Location)
	pool := worker.NewPool(cfg.Workers)

	registry := scheduler.NewRegistry(cfg.Location, func(t domain.Task) {
		pool.Go(ctx, func(ctx context.Context) {
			pipeline.Fire(ctx, t)
		})
	})

	svc := tasks.NewService(taskStore, registry, recorder)
	if _, err := svc.Reconcile(ctx); err != nil {
		log.Fatal().Err(err).Msg("reconcile tasks")
	}
	registry.Start()
	log.Info().Str("tz", cfg.Location.String()).Str("store", cfg.StoreDriver).Msg("reminder scheduler started")

	// HTTP server
	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(svc)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	registry.Stop(ctxTimeout)
	if err := pool.WaitContext(ctxTimeout); err != nil {
		log.Warn().Err(err).Msg("abandoning pending dispatches")
		cancel()
		pool.Wait()
	}
}

func setupLogging(cfg *config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
