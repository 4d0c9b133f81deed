package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ev-insight/internal/api"
	"ev-insight/internal/artifact"
	"ev-insight/internal/cfg"
	"ev-insight/internal/explain"
	"ev-insight/internal/metrics"
	"ev-insight/internal/ml"
	"ev-insight/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(c.Level())
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the model; nothing is served without one.
	a, err := artifact.Load(c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model load failed")
	}

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	var recorder ml.Recorder
	if store != nil {
		defer store.Close()
		recorder = store
	}
	versions := initializeRegistry(c, a)

	svc, err := ml.NewService(a, ml.Config{
		ExplainMethod:       explain.Method(c.ExplainMethod),
		SensitivitySteps:    c.SensitivitySteps,
		HideFixedImportance: c.HideFixedImportance,
		Drift:               ml.DriftConfig{Window: c.DriftWindow, Threshold: c.DriftThreshold},
	}, mw, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("model cannot be served")
	}

	var wg sync.WaitGroup
	if c.ReloadInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Watch(ctx, c.ReloadInterval)
		}()
	}

	startMetricsServer(ctx, c)

	server := api.NewServer(svc, api.Options{
		Addr:           c.ListenAddr,
		RequestTimeout: c.RequestTimeout,
		Versions:       versions,
		Observer:       mw,
	})
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("prediction API failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, server, &wg)
}

// initializeStorage opens the prediction log if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without prediction log")
			return nil
		}
		return store
	}
	return nil
}

// initializeRegistry opens the artifact registry if MODELS_DIR is configured
// and records the startup artifact as the active version.
func initializeRegistry(c cfg.Settings, a *artifact.Artifact) *ml.ModelManager {
	if c.ModelsDir == "" {
		return nil
	}
	versions, err := ml.NewModelManager(c.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Msg("model registry initialization failed, version routes disabled")
		return nil
	}

	if _, ok := versions.Version(a.Version); !ok {
		if _, err := versions.AddVersion(a.Path); err != nil {
			log.Warn().Err(err).Str("version", a.Version).Msg("failed to register startup model")
			return versions
		}
	}
	if _, err := versions.ActivateVersion(a.Version); err != nil {
		log.Warn().Err(err).Str("version", a.Version).Msg("failed to activate startup model")
	}
	return versions
}

// startMetricsServer serves Prometheus metrics on a dedicated port when
// METRICS_PORT is set.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	if c.MetricsPort == 0 {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown prediction API")
	}
	cancel() // Cancel context to stop all goroutines

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
