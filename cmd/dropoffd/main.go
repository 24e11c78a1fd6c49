package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/cfg"
	"movie-dropoff/internal/ledger"
	"movie-dropoff/internal/metrics"
	"movie-dropoff/internal/predict"
	"movie-dropoff/internal/retrain"
	"movie-dropoff/internal/serving"
	"movie-dropoff/internal/store"
)

func main() {
	// Local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	feedback, err := ledger.Open(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("feedback ledger open failed")
	}
	defer feedback.Close()

	artifacts, err := store.Open(c.ModelsDir, c.MinF1)
	if err != nil {
		log.Fatal().Err(err).Str("dir", c.ModelsDir).Msg("artifact store open failed")
	}

	predictor := predict.New(artifacts, m)

	policy := retrain.DefaultPolicy()
	policy.MinTotal = c.MinTotalSamples
	policy.MinRecent = c.MinRecentSamples
	policy.RecentWindow = c.RecentWindow
	orchestrator := retrain.New(feedback, artifacts, predictor, m, policy, c.DataPath)

	svc := serving.NewService(predictor, feedback, orchestrator, artifacts, m)
	server := serving.NewServer(svc, c.ListenPort, c.RequestTimeout)

	startMetricsServer(ctx, c.MetricsPort)
	startRetrainTicker(ctx, orchestrator, c.RetrainInterval)
	startModelAgeUpdater(ctx, m, predictor)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("prediction server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, server)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, port int) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
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

// startRetrainTicker triggers periodic retraining; interval 0 disables it.
func startRetrainTicker(ctx context.Context, orchestrator *retrain.Orchestrator, interval time.Duration) {
	if interval == 0 {
		log.Info().Msg("periodic retraining disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := orchestrator.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("scheduled retraining skipped")
				}
			}
		}
	}()
}

// startModelAgeUpdater keeps the model age gauge current.
func startModelAgeUpdater(ctx context.Context, m *metrics.Metrics, predictor *predict.Service) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if t := predictor.TrainedAt(); !t.IsZero() {
					m.ModelAge.Set(time.Since(t).Seconds())
				} else {
					m.ModelAge.Set(0)
				}
			}
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, server *serving.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
