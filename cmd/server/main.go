package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/live-tutor/internal/browser"
	"github.com/lexiqai/live-tutor/internal/capture"
	"github.com/lexiqai/live-tutor/internal/config"
	"github.com/lexiqai/live-tutor/internal/observability"
	"github.com/lexiqai/live-tutor/internal/prompt"
	"github.com/lexiqai/live-tutor/internal/resilience"
	"github.com/lexiqai/live-tutor/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.GeminiModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Tutor Service starting")

	catalog, err := prompt.Load(cfg.LanguagesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load language catalog")
	}
	for _, code := range []string{cfg.DefaultNativeLanguage, cfg.DefaultTargetLanguage} {
		if _, ok := catalog.Lookup(code); !ok {
			logger.Fatal().Str("language", code).Msg("Default language missing from catalog")
		}
	}

	// Fail fast while the model endpoint keeps refusing connects
	breaker := resilience.NewCircuitBreaker("gemini", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})

	connector, err := transport.NewGeminiConnector(context.Background(), transport.GeminiConfig{
		APIKey:          cfg.GeminiAPIKey,
		Model:           cfg.GeminiModel,
		Voice:           cfg.GeminiVoice,
		ConnectTimeout:  cfg.ConnectTimeout,
		InputSampleRate: cfg.CaptureSampleRate,
	}, breaker)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gemini connector")
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Register browser WebSocket handler
	mux.Handle("/ws/tutor", browser.NewHandler(browser.HandlerConfig{
		Connector: connector,
		Catalog:   catalog,
		Capture: capture.PipelineConfig{
			SampleRate: cfg.CaptureSampleRate,
			BlockSize:  cfg.CaptureBlockSize,
		},
		OutputSampleRate: cfg.OutputSampleRate,
		OutputChannels:   cfg.OutputChannels,
		AllowedOrigins:   cfg.Origins(),
	}))

	mux.HandleFunc("/languages", browser.LanguagesHandler(catalog, cfg.DefaultNativeLanguage, cfg.DefaultTargetLanguage))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint - checks are closures here to avoid import cycles
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		observability.DependencyCheck{Name: "gemini", Check: connector.Ready},
		observability.DependencyCheck{Name: "circuit_breaker", Check: func(ctx context.Context) (bool, error) {
			if !breaker.Healthy() {
				state, requests, failures, _ := breaker.GetStats()
				return false, fmt.Errorf("circuit %s after %d failures in %d connects", state, failures, requests)
			}
			return true, nil
		}},
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
		logger.Info().Str("dir", cfg.StaticDir).Msg("Serving browser UI")
	}

	// WebSocket connections clear these deadlines once upgraded
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/tutor", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
