package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lexiqai/voice-pipeline/internal/config"
	"github.com/lexiqai/voice-pipeline/internal/generator"
	"github.com/lexiqai/voice-pipeline/internal/observability"
	"github.com/lexiqai/voice-pipeline/internal/pipeline"
	"github.com/lexiqai/voice-pipeline/internal/stt"
	"github.com/lexiqai/voice-pipeline/internal/telephony"
	"github.com/lexiqai/voice-pipeline/internal/tts"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the TwiML webhook, outbound call API and media stream",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stream_url", cfg.StreamURL()).
		Str("voice_model", cfg.VoiceModel).
		Str("openai_model", cfg.OpenAIModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice pipeline starting")

	synth, err := tts.NewDeepgramClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create speech synthesizer: %w", err)
	}
	openaiClient := generator.NewOpenAIClient(cfg)
	prompts := generator.NewPromptStore(generator.Prompts{
		System:   cfg.SystemPrompt,
		Greeting: cfg.InitialMessage,
	})

	// A nil *Dialer must not end up inside the interface.
	var placer telephony.CallPlacer
	dialer, err := telephony.NewDialer(cfg, logger)
	switch {
	case err == nil:
		placer = dialer
	case telephony.IsNotConfigured(err):
		logger.Warn().Msg("Twilio REST credentials missing; outbound calls and recordings are disabled")
	default:
		return err
	}

	calls := telephony.NewServer(telephony.ServerOptions{
		Config:      cfg,
		Prompts:     prompts,
		Synthesizer: synth,
		NewTranscriber: func(l zerolog.Logger, m *observability.Metrics) stt.Transcriber {
			return stt.NewDeepgramClient(cfg, l, m)
		},
		NewGenerator: func(p generator.Prompts, l zerolog.Logger) pipeline.Generator {
			return generator.NewOpenAIGenerator(openaiClient, cfg.OpenAIModel, p, l)
		},
		Placer: placer,
		Logger: logger,
	})

	mux := http.NewServeMux()
	calls.Register(mux)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(readinessChecks(cfg, synth, placer)))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           otelhttp.NewHandler(mux, "voice-pipeline"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("incoming_url", cfg.IncomingURL()).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := calls.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Active calls did not end before the deadline")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

// readinessChecks reports configuration and circuit state only; probing the
// providers would bill every readiness poll.
func readinessChecks(cfg *config.Config, synth *tts.DeepgramClient, placer telephony.CallPlacer) map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{
		"deepgram": func(ctx context.Context) (bool, error) {
			if cfg.DeepgramAPIKey == "" {
				return false, errors.New("DEEPGRAM_API_KEY is not set")
			}
			return synth.Ready(ctx)
		},
		"openai": func(context.Context) (bool, error) {
			if cfg.OpenAIAPIKey == "" {
				return false, errors.New("OPENAI_API_KEY is not set")
			}
			return true, nil
		},
	}
	if cfg.RecordingEnabled {
		checks["twilio"] = func(context.Context) (bool, error) {
			if placer == nil {
				return false, telephony.ErrTwilioNotConfigured
			}
			return true, nil
		}
	}
	return checks
}
