// Command voicelane bridges a realtime speech model to local audio and runs
// one multi-agent voice call per process.
//
// Raw PCM flows in on stdin and out on stdout, so all logging goes to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/voicelane/voicelane/internal/app"
	"github.com/voicelane/voicelane/internal/config"
	"github.com/voicelane/voicelane/internal/observe"
	"github.com/voicelane/voicelane/pkg/audio"
	"github.com/voicelane/voicelane/pkg/audio/stdio"
	"github.com/voicelane/voicelane/pkg/realtime"
	"github.com/voicelane/voicelane/pkg/realtime/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelane: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelane: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicelane starting",
		"config", *configPath,
		"provider", cfg.Realtime.Name,
		"log_level", string(cfg.Server.LogLevel),
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = startMetricsServer(cfg.Server.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	met, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	dialer, err := buildDialer(cfg)
	if err != nil {
		slog.Error("failed to build realtime provider", "err", err)
		return 1
	}
	device, err := buildDevice(cfg)
	if err != nil {
		slog.Error("failed to build audio device", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, &app.Providers{
		Realtime: dialer,
		Device:   device,
	}, app.WithMetrics(met), app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Shutdown()

	slog.Info("call session ready — press Ctrl+C to end", "session_id", application.SessionID())

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildDialer constructs the realtime dialer selected by the config.
func buildDialer(cfg *config.Config) (realtime.Dialer, error) {
	switch cfg.Realtime.Name {
	case "openai":
		var opts []openai.Option
		if cfg.Realtime.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Realtime.Model))
		}
		if cfg.Realtime.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Realtime.BaseURL))
		}
		return openai.New(cfg.Realtime.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown realtime provider %q", cfg.Realtime.Name)
	}
}

// buildDevice constructs the local audio device selected by the config.
func buildDevice(cfg *config.Config) (audio.Device, error) {
	switch cfg.Audio.Device {
	case "", "stdio":
		return stdio.NewStd(cfg.Audio.SampleRate, cfg.Audio.Channels), nil
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Audio.Device)
	}
}

// startMetricsServer serves the Prometheus /metrics endpoint on addr.
func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

// newLogger builds the process logger at the configured level. Output goes to
// stderr because stdout carries the playback PCM stream in stdio mode.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
