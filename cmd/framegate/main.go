// Command framegate runs the batch transcode jobs of a YAML configuration
// through frame-adapting codec sessions.
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

	"github.com/MrWong99/framegate/internal/config"
	"github.com/MrWong99/framegate/internal/health"
	"github.com/MrWong99/framegate/internal/observe"
	"github.com/MrWong99/framegate/internal/transcode"
	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/codec/g722"
	"github.com/MrWong99/framegate/pkg/codec/opus"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "framegate.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "keep running and rerun jobs whose configuration changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "framegate: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "framegate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("framegate starting",
		"config", *configPath,
		"version", version,
		"jobs", len(cfg.Jobs),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := codec.NewRegistry()
	reg.Register(&opus.Engine{})
	reg.Register(g722.Engine{})
	for _, name := range reg.Names() {
		slog.Debug("registered engine", "name", name)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Engines:        reg.Names(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Ops listener (optional) ───────────────────────────────────────────────
	var srv *http.Server
	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv = newOpsServer(addr, reg, metrics, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops listener error", "addr", addr, "err", err)
			}
		}()
		slog.Info("ops listener started", "addr", addr)
	}
	defer func() {
		if srv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops listener shutdown error", "err", err)
		}
	}()

	// ── Jobs ──────────────────────────────────────────────────────────────────
	newRunner := func(c *config.Config) *transcode.Runner {
		return transcode.New(reg,
			transcode.WithLogger(logger),
			transcode.WithMetrics(metrics),
			transcode.WithConcurrency(c.Transcode.Concurrency),
			transcode.WithFailFast(c.Transcode.FailFast),
		)
	}

	reports, runErr := newRunner(cfg).Run(ctx, cfg.Jobs)
	printSummary(reports)
	if runErr != nil {
		slog.Error("jobs failed", "err", runErr)
	}

	if !*watch {
		if runErr != nil {
			return 1
		}
		slog.Info("goodbye")
		return 0
	}

	// ── Watch mode ────────────────────────────────────────────────────────────
	w, err := config.NewWatcher(*configPath, func(cfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		for _, c := range d.JobChanges {
			if c.Removed {
				slog.Info("job removed from configuration", "job", c.Name)
			}
		}
		jobs := d.RerunJobs(cfg)
		if len(jobs) == 0 {
			return
		}
		slog.Info("rerunning changed jobs", "count", len(jobs))
		reports, err := newRunner(cfg).Run(ctx, jobs)
		printSummary(reports)
		if err != nil {
			slog.Error("jobs failed", "err", err)
		}
	}, config.WithLogger(logger))
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}

	slog.Info("watching configuration, press Ctrl+C to stop", "config", *configPath)
	w.Run(ctx)
	slog.Info("shutdown signal received, stopping…")
	slog.Info("goodbye")
	return 0
}

// ── Ops listener ──────────────────────────────────────────────────────────────

// engineCheckRates is the sample rate each built-in engine is checked at by
// the readiness check.
var engineCheckRates = map[string]int{
	opus.Name: 48000,
	g722.Name: 16000,
}

func newOpsServer(addr string, reg *codec.Registry, m *observe.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.EngineCheckers(reg, engineCheckRates)...).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m, logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ── Summary ───────────────────────────────────────────────────────────────────

func printSummary(reports []transcode.Report) {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              framegate: job summary               ║")
	fmt.Println("╠═══════════════════════════════════════════════════╣")
	for _, r := range reports {
		name := r.Job
		if len(name) > 16 {
			name = name[:15] + "…"
		}
		fmt.Printf("║  %-16s %-6s %-8s %6d units %8s ║\n",
			name, r.Mode, r.Status(), r.Units, r.Duration.Round(time.Millisecond))
	}
	fmt.Println("╚═══════════════════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
