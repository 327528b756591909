// Command harbor is the main entry point for the Harbor Agent Runtime Bridge.
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

	"github.com/MrWong99/harbor/internal/app"
	"github.com/MrWong99/harbor/internal/config"
	"github.com/MrWong99/harbor/internal/mcphost"
	"github.com/MrWong99/harbor/internal/observe"
	"github.com/MrWong99/harbor/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	nativeMessaging := flag.Bool("native-messaging", true, "serve the framed stdin/stdout protocol (default mode)")
	mcpRunnerServerID := flag.String("mcp-runner", "", "run as an isolated MCP runner child for the named server instead of the host process")
	flag.Parse()

	if *mcpRunnerServerID != "" {
		return runMCPRunner(*mcpRunnerServerID)
	}
	if !*nativeMessaging {
		fmt.Fprintln(os.Stderr, "harbor: --native-messaging=false leaves no mode to run; pass --mcp-runner <serverId> for runner mode")
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "harbor: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "harbor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// stdout is reserved for the framed native-messaging protocol; every log
	// line goes to stderr.
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("harbor starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"providers", len(cfg.Providers),
		"servers", len(cfg.Servers),
	)

	// ── Telemetry ──────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "harbor"})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener stopped", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Server.ListenAddr)
	}

	// ── Application wiring ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	tr := transport.New(os.Stdin, os.Stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()

	slog.Info("harbor ready — serving native messaging on stdin/stdout")
	application.Serve(ctx, tr)

	// Serve returns either because ctx was cancelled (signal received) or
	// because the inbound channel closed (the extension hung up). Either way,
	// stop drives tr.Run's goroutine to exit so done closes.
	stop()
	<-done
	if err := tr.Err(); err != nil {
		slog.Warn("transport closed with error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics listener shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// runMCPRunner executes the isolated MCP runner child mode: a second copy of
// this binary, forked by the supervisor, that proxies one MCP server over a
// dedicated stdio pipe using the same framing the host process speaks to the
// browser extension.
func runMCPRunner(serverID string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("harbor mcp runner starting", "server_id", serverID)
	if err := mcphost.RunRunner(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp runner exited with error", "server_id", serverID, "err", err)
		return 1
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
