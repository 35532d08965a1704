// Command toolgate-tools is the MCP tool server: it exposes read-only SQL
// query tools (list_tables, describe_table, run_query) over a SQLite or
// PostgreSQL database, serving either stdio or streamable HTTP.
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
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolgate/internal/health"
	"github.com/MrWong99/toolgate/internal/observe"
	"github.com/MrWong99/toolgate/internal/toolserver"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	sqlitePath := flag.String("sqlite", "", "path to a SQLite database file")
	postgresDSN := flag.String("postgres", "", "PostgreSQL connection string")
	listenAddr := flag.String("listen", ":8090", "HTTP listen address (ignored with -stdio)")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	token := flag.String("token", "", "static Bearer token required on /mcp (empty disables auth)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// In stdio mode stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(*logLevel)}))
	slog.SetDefault(logger)

	if (*sqlitePath == "") == (*postgresDSN == "") {
		fmt.Fprintln(os.Stderr, "toolgate-tools: exactly one of -sqlite or -postgres must be set")
		return 2
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "toolgate-tools",
		ServiceVersion: version,
	})
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

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	store, err := buildStore(ctx, *sqlitePath, *postgresDSN)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	srv := toolserver.NewServer(store, version, metrics)

	// ── Serve ─────────────────────────────────────────────────────────────────
	if *stdio {
		slog.Info("serving MCP over stdio")
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("stdio server error", "err", err)
			return 1
		}
		return 0
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", toolserver.RequireBearer(*token, srv.HTTPHandler()))
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := store.ListTables(ctx)
			return err
		},
	}).Register(mux)

	httpSrv := &http.Server{
		Addr:              *listenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("serving MCP over HTTP", "addr", *listenAddr, "path", "/mcp")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildStore opens the database named by exactly one of the two flags.
func buildStore(ctx context.Context, sqlitePath, postgresDSN string) (toolserver.Store, error) {
	if sqlitePath != "" {
		slog.Info("opening sqlite database", "path", sqlitePath)
		return toolserver.NewSQLiteStore(ctx, sqlitePath)
	}
	slog.Info("connecting to postgres")
	return toolserver.NewPostgresStore(ctx, postgresDSN)
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
