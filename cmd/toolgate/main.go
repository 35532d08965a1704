// Command toolgate is the chat gateway server: it answers questions by
// letting a language model call read-only query tools on a remote MCP server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolgate/internal/auth"
	"github.com/MrWong99/toolgate/internal/chat"
	"github.com/MrWong99/toolgate/internal/config"
	"github.com/MrWong99/toolgate/internal/health"
	"github.com/MrWong99/toolgate/internal/history"
	mcpx "github.com/MrWong99/toolgate/internal/mcp"
	"github.com/MrWong99/toolgate/internal/mcp/mcpconn"
	"github.com/MrWong99/toolgate/internal/mcp/toolcache"
	"github.com/MrWong99/toolgate/internal/observe"
	"github.com/MrWong99/toolgate/internal/orchestrator"
	"github.com/MrWong99/toolgate/pkg/llm/anyllm"
)

const defaultListenAddr = ":8080"

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
			fmt.Fprintf(os.Stderr, "toolgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "toolgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("toolgate starting",
		"config", *configPath,
		"listen_addr", listenAddr(cfg),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "toolgate",
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

	// ── MCP session manager ───────────────────────────────────────────────────
	manager := mcpconn.New(mcpconn.Config{
		Dialer:        mcpx.NewStreamableDialer(cfg.MCP.URL),
		Credentials:   credentialSource(cfg.MCP.Auth),
		RefreshBuffer: cfg.MCP.RefreshBuffer,
		Metrics:       metrics,
	})
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("session manager close error", "err", err)
		}
	}()

	if err := metrics.ObserveSessionGeneration(manager.Generation); err != nil {
		slog.Warn("failed to register session generation gauge", "err", err)
	}

	catalog := toolcache.New(manager, metrics)

	// ── LLM provider ──────────────────────────────────────────────────────────
	provider, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "err", err, "provider", cfg.LLM.Provider)
		return 1
	}
	slog.Info("llm provider created", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// ── Conversation history ──────────────────────────────────────────────────
	hist, redisClient := buildHistory(cfg.History)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// ── Orchestrator + HTTP surface ───────────────────────────────────────────
	orch := orchestrator.New(orchestrator.Config{
		Provider:      provider,
		Tools:         catalog,
		History:       hist,
		SystemPrompt:  cfg.LLM.SystemPrompt,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		Metrics:       metrics,
	})

	mux := http.NewServeMux()
	chat.New(orch, metrics).Register(mux)
	health.New(health.SessionChecker(manager)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listenAddr(cfg),
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Session self-healing ──────────────────────────────────────────────────
	if sched := cfg.Health.SelfHealSchedule; sched != "" {
		healer, err := health.NewSelfHealer(manager, sched)
		if err != nil {
			slog.Error("failed to create self-healer", "err", err)
			return 1
		}
		healer.Start()
		defer healer.Stop()
		slog.Info("session self-heal enabled", "schedule", sched)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(ctx, old, new, level, manager)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Component wiring ──────────────────────────────────────────────────────────

// credentialSource builds the credential source for the MCP session from the
// auth config. A nil auth block means unauthenticated.
func credentialSource(authCfg *config.MCPAuthConfig) auth.Source {
	switch {
	case authCfg == nil:
		return auth.None()
	case authCfg.OAuth != nil:
		return auth.ClientCredentials(auth.ClientCredentialsConfig{
			ClientID:     authCfg.OAuth.ClientID,
			ClientSecret: authCfg.OAuth.ClientSecret,
			TokenURL:     authCfg.OAuth.TokenURL,
			Scopes:       authCfg.OAuth.Scopes,
		})
	case authCfg.Token != "":
		return auth.Static(authCfg.Token)
	default:
		return auth.None()
	}
}

// buildLLMProvider creates the any-llm backend named in cfg.
func buildLLMProvider(cfg config.LLMConfig) (*anyllm.Provider, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Provider, cfg.Model, opts...)
}

// buildHistory creates the conversation history store. With no Redis address
// configured, chats are stateless. The returned client is non-nil only when a
// Redis connection was opened; the caller owns closing it.
func buildHistory(cfg config.HistoryConfig) (history.Store, *redis.Client) {
	if cfg.RedisAddr == "" {
		slog.Info("history disabled — chats are stateless")
		return history.Noop{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	var opts []history.RedisOption
	if cfg.TTL > 0 {
		opts = append(opts, history.WithTTL(cfg.TTL))
	}
	if cfg.MaxMessages > 0 {
		opts = append(opts, history.WithMaxMessages(cfg.MaxMessages))
	}
	slog.Info("history store connected", "redis_addr", cfg.RedisAddr)
	return history.NewRedisStore(client, opts...), client
}

// applyConfigChange reacts to a config file edit. Log level changes apply
// immediately; MCP changes force a session reconnect so new credentials and
// refresh settings take effect. LLM and history changes need a restart.
func applyConfigChange(ctx context.Context, old, new *config.Config, level *slog.LevelVar, manager *mcpconn.Manager) {
	diff := config.Diff(old, new)
	if !diff.Any() {
		return
	}
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "log_level", diff.NewLogLevel)
	}
	if diff.MCPChanged {
		if old.MCP.URL != new.MCP.URL {
			slog.Warn("mcp.url changed — restart required for the new endpoint to take effect")
		}
		slog.Info("mcp settings changed, forcing session reconnect")
		reconnectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := manager.ForceReconnect(reconnectCtx); err != nil {
			slog.Warn("reconnect after config change failed", "err", err)
		}
	}
	if diff.LLMChanged {
		slog.Warn("llm settings changed — restart required to take effect")
	}
	if diff.HistoryChanged {
		slog.Warn("history settings changed — restart required to take effect")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         toolgate — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	printRow("MCP server", cfg.MCP.URL)
	printRow("Auth", authMode(cfg.MCP.Auth))
	if cfg.History.RedisAddr != "" {
		printRow("History", cfg.History.RedisAddr)
	} else {
		printRow("History", "(stateless)")
	}
	if cfg.Health.SelfHealSchedule != "" {
		printRow("Self-heal", cfg.Health.SelfHealSchedule)
	} else {
		printRow("Self-heal", "(disabled)")
	}
	printRow("Listen addr", listenAddr(cfg))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func authMode(authCfg *config.MCPAuthConfig) string {
	switch {
	case authCfg == nil:
		return "none"
	case authCfg.OAuth != nil:
		return "oauth client creds"
	case authCfg.Token != "":
		return "static token"
	default:
		return "none"
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func listenAddr(cfg *config.Config) string {
	if cfg.Server.ListenAddr != "" {
		return cfg.Server.ListenAddr
	}
	return defaultListenAddr
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
