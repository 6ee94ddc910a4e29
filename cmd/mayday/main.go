// Command mayday is the voice-bridge server: it answers incoming-call
// webhooks, bridges Twilio media streams to a speech-AI backend, and
// persists completed emergency cases.
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

	"github.com/nordlicht-labs/mayday/internal/casestore"
	casepg "github.com/nordlicht-labs/mayday/internal/casestore/postgres"
	"github.com/nordlicht-labs/mayday/internal/config"
	"github.com/nordlicht-labs/mayday/internal/health"
	"github.com/nordlicht-labs/mayday/internal/observe"
	"github.com/nordlicht-labs/mayday/internal/server"
	"github.com/nordlicht-labs/mayday/internal/telephony"
)

// version is set at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "mayday: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mayday: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mayday starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"mode", cfg.Bridge.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mayday",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Case store ────────────────────────────────────────────────────────────
	var cases casestore.Store = casestore.Disabled{}
	var checkers []health.Checker
	if dsn := cfg.Cases.PostgresDSN; dsn != "" {
		store, err := casepg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect case store", "err", err)
			return 1
		}
		cases = store
		checkers = append(checkers, health.Checker{Name: "cases", Check: store.Ping})
		slog.Info("case store connected")
	} else {
		slog.Warn("cases.postgres_dsn not set, case persistence disabled")
	}
	defer cases.Close()

	checkers = append(checkers, health.Checker{
		Name: "backend",
		Check: func(context.Context) error {
			if !cfg.BackendReady() {
				return fmt.Errorf("missing credentials for %s backend", cfg.Bridge.Mode)
			}
			return nil
		},
	})

	// ── Call control + HTTP server ────────────────────────────────────────────
	calls := telephony.NewTwilioCallControl(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)

	srv, err := server.New(cfg, cases, calls,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checkers...)),
	)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Mayday — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Bridge mode     : %-19s ║\n", cfg.Bridge.Mode)
	printProvider("OpenAI", cfg.Providers.OpenAI.APIKey != "", cfg.Providers.OpenAI.Model)
	printProvider("ElevenLabs", cfg.Providers.ElevenLabs.APIKey != "", cfg.Providers.ElevenLabs.Model)
	printProvider("LLM", cfg.Providers.LLM.APIKey != "", cfg.Providers.LLM.Name+"/"+cfg.Providers.LLM.Model)
	printProvider("Geocoding", cfg.Providers.Geocoding.APIKey != "", "")
	if cfg.Cases.PostgresDSN != "" {
		fmt.Printf("║  Case store      : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Case store      : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Public host     : %-19s ║\n", clip(cfg.Server.PublicHost))
	fmt.Printf("║  Listen addr     : %-19s ║\n", clip(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, configured bool, model string) {
	value := "(not configured)"
	if configured {
		value = "configured"
		if model != "" && model != "/" {
			value = clip(model)
		}
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func clip(v string) string {
	if len(v) > 19 {
		return v[:16] + "…"
	}
	return v
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
