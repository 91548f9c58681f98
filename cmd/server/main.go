package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"zkpauth/internal/app"
	"zkpauth/internal/platform/config"
	"zkpauth/internal/platform/httpserver"
	"zkpauth/internal/platform/logger"
	"zkpauth/internal/platform/metrics"
	"zkpauth/internal/platform/middleware"
	"zkpauth/internal/ratelimit"
	httptransport "zkpauth/internal/transport/http"
)

func main() {
	configPath := flag.String("config", os.Getenv("ZKP_CONFIG"), "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the core, serves HTTP and runs the background workers until SIGINT or
// SIGTERM. The first worker to fail stops the rest.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Error("close failed", "error", err)
		}
	}()

	trusted, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	deps := httptransport.Deps{
		Auth:           core.Auth,
		Authenticator:  core.Sessions,
		Metrics:        metrics.New(),
		TrustedProxies: trusted,
		Logger:         log,
	}
	if core.Facade != nil {
		deps.Facade = core.Facade
	}
	if core.Wallet != nil {
		deps.Wallet = core.Wallet
	}
	var window *ratelimit.Window
	if cfg.RateLimit.Enabled {
		window = ratelimit.NewWindow(cfg.RateLimit.AuthRequests, cfg.RateLimit.Window.Duration)
		deps.AuthLimit = ratelimit.PerClient(window, log, ratelimit.NewMetrics())
	}
	srv := httpserver.New(cfg.Server, httptransport.NewRouter(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting zkpauth", "addr", cfg.Server.Addr, "issuer_enabled", cfg.Issuer.Enabled)
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout.Duration)
	})
	if window != nil {
		g.Go(func() error { return window.Run(gctx, cfg.RateLimit.Window.Duration) })
	}
	for _, worker := range core.Workers() {
		g.Go(func() error { return worker(gctx) })
	}

	err = g.Wait()
	log.Info("zkpauth stopped")
	return err
}
