package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/discovery-proxy/config"
	"github.com/angeloszaimis/discovery-proxy/internal/backend"
	"github.com/angeloszaimis/discovery-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/discovery-proxy/internal/dispatcher"
	"github.com/angeloszaimis/discovery-proxy/internal/handler"
	"github.com/angeloszaimis/discovery-proxy/internal/httpserver"
	"github.com/angeloszaimis/discovery-proxy/internal/metrics"
	"github.com/angeloszaimis/discovery-proxy/internal/ratelimit"
	"github.com/angeloszaimis/discovery-proxy/internal/registry"
	"github.com/angeloszaimis/discovery-proxy/pkg/logger"
)

const (
	metricsBufferSize = 1000
	// writeTimeoutSlack is added to the backend timeout for the public listener.
	writeTimeoutSlack = 5 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "discovery-proxy",
		Short: "Service-discovery reverse proxy",
		Long: `discovery-proxy keeps an in-memory registry of backends that register
themselves under a path through /register, and forwards every other request
to the next backend of its path in round-robin order.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
	cmd.Flags().Int("port", 8080, "port of the public listener")
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))

	return cmd
}

func run(parent context.Context, configFile string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		return err
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := registry.New()
	if err := seedRoutes(reg, cfg.Routes, log); err != nil {
		log.Error("Failed to seed routes", slog.Any("err", err))
		return err
	}

	metricsCollector := metrics.NewCollector(metricsBufferSize, log)
	metricsCollector.Start(ctx)

	forwarder, breakers := newForwarder(cfg, log)
	d := dispatcher.New(log, reg, forwarder, metricsCollector)
	proxyHandler := handler.NewProxyHandler(log, d, cfg.Proxy.MaxBodyBytes)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	srv, err := httpserver.New(cfg.Server.Address(),
		setupPublicHandler(proxyHandler, limiter, log),
		cfg.Proxy.TimeoutDuration()+writeTimeoutSlack)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}
	servers := []*httpserver.Server{srv}

	if cfg.Admin.Enabled {
		adminSrv, err := httpserver.New(cfg.Admin.Address, setupAdminRouter(reg, metricsCollector, breakers), 0)
		if err != nil {
			log.Error("Failed to create admin server", slog.Any("err", err))
			return err
		}
		servers = append(servers, adminSrv)
	}

	srvErrCh := make(chan error, len(servers))
	for _, s := range servers {
		log.Info("Listening", slog.String("addr", s.Addr()))
		go func(s *httpserver.Server) {
			if err := s.Start(); err != nil {
				srvErrCh <- fmt.Errorf("listener %s: %w", s.Addr(), err)
			}
		}(s)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-srvErrCh:
		log.Error("Error starting discovery proxy", slog.Any("err", runErr))
	}

	for _, s := range servers {
		if err := s.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.String("addr", s.Addr()), slog.Any("err", err))
		}
	}

	return runErr
}

// seedRoutes registers the endpoints listed in the config file.
func seedRoutes(reg *registry.Registry, routes []config.RouteConfig, log *slog.Logger) error {
	for _, route := range routes {
		for _, raw := range route.Endpoints {
			ep, err := registry.ParseEndpoint(raw)
			if err != nil {
				return fmt.Errorf("route %s: %w", route.Path, err)
			}
			if _, err := reg.Register(route.Path, ep); err != nil {
				return fmt.Errorf("route %s: %w", route.Path, err)
			}
		}
		log.Info("Seeded route",
			slog.String("route", route.Path),
			slog.Int("endpoints", len(reg.Endpoints(route.Path))))
	}

	return nil
}

// newForwarder builds the backend client, guarded by circuit breakers when
// enabled. The breaker registry is nil otherwise.
func newForwarder(cfg *config.Config, log *slog.Logger) (dispatcher.Forwarder, *circuitbreaker.Registry) {
	client := backend.NewClient(cfg.Proxy.TimeoutDuration(),
		backend.WithMaxIdleConns(cfg.Proxy.MaxIdleConns),
		backend.WithMaxResponseBytes(cfg.Proxy.MaxBodyBytes))

	if !cfg.CircuitBreaker.Enabled {
		return client, nil
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
		OpenTimeout:         cfg.CircuitBreaker.OpenTimeoutDuration(),
		HalfOpenRequests:    cfg.CircuitBreaker.HalfOpenRequests,
	}, log)

	return circuitbreaker.Wrap(client, breakers), breakers
}
