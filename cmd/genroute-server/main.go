package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/semantrix/genroute/internal/config"
	"github.com/semantrix/genroute/internal/cost"
	"github.com/semantrix/genroute/internal/observability"
	"github.com/semantrix/genroute/internal/providers"
	"github.com/semantrix/genroute/internal/router"
	"github.com/semantrix/genroute/internal/router/health"
	"github.com/semantrix/genroute/internal/server"
	"go.uber.org/zap"
)

// Version information, set at build time with -ldflags.
var (
	version   = "dev"
	commitSHA = "unknown"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file with provider API keys")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("genroute version %s\n", version)
		fmt.Printf("Commit: %s\n", commitSHA)
		fmt.Printf("Built: %s\n", buildTime)
		os.Exit(0)
	}

	if err := run(*configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "genroute: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	loader := config.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer observability.SyncLogger(logger)

	shutdownTracer, err := observability.InitTracer(context.Background(), cfg.Observability.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()
	tracing := observability.NewTracing(cfg.Observability.Tracing)

	metrics, err := observability.NewMetrics(cfg.Observability.Metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(ctx); err != nil {
			logger.Warn("Failed to shut down meter provider", zap.Error(err))
		}
	}()

	// Serve metrics on a dedicated port when enabled
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go func() {
		if err := metrics.StartMetricsServer(metricsCtx); err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()

	pricing, err := cfg.Cost.PricingTable()
	if err != nil {
		return fmt.Errorf("failed to load pricing: %w", err)
	}
	tracker := cost.NewTracker(pricing, cost.WithRetention(cfg.Cost.RetentionDays))

	provs, err := initializeProviders(cfg, logger)
	if err != nil {
		return err
	}

	manager, err := router.New(cfg.Router, provs,
		router.WithLogger(logger),
		router.WithMetrics(metrics),
		router.WithTracer(tracing.GetTracer()),
		router.WithCostTracker(tracker),
	)
	if err != nil {
		return fmt.Errorf("failed to create provider manager: %w", err)
	}

	reporter, err := cost.NewReporter(tracker, cfg.Cost.ReportSchedule, logger)
	if err != nil {
		return err
	}
	reporter.Start()
	defer reporter.Stop()

	if _, err := os.Stat(configFile); err == nil {
		loader.Watch(func(updated *config.Config, err error) {
			reloadPricing(tracker, updated, err, logger)
		})
	}

	checker := health.NewHealthChecker(manager.TestAllProviders, cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout, logger)

	srv := server.NewServer(cfg.Server, manager,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithTracing(tracing),
		server.WithHealthChecker(checker),
		server.WithVersion(version),
	)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return srv.WaitForShutdown()
}

// initializeProviders creates the enabled providers, registering them in
// fallback order followed by the rest by name.
func initializeProviders(cfg *config.Config, logger *zap.Logger) ([]providers.Provider, error) {
	names := make([]string, 0, len(cfg.Providers))
	seen := make(map[string]bool, len(cfg.Providers))
	for _, name := range cfg.Router.FallbackOrder {
		if _, ok := cfg.Providers[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	provs := make([]providers.Provider, 0, len(names))
	for _, name := range names {
		p, err := providers.New(name, cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
		}
		provs = append(provs, p)
		logger.Info("Initialized provider", zap.String("name", name), zap.String("model", p.Model()))
	}
	return provs, nil
}

func reloadPricing(tracker *cost.Tracker, cfg *config.Config, err error, logger *zap.Logger) {
	if err != nil {
		logger.Warn("Ignoring invalid configuration change", zap.Error(err))
		return
	}
	table, err := cfg.Cost.PricingTable()
	if err != nil {
		logger.Warn("Ignoring invalid pricing change", zap.Error(err))
		return
	}
	if err := tracker.ReloadPricing(table); err != nil {
		logger.Warn("Failed to reload pricing", zap.Error(err))
		return
	}
	logger.Info("Pricing reloaded", zap.Int("providers", len(table)))
}
