// Package main is the entry point for the krestgw gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/krestgw/internal/config"
	"github.com/vyrodovalexey/krestgw/internal/gateway"
	"github.com/vyrodovalexey/krestgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)

	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config",
		getEnvOrDefault("KRESTGW_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level",
		getEnvOrDefault("KRESTGW_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format",
		getEnvOrDefault("KRESTGW_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("krestgw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting krestgw",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("listener", cfg.Spec.Listener.Address),
		observability.String("upstream", cfg.Spec.Upstream.URL),
		observability.String("store", cfg.Spec.Auth.Store.Type),
	)

	return cfg
}

// run builds the gateway and blocks until a shutdown signal arrives.
// SIGHUP reloads credentials in place; config file changes are applied
// to the running gateway where possible.
func run(cfg *config.GatewayConfig, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(ctx, cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
	)
	if err != nil {
		logger.Fatal("failed to build gateway", observability.Error(err))
	}

	watcher := startConfigWatcher(ctx, configPath, gw, logger)
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reloading credentials")
				if err := gw.Reload(ctx); err != nil {
					logger.Error("credential reload failed", observability.Error(err))
				}
			default:
				logger.Info("received shutdown signal",
					observability.String("signal", sig.String()),
				)
				cancel()
				return
			}
		}
	}()

	if err := gw.Run(ctx); err != nil {
		logger.Fatal("gateway failed", observability.Error(err))
	}
}

// startConfigWatcher watches the config file and applies changes to
// the running gateway. A watcher failure disables hot reload but never
// stops a gateway that is already serving.
func startConfigWatcher(
	ctx context.Context,
	configPath string,
	gw *gateway.Gateway,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(next *config.GatewayConfig) {
		if err := gw.ApplyConfig(ctx, next); err != nil {
			logger.Error("failed to apply configuration change", observability.Error(err))
		}
	}, config.WithLogger(logger))
	if err != nil {
		logger.Error("config watcher disabled", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Error("config watcher disabled", observability.Error(err))
		return nil
	}

	return watcher
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
