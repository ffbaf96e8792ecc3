package main

import (
	"context"
	_ "embed"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-gateway/pushgateway"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	configPath := flag.String("config", "", "path to the gateway config file (defaults to the embedded config)")
	flag.Parse()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-gateway")
	slog.SetDefault(logger)

	// --- Config Loading ---
	rawCfg := configFile
	if *configPath != "" {
		fileCfg, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Error("Failed to read config file", "path", *configPath, "err", err)
			os.Exit(1)
		}
		rawCfg = fileCfg
	}

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(rawCfg, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// Rebuild the logger in case the config changed the level.
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With("service", "go-push-gateway")
	slog.SetDefault(logger)

	// --- Service ---
	service, err := pushgateway.New(cfg, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}

	if err := service.Shutdown(context.Background()); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}
