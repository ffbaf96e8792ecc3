// Package config loads and validates the gateway's startup configuration.
// A YamlConfig mirroring the raw file is mapped into the authoritative
// Config, after which environment overrides and final validation apply.
// The result is immutable for the life of the process.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Pushkin types accepted in app entries.
const (
	TypeAPNS    = "apns"
	TypeGCM     = "gcm"
	TypeWebPush = "webpush"
)

// AppConfig is the validated form of one app entry.
type AppConfig struct {
	Type string

	// apns
	Certfile string
	Keyfile  string
	KeyID    string
	TeamID   string
	Topic    string
	Platform string

	// gcm
	ServiceAccountFile string
	APIKey             string
	ProjectID          string

	// webpush
	VapidPrivateKey  string
	VapidPublicKey   string
	VapidContactURI  string
	TTL              int
	AllowedEndpoints []string
	FullPayload      bool

	// shared
	EventIDOnly    bool
	MaxConnections int
}

// Config defines the single, authoritative configuration.
type Config struct {
	Apps map[string]AppConfig

	BindAddresses []string
	Port          int

	LogLevel slog.Level

	MetricsEnabled bool
	MetricsAddress string
	MetricsPort    int

	ProxyURL string
	CAFile   string

	RequestTimeout time.Duration
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config
// struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		Apps:           make(map[string]AppConfig, len(baseCfg.Apps)),
		BindAddresses:  baseCfg.HTTP.BindAddresses,
		Port:           baseCfg.HTTP.Port,
		MetricsEnabled: baseCfg.Metrics.Prometheus.Enabled,
		MetricsAddress: baseCfg.Metrics.Prometheus.Address,
		MetricsPort:    baseCfg.Metrics.Prometheus.Port,
		ProxyURL:       baseCfg.Proxy,
		CAFile:         baseCfg.CAFile,
		RequestTimeout: time.Duration(baseCfg.RequestTimeoutSeconds) * time.Second,
	}

	level, err := parseLogLevel(baseCfg.Log.Level)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	for appID, app := range baseCfg.Apps {
		cfg.Apps[appID] = AppConfig{
			Type:               app.Type,
			Certfile:           app.Certfile,
			Keyfile:            app.Keyfile,
			KeyID:              app.KeyID,
			TeamID:             app.TeamID,
			Topic:              app.Topic,
			Platform:           app.Platform,
			ServiceAccountFile: app.ServiceAccountFile,
			APIKey:             app.APIKey,
			ProjectID:          app.ProjectID,
			VapidPrivateKey:    app.VapidPrivateKey,
			VapidPublicKey:     app.VapidPublicKey,
			VapidContactURI:    app.VapidContactURI,
			TTL:                app.TTL,
			AllowedEndpoints:   app.AllowedEndpoints,
			FullPayload:        app.FullPayload,
			EventIDOnly:        app.EventIDOnly,
			MaxConnections:     app.MaxConnections,
		}
	}

	logger.Debug("YAML config mapping complete", "apps", len(cfg.Apps), "port", cfg.Port)
	return cfg, nil
}

// UpdateConfigWithEnvOverrides applies environment variables and final
// validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT override %q", val)
		}
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.Port = port
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		level, err := parseLogLevel(val)
		if err != nil {
			return nil, err
		}
		logger.Debug("Overriding config value", "key", "LOG_LEVEL", "source", "env")
		cfg.LogLevel = level
	}
	if val := os.Getenv("PROXY_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "PROXY_URL", "source", "env")
		cfg.ProxyURL = val
	}

	// Final validation and defaults.
	if len(cfg.Apps) == 0 {
		return nil, fmt.Errorf("at least one app must be configured under 'apps'")
	}
	for appID, app := range cfg.Apps {
		if err := validateApp(appID, app); err != nil {
			return nil, err
		}
	}
	if len(cfg.BindAddresses) == 0 {
		cfg.BindAddresses = []string{"0.0.0.0"}
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MetricsEnabled {
		if cfg.MetricsAddress == "" {
			cfg.MetricsAddress = "0.0.0.0"
		}
		if cfg.MetricsPort == 0 {
			return nil, fmt.Errorf("metrics.prometheus.port is required when prometheus is enabled")
		}
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validateApp(appID string, app AppConfig) error {
	switch app.Type {
	case TypeAPNS:
		if app.Topic == "" {
			return fmt.Errorf("app %q: topic is required for apns", appID)
		}
		hasCert := app.Certfile != ""
		hasKey := app.Keyfile != ""
		if hasCert == hasKey {
			return fmt.Errorf("app %q: exactly one of certfile or keyfile must be set", appID)
		}
		if hasKey && (app.KeyID == "" || app.TeamID == "") {
			return fmt.Errorf("app %q: key_id and team_id are required with keyfile", appID)
		}
		if app.Platform != "" && app.Platform != "production" && app.Platform != "sandbox" {
			return fmt.Errorf("app %q: platform must be production or sandbox", appID)
		}
	case TypeGCM:
		hasAccount := app.ServiceAccountFile != ""
		hasKey := app.APIKey != ""
		if hasAccount == hasKey {
			return fmt.Errorf("app %q: exactly one of service_account_file or api_key must be set", appID)
		}
	case TypeWebPush:
		if app.VapidPrivateKey == "" || app.VapidPublicKey == "" {
			return fmt.Errorf("app %q: vapid_private_key and vapid_public_key are required", appID)
		}
		if app.VapidContactURI == "" {
			return fmt.Errorf("app %q: vapid_contact_uri is required", appID)
		}
	case "":
		return fmt.Errorf("app %q: type is required", appID)
	default:
		return fmt.Errorf("app %q: unknown pushkin type %q", appID, app.Type)
	}
	return nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch value {
	case "debug", "DEBUG":
		return slog.LevelDebug, nil
	case "", "info", "INFO":
		return slog.LevelInfo, nil
	case "warn", "WARN":
		return slog.LevelWarn, nil
	case "error", "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}
