package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T, raw string) *config.Config {
	t.Helper()
	var yamlCfg config.YamlConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &yamlCfg))
	cfg, err := config.NewConfigFromYaml(&yamlCfg, testLogger())
	require.NoError(t, err)
	return cfg
}

func validApps() string {
	return `
apps:
  com.example.app.ios:
    type: apns
    certfile: /etc/keys/apns.pem
    topic: com.example.app
`
}

func TestConfig_Defaults(t *testing.T) {
	cfg := loadConfig(t, validApps())
	cfg, err := config.UpdateConfigWithEnvOverrides(cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"0.0.0.0"}, cfg.BindAddresses)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.MetricsEnabled)
}

func TestConfig_OutboundClientSettings(t *testing.T) {
	cfg := loadConfig(t, validApps()+`
proxy: "http://proxy.internal:3128"
ca_file: /etc/ssl/push-roots.pem
`)
	cfg, err := config.UpdateConfigWithEnvOverrides(cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "http://proxy.internal:3128", cfg.ProxyURL)
	assert.Equal(t, "/etc/ssl/push-roots.pem", cfg.CAFile)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PROXY_URL", "http://proxy.internal:3128")

	cfg := loadConfig(t, validApps())
	cfg, err := config.UpdateConfigWithEnvOverrides(cfg, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "http://proxy.internal:3128", cfg.ProxyURL)
}

func TestConfig_InvalidPortOverride(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	cfg := loadConfig(t, validApps())
	_, err := config.UpdateConfigWithEnvOverrides(cfg, testLogger())
	assert.Error(t, err)
}

func TestConfig_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no apps",
			yaml:    `apps: {}`,
			wantErr: "at least one app",
		},
		{
			name: "apns missing topic",
			yaml: `
apps:
  com.example.app.ios:
    type: apns
    certfile: /etc/keys/apns.pem
`,
			wantErr: "topic is required",
		},
		{
			name: "apns with both cert and key",
			yaml: `
apps:
  com.example.app.ios:
    type: apns
    topic: com.example.app
    certfile: /etc/keys/apns.pem
    keyfile: /etc/keys/apns.p8
`,
			wantErr: "exactly one of certfile or keyfile",
		},
		{
			name: "apns keyfile without team id",
			yaml: `
apps:
  com.example.app.ios:
    type: apns
    topic: com.example.app
    keyfile: /etc/keys/apns.p8
    key_id: KEYID12345
`,
			wantErr: "key_id and team_id",
		},
		{
			name: "apns bad platform",
			yaml: `
apps:
  com.example.app.ios:
    type: apns
    topic: com.example.app
    certfile: /etc/keys/apns.pem
    platform: staging
`,
			wantErr: "platform must be",
		},
		{
			name: "gcm with neither credential",
			yaml: `
apps:
  com.example.app.android:
    type: gcm
`,
			wantErr: "exactly one of service_account_file or api_key",
		},
		{
			name: "gcm with both credentials",
			yaml: `
apps:
  com.example.app.android:
    type: gcm
    service_account_file: /etc/keys/sa.json
    api_key: legacy-key
`,
			wantErr: "exactly one of service_account_file or api_key",
		},
		{
			name: "webpush missing contact",
			yaml: `
apps:
  com.example.app.web:
    type: webpush
    vapid_private_key: priv
    vapid_public_key: pub
`,
			wantErr: "vapid_contact_uri",
		},
		{
			name: "missing type",
			yaml: `
apps:
  com.example.app:
    topic: com.example.app
`,
			wantErr: "type is required",
		},
		{
			name: "unknown type",
			yaml: `
apps:
  com.example.app:
    type: carrier-pigeon
`,
			wantErr: "unknown pushkin type",
		},
		{
			name: "metrics enabled without port",
			yaml: validApps() + `
metrics:
  prometheus:
    enabled: true
`,
			wantErr: "metrics.prometheus.port",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadConfig(t, tc.yaml)
			_, err := config.UpdateConfigWithEnvOverrides(cfg, testLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_BadLogLevel(t *testing.T) {
	var yamlCfg config.YamlConfig
	require.NoError(t, yaml.Unmarshal([]byte(validApps()+"\nlog:\n  level: verbose"), &yamlCfg))
	_, err := config.NewConfigFromYaml(&yamlCfg, testLogger())
	assert.Error(t, err)
}
