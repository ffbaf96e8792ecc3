package config

// YamlAppConfig mirrors one entry under the `apps:` key. The map key is
// the app id (or glob-style app id pattern) the entry serves; which of
// the remaining fields apply depends on `type`.
type YamlAppConfig struct {
	Type string `yaml:"type"`

	// apns
	Certfile string `yaml:"certfile"`
	Keyfile  string `yaml:"keyfile"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	Topic    string `yaml:"topic"`
	Platform string `yaml:"platform"`

	// gcm
	ServiceAccountFile string `yaml:"service_account_file"`
	APIKey             string `yaml:"api_key"`
	ProjectID          string `yaml:"project_id"`

	// webpush
	VapidPrivateKey  string   `yaml:"vapid_private_key"`
	VapidPublicKey   string   `yaml:"vapid_public_key"`
	VapidContactURI  string   `yaml:"vapid_contact_uri"`
	TTL              int      `yaml:"ttl"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`
	FullPayload      bool     `yaml:"full_payload"`

	// shared
	EventIDOnly    bool `yaml:"event_id_only"`
	MaxConnections int  `yaml:"max_connections"`
}

type YamlHTTPConfig struct {
	BindAddresses []string `yaml:"bind_addresses"`
	Port          int      `yaml:"port"`
}

type YamlLogConfig struct {
	Level string `yaml:"level"`
}

type YamlPrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type YamlMetricsConfig struct {
	Prometheus YamlPrometheusConfig `yaml:"prometheus"`
}

// YamlConfig is the structure that mirrors the raw config file.
type YamlConfig struct {
	Apps                  map[string]YamlAppConfig `yaml:"apps"`
	HTTP                  YamlHTTPConfig           `yaml:"http"`
	Log                   YamlLogConfig            `yaml:"log"`
	Metrics               YamlMetricsConfig        `yaml:"metrics"`
	Proxy                 string                   `yaml:"proxy"`
	CAFile                string                   `yaml:"ca_file"`
	RequestTimeoutSeconds int                      `yaml:"request_timeout_seconds"`
}
