package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Observe ObserveConfig
	Server  ServerConfig
	Spotify SpotifyConfig
	Store   StoreConfig
}

type ServerConfig struct {
	Port                   int `env:"PORT, default=3000"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// FrontendURL is appended to the built-in localhost origins for CORS.
	FrontendURL string `env:"FRONTEND_URL"`

	// ExtraOrigins allows additional origins beyond the defaults.
	ExtraOrigins []string `env:"ALLOWED_ORIGINS"`
}

// SpotifyConfig holds the app credentials registered with Spotify. None of
// the values are required at startup: when they're absent the upstream calls
// fail and the service serves null responses rather than refusing to run.
type SpotifyConfig struct {
	ClientID     string `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string `env:"SPOTIFY_REDIRECT_URI"`

	AccountsURL string // internal only
	APIURL      string // internal only
}

// Configured reports whether the client credential pair is present. Calls to
// the token endpoint are pointless without it.
func (c SpotifyConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type StoreConfig struct {
	// TokenFile is the path of the durable token file, relative to the
	// working directory unless absolute.
	TokenFile string `env:"SPOTIFY_TOKEN_FILE, default=spotify-tokens.json"`
}

type ObserveConfig struct {
	SDKLogLevel               string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                   bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled            bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                      string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName               string `env:"OBSERVE_SERVICE_NAME, default=nowplaying-bridge"`
	TraceBatchTimeoutSeconds  int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
}

// defaultOrigins covers local development of the frontend; the backend
// itself is included so admin pages can call the JSON API.
var defaultOrigins = []string{
	"http://localhost:8080",
	"http://localhost:5500",
	"http://localhost:3000",
	"http://127.0.0.1:8080",
	"http://127.0.0.1:5500",
	"http://127.0.0.1:3000",
}

// AllowedOrigins returns the complete CORS allow-list: the development
// defaults, the configured frontend URL and any extras.
func (c ServerConfig) AllowedOrigins() []string {
	origins := make([]string, 0, len(defaultOrigins)+1+len(c.ExtraOrigins))
	origins = append(origins, defaultOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	origins = append(origins, c.ExtraOrigins...)
	return origins
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the structurally invalid cases. A missing Spotify client
// id/secret is deliberately not an error: see SpotifyConfig.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Store.TokenFile == "" {
		return fmt.Errorf("token file path must not be empty")
	}
	return nil
}
