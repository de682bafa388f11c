package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/missionkpi/missionkpi/pkg/breach"
	"github.com/missionkpi/missionkpi/pkg/forecast"
	"github.com/missionkpi/missionkpi/pkg/kpi"
	"github.com/missionkpi/missionkpi/pkg/tabular"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultSnapshotTTL     = 24 * time.Hour
	DefaultSnapshotHistory = 90
	DefaultStatePath       = "state.json"
	DefaultIntervalMinutes = 5
	DefaultMaxBodyBytes    = 10 << 20
	DefaultForecastMetric  = kpi.MetricAvgResponse
	DefaultSyncDataset     = "sheet"
	DefaultSyncTimeout     = 30 * time.Second
	DefaultAlertCooldown   = 15 * time.Minute
	DefaultWebhookRPS      = 1.0
	DefaultStreamInterval  = 5 * time.Second
)

// DefaultThresholds are the limits a fresh install starts with.
var DefaultThresholds = breach.Thresholds{
	ResponseLimit:     70,
	LateRateLimit:     10,
	DailyMissionLimit: 50,
}

// Config holds the server configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// AllowedOrigins lists CORS origins for browser dashboards. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StreamInterval is how often the WebSocket hub pushes a snapshot (default 5s).
	StreamInterval time.Duration `yaml:"stream_interval"`

	Auth     AuthConfig     `yaml:"auth"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	State    StateConfig    `yaml:"state"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Forecast ForecastConfig `yaml:"forecast"`
	Sync     SyncConfig     `yaml:"sync"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// Level maps LogLevel onto slog. Unknown values were rejected by validate.
func (s ServerConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "X-API-Key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// SnapshotConfig controls in-memory snapshot retention.
type SnapshotConfig struct {
	// TTL is how long a dataset stays in the store after its last upload.
	TTL time.Duration `yaml:"ttl"`

	// History is how many snapshots per dataset are kept for forecasting.
	History int `yaml:"history"`
}

// StateConfig locates the persisted sync state and seeds a fresh one.
type StateConfig struct {
	Path     string        `yaml:"path"`
	Defaults StateDefaults `yaml:"defaults"`
}

// StateDefaults are applied when no state file exists yet, and as the base
// every stored state is merged over.
type StateDefaults struct {
	IntervalMinutes int               `yaml:"interval_min"`
	Thresholds      breach.Thresholds `yaml:"thresholds"`
}

// IngestConfig controls how uploaded text is parsed.
type IngestConfig struct {
	// Mode is lenient (default) or strict.
	Mode tabular.Mode `yaml:"mode"`

	// MaxBodyBytes caps an upload.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ForecastConfig holds the seasonal model inputs.
type ForecastConfig struct {
	// DayFactors has seven multipliers, Sunday first.
	DayFactors []float64 `yaml:"day_factors"`

	// Metric is the snapshot KPI forecast when a request does not name one.
	Metric string `yaml:"metric"`
}

// Factors returns DayFactors as the forecast model type.
func (f ForecastConfig) Factors() forecast.DayFactors {
	df, err := forecast.FactorsFrom(f.DayFactors)
	if err != nil {
		return forecast.Neutral()
	}
	return df
}

// SyncConfig controls polling of the remote sheet named in the state.
type SyncConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dataset string        `yaml:"dataset"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlertsConfig controls breach alert delivery.
type AlertsConfig struct {
	// Cooldown suppresses webhook re-delivery of the same dataset, kind and
	// center for this long.
	Cooldown time.Duration `yaml:"cooldown"`

	// WebhookRPS limits webhook deliveries per second.
	WebhookRPS float64 `yaml:"webhook_rps"`

	// WebhookURLEnv names an environment variable holding a webhook URL used
	// when the state carries none.
	WebhookURLEnv string `yaml:"webhook_url_env"`
}

// WebhookURL returns the fallback webhook URL resolved from the environment.
func (a AlertsConfig) WebhookURL() string {
	if a.WebhookURLEnv == "" {
		return ""
	}
	return os.Getenv(a.WebhookURLEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			LogLevel:       DefaultLogLevel,
			StreamInterval: DefaultStreamInterval,
			Snapshot: SnapshotConfig{
				TTL:     DefaultSnapshotTTL,
				History: DefaultSnapshotHistory,
			},
			State: StateConfig{
				Path: DefaultStatePath,
				Defaults: StateDefaults{
					IntervalMinutes: DefaultIntervalMinutes,
					Thresholds:      DefaultThresholds,
				},
			},
			Ingest: IngestConfig{
				Mode:         tabular.ModeLenient,
				MaxBodyBytes: DefaultMaxBodyBytes,
			},
			Forecast: ForecastConfig{
				DayFactors: []float64{1, 1, 1, 1, 1, 1, 1},
				Metric:     DefaultForecastMetric,
			},
			Sync: SyncConfig{
				Dataset: DefaultSyncDataset,
				Timeout: DefaultSyncTimeout,
			},
			Alerts: AlertsConfig{
				Cooldown:   DefaultAlertCooldown,
				WebhookRPS: DefaultWebhookRPS,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.StreamInterval <= 0 {
		return fmt.Errorf("server.stream_interval must be positive")
	}
	if s.Snapshot.TTL <= 0 {
		return fmt.Errorf("server.snapshot.ttl must be positive")
	}
	if s.Snapshot.History < 1 {
		return fmt.Errorf("server.snapshot.history must be at least 1")
	}
	if s.State.Path == "" {
		return fmt.Errorf("server.state.path is required")
	}
	if s.State.Defaults.IntervalMinutes < 1 {
		return fmt.Errorf("server.state.defaults.interval_min must be at least 1")
	}
	switch s.Ingest.Mode {
	case tabular.ModeLenient, tabular.ModeStrict, "":
	default:
		return fmt.Errorf("server.ingest.mode %q unknown: want lenient|strict", s.Ingest.Mode)
	}
	if s.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.ingest.max_body_bytes must be positive")
	}
	if len(s.Forecast.DayFactors) != 7 {
		return fmt.Errorf("server.forecast.day_factors needs 7 entries, got %d", len(s.Forecast.DayFactors))
	}
	if _, ok := (&kpi.Snapshot{}).Metric(s.Forecast.Metric); !ok {
		return fmt.Errorf("server.forecast.metric %q unknown", s.Forecast.Metric)
	}
	if s.Sync.Enabled && s.Sync.Dataset == "" {
		return fmt.Errorf("server.sync.dataset is required when sync is enabled")
	}
	if s.Sync.Timeout <= 0 {
		return fmt.Errorf("server.sync.timeout must be positive")
	}
	if s.Alerts.Cooldown < 0 {
		return fmt.Errorf("server.alerts.cooldown must not be negative")
	}
	if s.Alerts.WebhookRPS <= 0 {
		return fmt.Errorf("server.alerts.webhook_rps must be positive")
	}
	return nil
}
