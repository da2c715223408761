package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides.
// NETWATCH_REFRESH__INTERVAL=5s overrides refresh.interval.
const EnvPrefix = "NETWATCH_"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level NetWatch configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Window    WindowConfig    `koanf:"window"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	Storage   StorageConfig   `koanf:"storage"`
	Simulator SimulatorConfig `koanf:"simulator"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	CVE       CVEConfig       `koanf:"cve"`
	Weather   WeatherConfig   `koanf:"weather"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host      string `koanf:"host"`
	Port      string `koanf:"port"`
	StaticDir string `koanf:"static_dir"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// WindowConfig controls the rolling window store.
type WindowConfig struct {
	Horizon   time.Duration `koanf:"horizon"`
	PurgeIdle bool          `koanf:"purge_idle"`
}

// RefreshConfig controls the auto-refresh loop.
type RefreshConfig struct {
	Auto     bool          `koanf:"auto"`
	Interval time.Duration `koanf:"interval"`
}

// StorageConfig selects and sizes the sample persistence backend.
type StorageConfig struct {
	Backend      string        `koanf:"backend"` // "memory" or "badger"
	DataDir      string        `koanf:"data_dir"`
	MaxStorageGB int64         `koanf:"max_storage_gb"`
	MaxMemoryMB  int64         `koanf:"max_memory_mb"`
	Retention    time.Duration `koanf:"retention"`
}

// SimulatorConfig controls the fake device generator.
type SimulatorConfig struct {
	Seed int64 `koanf:"seed"` // 0 seeds from the clock
}

// AlertsConfig bounds the alert feed.
type AlertsConfig struct {
	Max int `koanf:"max"`
}

// CVEConfig configures the NVD widget.
type CVEConfig struct {
	Enabled    bool          `koanf:"enabled"`
	BaseURL    string        `koanf:"base_url"`
	Keyword    string        `koanf:"keyword"`
	MaxResults int           `koanf:"max_results"`
	APIKeyEnv  string        `koanf:"api_key_env"`
	Timeout    time.Duration `koanf:"timeout"`
	TTL        time.Duration `koanf:"ttl"`
}

// APIKey resolves the key from the configured environment variable.
func (c CVEConfig) APIKey() string {
	return lookupSecret(c.APIKeyEnv)
}

// WeatherConfig configures the AccuWeather widget.
type WeatherConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	City      string        `koanf:"city"`
	State     string        `koanf:"state"`
	APIKeyEnv string        `koanf:"api_key_env"`
	Timeout   time.Duration `koanf:"timeout"`
	TTL       time.Duration `koanf:"ttl"`
}

// APIKey resolves the key from the configured environment variable.
func (c WeatherConfig) APIKey() string {
	return lookupSecret(c.APIKeyEnv)
}

func lookupSecret(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":            DefaultHost,
		"server.port":            DefaultPort,
		"server.static_dir":      "./web",
		"window.horizon":         DefaultHorizon.String(),
		"window.purge_idle":      true,
		"refresh.auto":           false,
		"refresh.interval":       DefaultRefreshInterval.String(),
		"storage.backend":        "badger",
		"storage.data_dir":       DefaultDataDir,
		"storage.max_storage_gb": DefaultMaxStorageGB,
		"storage.max_memory_mb":  DefaultMaxMemoryMB,
		"storage.retention":      DefaultPersistedRetention.String(),
		"simulator.seed":         0,
		"alerts.max":             50,
		"cve.enabled":            true,
		"cve.base_url":           DefaultNVDURL,
		"cve.keyword":            DefaultCVEKeyword,
		"cve.max_results":        DefaultCVEMaxResults,
		"cve.api_key_env":        "NVD_API_KEY",
		"cve.timeout":            DefaultFetchTimeout.String(),
		"cve.ttl":                DefaultWidgetTTL.String(),
		"weather.enabled":        true,
		"weather.base_url":       DefaultAccuWeatherURL,
		"weather.city":           DefaultWeatherCity,
		"weather.state":          DefaultWeatherState,
		"weather.api_key_env":    "ACCUWEATHER_API_KEY",
		"weather.timeout":        DefaultFetchTimeout.String(),
		"weather.ttl":            DefaultWidgetTTL.String(),
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and NETWATCH_* environment variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Plain PORT / WEATHER_CITY / WEATHER_STATE are honoured for
	// compatibility with common hosting setups.
	for envKey, cfgKey := range map[string]string{
		"PORT":          "server.port",
		"WEATHER_CITY":  "weather.city",
		"WEATHER_STATE": "weather.state",
	} {
		if v := os.Getenv(envKey); v != "" {
			k.Set(cfgKey, v)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("%w: server.port is required", ErrInvalidConfig)
	}
	if c.Window.Horizon <= 0 {
		return fmt.Errorf("%w: window.horizon must be positive, got %v", ErrInvalidConfig, c.Window.Horizon)
	}
	if c.Refresh.Interval < MinRefreshInterval || c.Refresh.Interval > MaxRefreshInterval {
		return fmt.Errorf("%w: refresh.interval must be between %v and %v, got %v",
			ErrInvalidConfig, MinRefreshInterval, MaxRefreshInterval, c.Refresh.Interval)
	}

	switch c.Storage.Backend {
	case "memory":
	case "badger":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("%w: storage.data_dir is required for the badger backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.Retention < c.Window.Horizon {
		return fmt.Errorf("%w: storage.retention (%v) must cover window.horizon (%v)",
			ErrInvalidConfig, c.Storage.Retention, c.Window.Horizon)
	}

	if c.Alerts.Max <= 0 {
		return fmt.Errorf("%w: alerts.max must be positive", ErrInvalidConfig)
	}
	if c.CVE.Enabled && c.CVE.MaxResults <= 0 {
		return fmt.Errorf("%w: cve.max_results must be positive", ErrInvalidConfig)
	}
	if c.Weather.Enabled && (c.Weather.City == "" || c.Weather.State == "") {
		return fmt.Errorf("%w: weather.city and weather.state are required", ErrInvalidConfig)
	}
	return nil
}
