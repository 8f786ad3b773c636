package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ailenergy/internal/portal"
	"ailenergy/internal/tariff"
)

// Defaults applied when the config file omits a field or is absent entirely.
const (
	DefaultPollInterval = time.Hour
	DefaultFetchWindow  = 5 * 24 * time.Hour
	DefaultAPIPort      = 8099
)

// Duration wraps time.Duration so intervals can be written as "30m" or "1h"
// in the config file.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"1h\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PortalConfig selects the EnergyBuddy endpoint. Only overridden in tests.
type PortalConfig struct {
	BaseURL string `yaml:"base_url"`
}

// TariffConfig is the user's two-rate tariff, in CHF per kWh. When Fixed is
// set the rates are ignored and the standard AIL rates apply.
type TariffConfig struct {
	Fixed       bool    `yaml:"fixed"`
	PeakRate    float64 `yaml:"peak_rate"`
	OffPeakRate float64 `yaml:"off_peak_rate"`
}

// PollConfig controls the fetch cadence and how far back each fetch reaches.
type PollConfig struct {
	Interval Duration `yaml:"interval"`
	Window   Duration `yaml:"window"`
}

// APIConfig configures the local status HTTP server.
type APIConfig struct {
	Port int `yaml:"port"`
}

// Config represents the ail_config.yaml structure
type Config struct {
	Portal PortalConfig `yaml:"portal"`
	Tariff TariffConfig `yaml:"tariff"`
	Poll   PollConfig   `yaml:"poll"`
	API    APIConfig    `yaml:"api"`
}

// TariffModel converts the configured tariff into the calculator's model.
func (c *Config) TariffModel() tariff.Tariff {
	return tariff.Tariff{
		PeakRate:    c.Tariff.PeakRate,
		OffPeakRate: c.Tariff.OffPeakRate,
		Fixed:       c.Tariff.Fixed,
	}
}

// Loader manages configuration file loading
type Loader struct {
	path   string
	logger *zap.Logger
	config *Config
}

// NewLoader creates a new configuration loader
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Load reads and validates the configuration file. A missing file is not an
// error: everything has a usable default.
func (l *Loader) Load() error {
	config := defaults()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("No config file found, using defaults", zap.String("path", l.path))
			l.config = config
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(config)

	if err := validate(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l.config = config
	l.logger.Info("Config loaded successfully",
		zap.String("path", l.path),
		zap.Duration("poll_interval", config.Poll.Interval.Std()),
		zap.Bool("fixed_tariff", config.Tariff.Fixed))
	return nil
}

// Config returns the loaded configuration
func (l *Loader) Config() *Config {
	return l.config
}

func defaults() *Config {
	return &Config{
		Portal: PortalConfig{BaseURL: portal.DefaultBaseURL},
		Tariff: TariffConfig{
			PeakRate:    tariff.StandardPeakRateCHF,
			OffPeakRate: tariff.StandardOffPeakRateCHF,
		},
		Poll: PollConfig{
			Interval: Duration(DefaultPollInterval),
			Window:   Duration(DefaultFetchWindow),
		},
		API: APIConfig{Port: DefaultAPIPort},
	}
}

// applyDefaults backfills zero values left by a partial config file.
func applyDefaults(c *Config) {
	if c.Portal.BaseURL == "" {
		c.Portal.BaseURL = portal.DefaultBaseURL
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = Duration(DefaultPollInterval)
	}
	if c.Poll.Window == 0 {
		c.Poll.Window = Duration(DefaultFetchWindow)
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
}

func validate(c *Config) error {
	if c.Tariff.PeakRate < 0 || c.Tariff.OffPeakRate < 0 {
		return fmt.Errorf("tariff rates must not be negative")
	}
	if c.Poll.Interval.Std() < time.Minute {
		return fmt.Errorf("poll interval %s too short, minimum is 1m", c.Poll.Interval.Std())
	}
	if c.Poll.Window < c.Poll.Interval {
		return fmt.Errorf("fetch window %s must cover at least one poll interval", c.Poll.Window.Std())
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	return nil
}
