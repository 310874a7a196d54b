package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"lifewatch-cloud/internal/alerts/application"
	alerts "lifewatch-cloud/internal/alerts/domain"
)

// Duration is a time.Duration that decodes yaml strings like "30m".
// Bare integers are read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if seconds, err := strconv.Atoi(value.Value); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ThresholdsConfig holds the default silence thresholds in minutes.
type ThresholdsConfig struct {
	WarningMinutes   float64 `yaml:"warning_minutes"`
	DangerMinutes    float64 `yaml:"danger_minutes"`
	EmergencyMinutes float64 `yaml:"emergency_minutes"`
}

// MultipliersConfig holds the contextual threshold multipliers.
type MultipliersConfig struct {
	Weekend float64 `yaml:"weekend"`
	Night   float64 `yaml:"night"`
	Holiday float64 `yaml:"holiday"`
}

// CooldownsConfig holds the per-level duplicate cooldowns.
type CooldownsConfig struct {
	Warning   Duration `yaml:"warning"`
	Danger    Duration `yaml:"danger"`
	Emergency Duration `yaml:"emergency"`
}

// EscalationConfig holds the escalation cycle settings.
type EscalationConfig struct {
	Delay    Duration `yaml:"delay"`
	MaxLevel int      `yaml:"max_level"`
}

// ConfirmationConfig holds the confirmation round settings.
type ConfirmationConfig struct {
	Window       Duration `yaml:"window"`
	EarlyExit    Duration `yaml:"early_exit"`
	PeerLookback Duration `yaml:"peer_lookback"`
	MaxContacts  int      `yaml:"max_contacts"`
}

// RetryConfig holds the notification retry settings.
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	Delay         Duration `yaml:"delay"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ServiceConfig names one public service endpoint.
type ServiceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config is the process configuration. Values come from an optional
// yaml file named by LIFEWATCH_CONFIG, with env overrides on top.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`
	WebhookURL  string `yaml:"webhook_url"`
	AdminUserID string `yaml:"admin_user_id"`

	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	Multipliers  MultipliersConfig  `yaml:"multipliers"`
	Cooldowns    CooldownsConfig    `yaml:"cooldowns"`
	Escalation   EscalationConfig   `yaml:"escalation"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Retry        RetryConfig        `yaml:"retry"`
	Holidays     []string           `yaml:"holidays"`
	Services     []ServiceConfig    `yaml:"services"`

	SweepInterval     Duration `yaml:"sweep_interval"`
	ActivityFreshness Duration `yaml:"activity_freshness"`
}

// Load builds the configuration from the yaml file (when set) and env.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenvDefault("LIFEWATCH_HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("LIFEWATCH_JWT_SECRET"),
		WebhookURL:  os.Getenv("LIFEWATCH_WEBHOOK_URL"),
		AdminUserID: getenvDefault("LIFEWATCH_ADMIN_USER", "operators"),
		Thresholds: ThresholdsConfig{
			WarningMinutes:   1440,
			DangerMinutes:    2880,
			EmergencyMinutes: 4320,
		},
		Multipliers: MultipliersConfig{Weekend: 1.5, Night: 0.8, Holiday: 2.0},
		Cooldowns: CooldownsConfig{
			Warning:   Duration(6 * time.Hour),
			Danger:    Duration(2 * time.Hour),
			Emergency: Duration(30 * time.Minute),
		},
		Escalation: EscalationConfig{Delay: Duration(time.Hour), MaxLevel: 3},
		Confirmation: ConfirmationConfig{
			Window:       Duration(30 * time.Minute),
			EarlyExit:    Duration(15 * time.Minute),
			PeerLookback: Duration(24 * time.Hour),
			MaxContacts:  3,
		},
		Retry: RetryConfig{
			MaxAttempts:   getenvIntDefault("LIFEWATCH_RETRY_MAX_ATTEMPTS", 3),
			Delay:         Duration(30 * time.Second),
			SweepInterval: Duration(30 * time.Second),
		},
		SweepInterval:     getenvDurationDefault("LIFEWATCH_SWEEP_INTERVAL", 5*time.Minute),
		ActivityFreshness: getenvDurationDefault("LIFEWATCH_ACTIVITY_FRESHNESS", 5*time.Minute),
	}

	if path := os.Getenv("LIFEWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the composed configuration.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: database url required")
	}
	if err := c.ThresholdSet().Validate(); err != nil {
		return err
	}
	if err := c.CooldownSet().Validate(); err != nil {
		return err
	}
	if c.Escalation.Delay <= 0 {
		return errors.New("config: escalation delay must be positive")
	}
	if c.Confirmation.EarlyExit >= c.Confirmation.Window {
		return errors.New("config: confirmation early exit must precede window end")
	}
	return nil
}

// ThresholdSet converts the configured thresholds to the domain type.
func (c Config) ThresholdSet() alerts.ThresholdSet {
	return alerts.ThresholdSet{
		WarningMinutes:   c.Thresholds.WarningMinutes,
		DangerMinutes:    c.Thresholds.DangerMinutes,
		EmergencyMinutes: c.Thresholds.EmergencyMinutes,
	}
}

// CooldownSet converts the configured cooldowns to the domain type.
func (c Config) CooldownSet() application.Cooldowns {
	return application.Cooldowns{
		Warning:   c.Cooldowns.Warning.Std(),
		Danger:    c.Cooldowns.Danger.Std(),
		Emergency: c.Cooldowns.Emergency.Std(),
	}
}

// MultiplierSet converts the configured multipliers to the domain type.
func (c Config) MultiplierSet() alerts.ContextualMultipliers {
	return alerts.ContextualMultipliers{
		Weekend: c.Multipliers.Weekend,
		Night:   c.Multipliers.Night,
		Holiday: c.Multipliers.Holiday,
	}
}

// HolidaySet converts the configured month-day list to the domain type.
func (c Config) HolidaySet() alerts.Holidays {
	return alerts.NewHolidays(c.Holidays)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) Duration {
	value := os.Getenv(key)
	if value == "" {
		return Duration(fallback)
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return Duration(fallback)
	}
	return Duration(parsed)
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
