package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the PV bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Meter     MeterConfig     `yaml:"meter"`
	Venus     VenusConfig     `yaml:"venus"`
	Publisher PublisherConfig `yaml:"publisher"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MeterConfig contains the subscribe-side (meter) MQTT settings.
type MeterConfig struct {
	Broker      BrokerConfig    `yaml:"broker"`
	Auth        AuthConfig      `yaml:"auth"`
	QoS         int             `yaml:"qos"`
	TopicPrefix string          `yaml:"topic_prefix"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// AuthConfig contains MQTT authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig contains meter-side reconnection settings.
//
// Mode selects the retry policy:
//   - "exponential": delay grows by GrowthFactor per failed attempt,
//     capped at MaxDelay, reset to InitialDelay on success (default)
//   - "fixed": every retry waits InitialDelay
type ReconnectConfig struct {
	Mode         string  `yaml:"mode"`
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	GrowthFactor float64 `yaml:"growth_factor"`
}

// VenusConfig contains the publish-side (value tree) settings.
// The bridge mirrors a Victron-style D-Bus service onto this broker.
type VenusConfig struct {
	Broker         BrokerConfig `yaml:"broker"`
	Auth           AuthConfig   `yaml:"auth"`
	QoS            int          `yaml:"qos"`
	ServiceName    string       `yaml:"service_name"`
	DeviceInstance int          `yaml:"device_instance"`
	ProductName    string       `yaml:"product_name"`
	ProductID      int          `yaml:"product_id"`
	Position       int          `yaml:"position"`
}

// PublisherConfig contains snapshot publishing settings.
//
// RoundingMode selects how total power is rounded before publishing:
//   - "decimal": one decimal place (default)
//   - "integer": nearest whole watt
type PublisherConfig struct {
	UpdateInterval   int       `yaml:"update_interval"`
	NominalVoltage   float64   `yaml:"nominal_voltage"`
	InitialOffsetKWh float64   `yaml:"initial_offset_kwh"`
	PhaseShares      []float64 `yaml:"phase_shares"`
	RoundingMode     string    `yaml:"rounding_mode"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// publish-cycle recorder.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// HistoryConfig contains settings for the optional local SQLite archive.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	RetainDays  int    `yaml:"retain_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Reconnect mode values.
const (
	ReconnectExponential = "exponential"
	ReconnectFixed       = "fixed"
)

// Rounding mode values.
const (
	RoundingDecimal = "decimal"
	RoundingInteger = "integer"
)

// phaseCount is the number of AC phases the bridge models.
const phaseCount = 3

// phaseShareTolerance is the slack allowed when checking that the
// configured phase shares sum to 1.0.
const phaseShareTolerance = 0.01

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PVBRIDGE_SECTION_KEY
// For example: PVBRIDGE_METER_HOST, PVBRIDGE_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// Defaults mirror the reference installation: a 10 second publish cadence,
// 230V nominal phase voltage, and the site's measured phase load split.
func defaultConfig() *Config {
	return &Config{
		Meter: MeterConfig{
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pv-bridge-meter",
			},
			QoS:         0,
			TopicPrefix: "ehzmeter",
			Reconnect: ReconnectConfig{
				Mode:         ReconnectExponential,
				InitialDelay: 5,
				MaxDelay:     300,
				GrowthFactor: 1.5,
			},
		},
		Venus: VenusConfig{
			Broker: BrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pv-bridge-venus",
			},
			QoS:            1,
			ServiceName:    "pvinverter/pv0",
			DeviceInstance: 41,
			ProductName:    "SMAL1 HM L1 L2 L3",
			ProductID:      0xFFFF,
			Position:       0,
		},
		Publisher: PublisherConfig{
			UpdateInterval:   10,
			NominalVoltage:   230,
			InitialOffsetKWh: 73311,
			PhaseShares:      []float64{0.576, 0.212, 0.212},
			RoundingMode:     RoundingDecimal,
		},
		History: HistoryConfig{
			Path:        "./data/pv-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			RetainDays:  90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PVBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Meter broker
	if v := os.Getenv("PVBRIDGE_METER_HOST"); v != "" {
		cfg.Meter.Broker.Host = v
	}
	if v := os.Getenv("PVBRIDGE_METER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Meter.Broker.Port = port
		}
	}
	if v := os.Getenv("PVBRIDGE_METER_USERNAME"); v != "" {
		cfg.Meter.Auth.Username = v
	}
	if v := os.Getenv("PVBRIDGE_METER_PASSWORD"); v != "" {
		cfg.Meter.Auth.Password = v
	}

	// Venus broker
	if v := os.Getenv("PVBRIDGE_VENUS_HOST"); v != "" {
		cfg.Venus.Broker.Host = v
	}
	if v := os.Getenv("PVBRIDGE_VENUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Venus.Broker.Port = port
		}
	}
	if v := os.Getenv("PVBRIDGE_VENUS_USERNAME"); v != "" {
		cfg.Venus.Auth.Username = v
	}
	if v := os.Getenv("PVBRIDGE_VENUS_PASSWORD"); v != "" {
		cfg.Venus.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PVBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// History
	if v := os.Getenv("PVBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// Logging
	if v := os.Getenv("PVBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Meter validation
	if c.Meter.Broker.Host == "" {
		errs = append(errs, "meter.broker.host is required")
	}
	if c.Meter.Broker.Port < 1 || c.Meter.Broker.Port > 65535 {
		errs = append(errs, "meter.broker.port must be between 1 and 65535")
	}
	if c.Meter.QoS < 0 || c.Meter.QoS > 2 {
		errs = append(errs, "meter.qos must be 0, 1, or 2")
	}
	if c.Meter.TopicPrefix == "" {
		errs = append(errs, "meter.topic_prefix is required")
	}
	if strings.ContainsAny(c.Meter.TopicPrefix, "#+") {
		errs = append(errs, "meter.topic_prefix must not contain wildcards")
	}
	if m := c.Meter.Reconnect.Mode; m != ReconnectExponential && m != ReconnectFixed {
		errs = append(errs, "meter.reconnect.mode must be \"exponential\" or \"fixed\"")
	}
	if c.Meter.Reconnect.InitialDelay < 1 {
		errs = append(errs, "meter.reconnect.initial_delay must be at least 1 second")
	}
	if c.Meter.Reconnect.MaxDelay < c.Meter.Reconnect.InitialDelay {
		errs = append(errs, "meter.reconnect.max_delay must be >= initial_delay")
	}
	if c.Meter.Reconnect.GrowthFactor < 1 {
		errs = append(errs, "meter.reconnect.growth_factor must be >= 1")
	}

	// Venus validation
	if c.Venus.Broker.Host == "" {
		errs = append(errs, "venus.broker.host is required")
	}
	if c.Venus.QoS < 0 || c.Venus.QoS > 2 {
		errs = append(errs, "venus.qos must be 0, 1, or 2")
	}
	if c.Venus.ServiceName == "" {
		errs = append(errs, "venus.service_name is required")
	}

	// Publisher validation
	if c.Publisher.UpdateInterval < 1 {
		errs = append(errs, "publisher.update_interval must be at least 1 second")
	}
	if c.Publisher.NominalVoltage <= 0 {
		errs = append(errs, "publisher.nominal_voltage must be positive")
	}
	if len(c.Publisher.PhaseShares) != phaseCount {
		errs = append(errs, "publisher.phase_shares must have exactly 3 entries")
	} else {
		var sum float64
		for _, share := range c.Publisher.PhaseShares {
			if share < 0 {
				errs = append(errs, "publisher.phase_shares must not be negative")
				break
			}
			sum += share
		}
		if sum < 1-phaseShareTolerance || sum > 1+phaseShareTolerance {
			errs = append(errs, "publisher.phase_shares must sum to 1.0")
		}
	}
	if m := c.Publisher.RoundingMode; m != RoundingDecimal && m != RoundingInteger {
		errs = append(errs, "publisher.rounding_mode must be \"decimal\" or \"integer\"")
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetUpdateInterval returns the publish cadence as a Duration.
func (c *Config) GetUpdateInterval() time.Duration {
	return time.Duration(c.Publisher.UpdateInterval) * time.Second
}

// GetInitialDelay returns the reconnect floor delay as a Duration.
func (c *Config) GetInitialDelay() time.Duration {
	return time.Duration(c.Meter.Reconnect.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect ceiling delay as a Duration.
func (c *Config) GetMaxDelay() time.Duration {
	return time.Duration(c.Meter.Reconnect.MaxDelay) * time.Second
}
