package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// GridConfig holds site-wide capacity and cost settings.
type GridConfig struct {
	MaxCapacityKW                float64 `yaml:"max_capacity_kw" validate:"gt=0"`
	PeakThresholdKW              float64 `yaml:"peak_threshold_kw" validate:"gte=0"`
	MinChargingPowerKW           float64 `yaml:"min_charging_power_kw" validate:"gte=0"`
	MaxChargingPowerPerStationKW float64 `yaml:"max_charging_power_per_station_kw" validate:"gte=0"`
	EnergyCostPerKWh             float64 `yaml:"energy_cost_per_kwh" validate:"gte=0"`
	PeakCostPerKWh               float64 `yaml:"peak_cost_per_kwh" validate:"gte=0"`
	PVSystemEnabled              bool    `yaml:"pv_system_enabled"`
	EnableLoadBalancing          bool    `yaml:"enable_load_balancing"`
	EnablePVExcessCharging       bool    `yaml:"enable_pv_excess_charging"`
}

// SiteConfig holds the electrical service parameters.
type SiteConfig struct {
	MaxServiceCurrentA float64 `yaml:"max_service_current" validate:"gt=0"`
	ServiceVoltageV    float64 `yaml:"service_voltage" validate:"gt=0"`
	ServicePhases      int     `yaml:"service_phases" validate:"oneof=1 3"`
	MaxPhaseImbalance  float64 `yaml:"max_phase_imbalance" validate:"gt=0,lte=1"`
	MinPowerFactor     float64 `yaml:"min_power_factor" validate:"gt=0,lte=1"`
	ServiceFrequencyHz float64 `yaml:"service_frequency" validate:"gt=0"`
	ContinuousFactor   float64 `yaml:"nec625_continuous_factor" validate:"gt=0,lte=1"`
}

// SheddingConfig holds load shedding thresholds.
type SheddingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	UpperThreshold float64 `yaml:"upper_threshold" validate:"gt=0,lte=2"`
	LowerThreshold float64 `yaml:"lower_threshold" validate:"gt=0,ltefield=UpperThreshold"`
}

// Duration is a time.Duration that accepts "30s" style strings in YAML.
// Bare numbers are taken as seconds.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n float64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(time.Duration(n * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// FailSafeConfig holds fail-safe supervision settings.
type FailSafeConfig struct {
	Enabled          bool     `yaml:"enabled"`
	CommTimeout      Duration `yaml:"comm_timeout" validate:"gte=0"`
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout" validate:"gte=0"`
}

// MQTTConfig holds broker settings for MQTT-attached stations and
// meters. Credentials are opaque to the core.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url" validate:"omitempty,uri"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// StationConfig declares a charging station known at startup.
type StationConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Name     string `yaml:"name"`
	Zone     string `yaml:"zone"`
	Class    string `yaml:"class" validate:"oneof=ac_single_phase ac_three_phase dc"`
	Protocol string `yaml:"protocol" validate:"oneof=modbus mqtt ocpp sim"`
	Endpoint string `yaml:"endpoint" validate:"required"`
	Priority int    `yaml:"priority" validate:"gte=0,lte=10"`
	User     string `yaml:"user_class"`
}

// MeterConfig declares a meter known at startup.
type MeterConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Role     string `yaml:"role" validate:"oneof=grid building solar zone"`
	Protocol string `yaml:"protocol" validate:"oneof=modbus mqtt sim"`
	Endpoint string `yaml:"endpoint" validate:"required"`
}

// DiscoveryConfig controls mDNS endpoint discovery.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the full service configuration.
type Config struct {
	Listen    string `yaml:"listen" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`

	StateFile string `yaml:"state_file"`
	AuditFile string `yaml:"audit_file"`

	Grid      GridConfig         `yaml:"grid"`
	Site      SiteConfig         `yaml:"site"`
	Shedding  SheddingConfig     `yaml:"shedding"`
	FailSafe  FailSafeConfig     `yaml:"fail_safe"`
	MQTT      MQTTConfig         `yaml:"mqtt"`
	Discovery DiscoveryConfig    `yaml:"discovery"`
	Zones     map[string]float64 `yaml:"zones"`
	Stations  []StationConfig    `yaml:"stations" validate:"dive"`
	Meters    []MeterConfig      `yaml:"meters" validate:"dive"`
}

// Default returns the configuration used when a key is absent from
// both file and environment.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		StateFile: "dlm-state.json",
		AuditFile: "dlm-audit.cbor",
		Grid: GridConfig{
			MaxCapacityKW:                50,
			PeakThresholdKW:              45,
			MinChargingPowerKW:           1.4,
			MaxChargingPowerPerStationKW: 22,
			EnergyCostPerKWh:             0.30,
			PeakCostPerKWh:               0.45,
			EnableLoadBalancing:          true,
		},
		Site: SiteConfig{
			MaxServiceCurrentA: 100,
			ServiceVoltageV:    230,
			ServicePhases:      3,
			MaxPhaseImbalance:  0.20,
			MinPowerFactor:     0.90,
			ServiceFrequencyHz: 50,
			ContinuousFactor:   0.80,
		},
		Shedding: SheddingConfig{
			Enabled:        true,
			UpperThreshold: 0.95,
			LowerThreshold: 0.85,
		},
		FailSafe: FailSafeConfig{
			Enabled:          true,
			CommTimeout:      Duration(30 * time.Second),
			HeartbeatTimeout: Duration(60 * time.Second),
		},
	}
}

var validate = validator.New()

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. A missing file is not an error;
// the defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for zone, capKW := range c.Zones {
		if capKW < 0 {
			return fmt.Errorf("invalid configuration: zone %q cap must not be negative", zone)
		}
	}
	return nil
}
