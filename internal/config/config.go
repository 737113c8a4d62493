// Package config loads the startup-immutable calibration and tuning
// parameters that the original motor-control source hard-coded as compile
// time constants. Loaded once at process start; cmd/motorctld writes its
// command-line telemetry overrides into the result right after Load, and it
// is not changed after that.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of startup-tunable parameters.
type Config struct {
	Control  ControlConfig  `yaml:"control"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GainSet is one zone's PID coefficients.
type GainSet struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// ControlConfig tunes the RPM Controller.
type ControlConfig struct {
	BaseKick              float64 `yaml:"base_kick"`
	LowSpeed              GainSet `yaml:"low_speed"`
	HighSpeed             GainSet `yaml:"high_speed"`
	LowSpeedThresholdRPM  float64 `yaml:"low_speed_threshold_rpm"`
	ErrorDeadbandRPM      float64 `yaml:"error_deadband_rpm"`
	UpdateRateMs          int     `yaml:"update_rate_ms"`
	IntegralClamp         float64 `yaml:"integral_clamp"`
	SaturationBleedAfterS float64 `yaml:"saturation_bleed_after_s"`
	SaturationBleedFactor float64 `yaml:"saturation_bleed_factor"`
}

// EncoderConfig tunes the Encoder Pipeline calibration.
type EncoderConfig struct {
	PulsesPerRotation int     `yaml:"pulses_per_rotation"`
	DebounceUs        int64   `yaml:"debounce_us"`
	WindowSecs        float64 `yaml:"window_secs"`
	MinWindowSecs     float64 `yaml:"min_window_secs"`
	FilterAlpha       float64 `yaml:"filter_alpha"`
}

// TelemetryConfig selects which external collaborators start. An empty
// MQTTBroker or a MetricsPort of 0 disables that collaborator entirely.
type TelemetryConfig struct {
	MQTTBroker  string `yaml:"mqtt_broker"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Load reads path, applies defaults for any zero-valued field, and
// validates the result. An empty path returns the all-defaults Config.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults fills every field left at its zero value with the constant
// the original source hard-coded, per spec.md §4.D and §4.C. The low_speed
// and high_speed gain sets are defaulted as a whole, only when all three of
// their coefficients are zero.
func setDefaults(c *Config) {
	if c.Control.BaseKick == 0 {
		c.Control.BaseKick = 4
	}
	if c.Control.LowSpeed == (GainSet{}) {
		c.Control.LowSpeed = GainSet{Kp: 0.35, Ki: 0.05, Kd: 0}
	}
	if c.Control.HighSpeed == (GainSet{}) {
		c.Control.HighSpeed = GainSet{Kp: 2.5, Ki: 0.35, Kd: 0.04}
	}
	if c.Control.LowSpeedThresholdRPM == 0 {
		c.Control.LowSpeedThresholdRPM = 20
	}
	if c.Control.ErrorDeadbandRPM == 0 {
		c.Control.ErrorDeadbandRPM = 1.0
	}
	if c.Control.UpdateRateMs == 0 {
		c.Control.UpdateRateMs = 100
	}
	if c.Control.IntegralClamp == 0 {
		c.Control.IntegralClamp = 100
	}
	if c.Control.SaturationBleedAfterS == 0 {
		c.Control.SaturationBleedAfterS = 0.25
	}
	if c.Control.SaturationBleedFactor == 0 {
		c.Control.SaturationBleedFactor = 0.7
	}
	if c.Encoder.PulsesPerRotation == 0 {
		c.Encoder.PulsesPerRotation = 45
	}
	if c.Encoder.DebounceUs == 0 {
		c.Encoder.DebounceUs = 5000
	}
	if c.Encoder.WindowSecs == 0 {
		c.Encoder.WindowSecs = 1.0
	}
	if c.Encoder.MinWindowSecs == 0 {
		c.Encoder.MinWindowSecs = 0.025
	}
	if c.Encoder.FilterAlpha == 0 {
		c.Encoder.FilterAlpha = 0.4
	}
}

// Validate checks every field for logical consistency. Of the telemetry
// fields only metrics_port is range-checked (0-65535): an empty broker or a
// zero metrics port are valid "disabled" states.
func (c *Config) Validate() error {
	if c.Control.BaseKick < 0 {
		return fmt.Errorf("control.base_kick must be >= 0, got %.3f", c.Control.BaseKick)
	}
	for _, g := range []struct {
		name string
		g    GainSet
	}{{"low_speed", c.Control.LowSpeed}, {"high_speed", c.Control.HighSpeed}} {
		if g.g.Kp < 0 || g.g.Ki < 0 || g.g.Kd < 0 {
			return fmt.Errorf("control.%s gains must be non-negative, got %+v", g.name, g.g)
		}
	}
	if c.Control.LowSpeedThresholdRPM <= 0 {
		return fmt.Errorf("control.low_speed_threshold_rpm must be > 0, got %.3f", c.Control.LowSpeedThresholdRPM)
	}
	if c.Control.ErrorDeadbandRPM < 0 {
		return fmt.Errorf("control.error_deadband_rpm must be >= 0, got %.3f", c.Control.ErrorDeadbandRPM)
	}
	if c.Control.UpdateRateMs <= 0 {
		return fmt.Errorf("control.update_rate_ms must be > 0, got %d", c.Control.UpdateRateMs)
	}
	if c.Control.IntegralClamp <= 0 {
		return fmt.Errorf("control.integral_clamp must be > 0, got %.3f", c.Control.IntegralClamp)
	}
	if c.Control.SaturationBleedAfterS <= 0 {
		return fmt.Errorf("control.saturation_bleed_after_s must be > 0, got %.3f", c.Control.SaturationBleedAfterS)
	}
	if c.Control.SaturationBleedFactor <= 0 || c.Control.SaturationBleedFactor >= 1 {
		return fmt.Errorf("control.saturation_bleed_factor must be in (0,1), got %.3f", c.Control.SaturationBleedFactor)
	}

	if c.Encoder.PulsesPerRotation <= 0 {
		return fmt.Errorf("encoder.pulses_per_rotation must be > 0, got %d", c.Encoder.PulsesPerRotation)
	}
	if c.Encoder.DebounceUs < 0 {
		return fmt.Errorf("encoder.debounce_us must be >= 0, got %d", c.Encoder.DebounceUs)
	}
	if c.Encoder.WindowSecs <= 0 {
		return fmt.Errorf("encoder.window_secs must be > 0, got %.3f", c.Encoder.WindowSecs)
	}
	if c.Encoder.MinWindowSecs <= 0 || c.Encoder.MinWindowSecs > c.Encoder.WindowSecs {
		return fmt.Errorf("encoder.min_window_secs must be in (0, window_secs], got %.3f", c.Encoder.MinWindowSecs)
	}
	if c.Encoder.FilterAlpha <= 0 || c.Encoder.FilterAlpha > 1 {
		return fmt.Errorf("encoder.filter_alpha must be in (0,1], got %.3f", c.Encoder.FilterAlpha)
	}

	if c.Telemetry.MetricsPort < 0 || c.Telemetry.MetricsPort > 65535 {
		return fmt.Errorf("telemetry.metrics_port must be 0-65535, got %d", c.Telemetry.MetricsPort)
	}
	return nil
}
