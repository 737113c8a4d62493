package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathAppliesAllDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Control.BaseKick)
	assert.Equal(t, GainSet{Kp: 0.35, Ki: 0.05, Kd: 0}, cfg.Control.LowSpeed)
	assert.Equal(t, GainSet{Kp: 2.5, Ki: 0.35, Kd: 0.04}, cfg.Control.HighSpeed)
	assert.Equal(t, 45, cfg.Encoder.PulsesPerRotation)
	assert.Equal(t, "", cfg.Telemetry.MQTTBroker)
	assert.Equal(t, 0, cfg.Telemetry.MetricsPort)
}

func TestLoadFromYAMLOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("control:\n  base_kick: 7\ntelemetry:\n  metrics_port: 9100\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7.0, cfg.Control.BaseKick)
	assert.Equal(t, 9100, cfg.Telemetry.MetricsPort)
	// Untouched fields still get their default.
	assert.Equal(t, 100, cfg.Control.UpdateRateMs)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsNegativeBaseKick(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Control.BaseKick = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsFilterAlphaOutOfRange(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Encoder.FilterAlpha = 1.5
	assert.Error(t, cfg.Validate())

	cfg.Encoder.FilterAlpha = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMinWindowGreaterThanWindow(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Encoder.MinWindowSecs = cfg.Encoder.WindowSecs + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeMetricsPort(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Telemetry.MetricsPort = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBleedFactorOutOfRange(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Control.SaturationBleedFactor = 1
	assert.Error(t, cfg.Validate())

	cfg.Control.SaturationBleedFactor = 0
	assert.Error(t, cfg.Validate())
}
