package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, 4*time.Millisecond, cfg.Timing.Period)
	assert.Equal(t, time.Millisecond, cfg.Timing.Duty)
	assert.Equal(t, 2*time.Millisecond, cfg.Timing.PhaseOffset)
	assert.NotEqual(t, cfg.Timing.RedPriority, cfg.Timing.IRPriority)
	assert.Equal(t, 8, cfg.Sampling.Oversampling)
	assert.True(t, cfg.Presence.SleepEnabled)
	assert.Equal(t, uint16(74), cfg.Presence.ProbeDCMax)
	assert.Equal(t, uint16(4000), cfg.Presence.ProbeACMin)
	assert.Equal(t, MethodTable, cfg.Calibration.Method)
	assert.Len(t, cfg.Calibration.Points, 15)
	assert.Equal(t, float64(250), cfg.Timing.SampleRate())
	assert.Equal(t, 1500, cfg.FrameTimeout())

	require.NoError(t, cfg.Validate())
}

func TestDefaultCalibrationPoints_RatioOne(t *testing.T) {
	for _, p := range DefaultCalibrationPoints() {
		if p.Ratio == 1.0 {
			assert.Equal(t, float32(80), p.SpO2)
			return
		}
	}
	t.Fatal("default table has no breakpoint at ratio 1.0")
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
timing:
  period: 5ms
  duty: 1500us
  phase_offset: 2500us
sampling:
  oversampling: 4
presence:
  sleep_enabled: false
  finger_absent_dc: 3000
serial:
  port: "/dev/ttyACM0"
calibration:
  method: table
  points:
    - ratio: 0.5
      spo2: 100
    - ratio: 1.0
      spo2: 85
    - ratio: 2.0
      spo2: 50
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 5*time.Millisecond, cfg.Timing.Period)
	assert.Equal(t, 1500*time.Microsecond, cfg.Timing.Duty)
	assert.Equal(t, 2500*time.Microsecond, cfg.Timing.PhaseOffset)
	assert.Equal(t, 4, cfg.Sampling.Oversampling)
	assert.False(t, cfg.Presence.SleepEnabled)
	assert.Equal(t, uint16(3000), cfg.Presence.FingerAbsentDC)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	require.Len(t, cfg.Calibration.Points, 3)
	assert.Equal(t, CalibrationPoint{Ratio: 1.0, SpO2: 85}, cfg.Calibration.Points[1])
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
sampling:
  oversampling: 0
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	def := Default()
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, def.Sampling.Oversampling, cfg.Sampling.Oversampling) // zero refilled
	assert.Equal(t, def.Timing, cfg.Timing)
	assert.True(t, cfg.Presence.SleepEnabled)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Sampling.Oversampling = 16
	cfg.Presence.SleepEnabled = false

	filename := filepath.Join(t.TempDir(), "pulseox.yaml")

	err := cfg.Save(filename)
	require.NoError(t, err)

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 16, loaded.Sampling.Oversampling)
	assert.False(t, loaded.Presence.SleepEnabled)
	assert.Equal(t, cfg.Timing, loaded.Timing)
	assert.Equal(t, cfg.Calibration.Points, loaded.Calibration.Points)
}

func TestSamplingBudget(t *testing.T) {
	s := Default().Sampling
	assert.Equal(t, 410*time.Microsecond, s.Window())
	assert.Equal(t, 1120*time.Microsecond, s.WorstCase())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"duty exceeds phase offset", func(c *Config) { c.Timing.Duty = 3 * time.Millisecond }},
		{"phase offset plus duty exceeds period", func(c *Config) { c.Timing.PhaseOffset = 3500 * time.Microsecond }},
		{"equal priorities", func(c *Config) { c.Timing.IRPriority = c.Timing.RedPriority }},
		{"zero oversampling", func(c *Config) { c.Sampling.Oversampling = 0 }},
		{"window longer than duty", func(c *Config) { c.Sampling.Oversampling = 64 }},
		{"ambient sampled while lit", func(c *Config) { c.Sampling.AmbientSettle = 100 * time.Microsecond }},
		{"worst case overruns slot", func(c *Config) { c.Sampling.AmbientSettle = 1700 * time.Microsecond }},
		{"positive low delta", func(c *Config) { c.Presence.LowDelta = 5 }},
		{"negative high delta", func(c *Config) { c.Presence.HighDelta = -5 }},
		{"even taps", func(c *Config) { c.Filter.Taps = 250 }},
		{"band above nyquist", func(c *Config) { c.Filter.HighCutHz = 200 }},
		{"inverted band", func(c *Config) { c.Filter.LowCutHz = 6 }},
		{"single point table", func(c *Config) { c.Calibration.Points = c.Calibration.Points[:1] }},
		{"unknown method", func(c *Config) { c.Calibration.Method = "log" }},
		{"bad wavelength", func(c *Config) {
			c.Calibration.Method = MethodExtinction
			c.Calibration.NIRWavelength = 880
		}},
		{"inverted pulse limits", func(c *Config) { c.Calibration.MinPulseRate = 300 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidate_ExplicitCoefficientsSkipDesign(t *testing.T) {
	cfg := Default()
	cfg.Filter.Taps = 0
	cfg.Filter.IRCoefficients = []float32{0.5, -0.5}
	cfg.Filter.RedCoefficients = []float32{0.5, -0.5}
	assert.NoError(t, cfg.Validate())
}
