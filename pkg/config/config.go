package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Timing      TimingConfig      `yaml:"timing"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Presence    PresenceConfig    `yaml:"presence"`
	Filter      FilterConfig      `yaml:"filter"`
	Framer      FramerConfig      `yaml:"framer"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Serial      SerialConfig      `yaml:"serial"`
	Mock        MockConfig        `yaml:"mock"`
}

// TimingConfig describes the two LED timers.
// Both timers share the period; IR is delayed by PhaseOffset plus WarmupPeriods.
type TimingConfig struct {
	Period        time.Duration `yaml:"period"`
	Duty          time.Duration `yaml:"duty"`         // LED on-time per period
	PhaseOffset   time.Duration `yaml:"phase_offset"` // IR lags Red by this much
	WarmupPeriods int           `yaml:"warmup_periods"`
	RedPriority   int           `yaml:"red_priority"`
	IRPriority    int           `yaml:"ir_priority"`
}

// SamplingConfig contains the ADC oversampling protocol constants.
type SamplingConfig struct {
	Oversampling   int           `yaml:"oversampling"`
	Settle         time.Duration `yaml:"settle"`
	AmbientSettle  time.Duration `yaml:"ambient_settle"`
	ConversionTime time.Duration `yaml:"conversion_time"`
	MaxPolls       int           `yaml:"max_polls"` // IsDone polls before a conversion is abandoned
}

// PresenceConfig contains finger/probe detection thresholds in ADC counts.
type PresenceConfig struct {
	SleepEnabled   bool   `yaml:"sleep_enabled"`
	ProbeDCMax     uint16 `yaml:"probe_dc_max"`
	ProbeACMin     uint16 `yaml:"probe_ac_min"`
	FingerAbsentDC uint16 `yaml:"finger_absent_dc"`
	HighDelta      int    `yaml:"high_delta"`
	LowDelta       int    `yaml:"low_delta"`
	StableCount    int    `yaml:"stable_count"`
}

// FilterConfig describes the band-pass FIR. Explicit coefficients win over
// the designed ones.
type FilterConfig struct {
	Taps            int       `yaml:"taps"`
	LowCutHz        float64   `yaml:"low_cut_hz"`
	HighCutHz       float64   `yaml:"high_cut_hz"`
	IRCoefficients  []float32 `yaml:"ir_coefficients,omitempty"`
	RedCoefficients []float32 `yaml:"red_coefficients,omitempty"`
}

// FramerConfig contains cycle framer parameters.
type FramerConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Hysteresis float32       `yaml:"hysteresis"`
}

// CalibrationConfig contains the ratio to saturation mapping and pulse rate limits.
type CalibrationConfig struct {
	Method         string             `yaml:"method"` // "table" or "extinction"
	Points         []CalibrationPoint `yaml:"points"`
	NIRWavelength  int                `yaml:"nir_wavelength"` // 940 or 810, extinction method only
	PulseSmoothing int                `yaml:"pulse_smoothing"`
	MinPulseRate   int                `yaml:"min_pulse_rate"`
	MaxPulseRate   int                `yaml:"max_pulse_rate"`
}

// CalibrationPoint represents a single calibration point.
type CalibrationPoint struct {
	Ratio float32 `yaml:"ratio"`
	SpO2  float32 `yaml:"spo2"`
}

// SerialConfig contains serial port configuration for the result sink.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MockConfig contains simulated probe configuration.
type MockConfig struct {
	HeartRate          float64 `yaml:"heart_rate"` // bpm
	Ratio              float64 `yaml:"ratio"`      // ratio of ratios produced by the scene
	IRDC               uint16  `yaml:"ir_dc"`
	RedDC              uint16  `yaml:"red_dc"`
	Perfusion          float64 `yaml:"perfusion"` // IR modulation depth
	ACGain             float64 `yaml:"ac_gain"`
	Ambient            uint16  `yaml:"ambient"`
	NoiseLevel         float64 `yaml:"noise_level"` // ADC counts
	Seed               int64   `yaml:"seed"`
	PollsPerConversion int     `yaml:"polls_per_conversion"`
}

// Method names accepted by CalibrationConfig.Method.
const (
	MethodTable      = "table"
	MethodExtinction = "extinction"
)

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Timing: TimingConfig{
			Period:        4 * time.Millisecond,
			Duty:          time.Millisecond,
			PhaseOffset:   2 * time.Millisecond,
			WarmupPeriods: 4,
			RedPriority:   3,
			IRPriority:    2,
		},
		Sampling: SamplingConfig{
			Oversampling:   8,
			Settle:         250 * time.Microsecond,
			AmbientSettle:  700 * time.Microsecond,
			ConversionTime: 10 * time.Microsecond,
			MaxPolls:       1000,
		},
		Presence: PresenceConfig{
			SleepEnabled:   true,
			ProbeDCMax:     74,
			ProbeACMin:     4000,
			FingerAbsentDC: 3500,
			HighDelta:      100,
			LowDelta:       -100,
			StableCount:    8,
		},
		Filter: FilterConfig{
			Taps:      251,
			LowCutHz:  0.5,
			HighCutHz: 5,
		},
		Framer: FramerConfig{
			Timeout:    6 * time.Second,
			Hysteresis: 2,
		},
		Calibration: CalibrationConfig{
			Method:         MethodTable,
			Points:         DefaultCalibrationPoints(),
			NIRWavelength:  940,
			PulseSmoothing: 4,
			MinPulseRate:   10,
			MaxPulseRate:   250,
		},
		Serial: SerialConfig{
			Port:     "", // stdout only unless set, e.g. "/dev/ttyACM0" or "COM3"
			BaudRate: 115200,
		},
		Mock: MockConfig{
			HeartRate:          72,
			Ratio:              0.6,
			IRDC:               1800,
			RedDC:              1500,
			Perfusion:          0.02,
			ACGain:             20,
			Ambient:            60,
			NoiseLevel:         0,
			Seed:               1,
			PollsPerConversion: 1,
		},
	}
}

// DefaultCalibrationPoints returns the reference ratio to saturation curve
// (-45.060R² + 30.354R + 94.845) sampled every 0.1 and rounded.
func DefaultCalibrationPoints() []CalibrationPoint {
	return []CalibrationPoint{
		{Ratio: 0.4, SpO2: 100},
		{Ratio: 0.5, SpO2: 99},
		{Ratio: 0.6, SpO2: 97},
		{Ratio: 0.7, SpO2: 94},
		{Ratio: 0.8, SpO2: 90},
		{Ratio: 0.9, SpO2: 86},
		{Ratio: 1.0, SpO2: 80},
		{Ratio: 1.1, SpO2: 74},
		{Ratio: 1.2, SpO2: 66},
		{Ratio: 1.3, SpO2: 58},
		{Ratio: 1.4, SpO2: 49},
		{Ratio: 1.5, SpO2: 39},
		{Ratio: 1.6, SpO2: 28},
		{Ratio: 1.7, SpO2: 16},
		{Ratio: 1.8, SpO2: 4},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SampleRate returns the per-channel sample rate in Hz.
func (c *TimingConfig) SampleRate() float64 {
	return float64(time.Second) / float64(c.Period)
}

// Window is the time spent sampling while the LED is lit.
func (c *SamplingConfig) Window() time.Duration {
	return c.Settle + time.Duration(2*c.Oversampling)*c.ConversionTime
}

// WorstCase is the analytic upper bound of one sampling handler, including
// the ambient single shot taken on the primary channel.
func (c *SamplingConfig) WorstCase() time.Duration {
	return c.Window() + c.AmbientSettle + c.ConversionTime
}

// FrameTimeout converts the framer timeout into samples.
func (c *Config) FrameTimeout() int {
	if c.Timing.Period <= 0 {
		return 0
	}
	return int(c.Framer.Timeout / c.Timing.Period)
}

// Validate checks the timing budget and the calibration data.
func (c *Config) Validate() error {
	t := &c.Timing
	s := &c.Sampling

	if t.Period <= 0 || t.Duty <= 0 {
		return fmt.Errorf("%w: period and duty must be positive", ErrInvalid)
	}
	if t.Duty > t.PhaseOffset {
		return fmt.Errorf("%w: duty %v exceeds phase offset %v", ErrInvalid, t.Duty, t.PhaseOffset)
	}
	if t.PhaseOffset+t.Duty > t.Period {
		return fmt.Errorf("%w: phase offset %v plus duty %v exceeds period %v", ErrInvalid, t.PhaseOffset, t.Duty, t.Period)
	}
	if t.WarmupPeriods < 0 {
		return fmt.Errorf("%w: negative warmup periods", ErrInvalid)
	}
	if t.RedPriority <= 0 || t.IRPriority <= 0 || t.RedPriority == t.IRPriority {
		return fmt.Errorf("%w: interrupt priorities must be positive and distinct", ErrInvalid)
	}

	if s.Oversampling <= 0 {
		return fmt.Errorf("%w: oversampling must be positive", ErrInvalid)
	}
	if s.MaxPolls <= 0 {
		return fmt.Errorf("%w: max polls must be positive", ErrInvalid)
	}
	if w := s.Window(); w > t.Duty {
		return fmt.Errorf("%w: sampling window %v does not fit in duty %v", ErrInvalid, w, t.Duty)
	}
	if s.Window()+s.AmbientSettle < t.Duty {
		return fmt.Errorf("%w: ambient sample at %v is taken before the LED switches off at %v", ErrInvalid, s.Window()+s.AmbientSettle, t.Duty)
	}
	wc := s.WorstCase()
	if wc >= t.PhaseOffset || wc >= t.Period-t.PhaseOffset {
		return fmt.Errorf("%w: worst case handler time %v overruns the %v/%v sampling slots", ErrInvalid, wc, t.PhaseOffset, t.Period-t.PhaseOffset)
	}

	p := &c.Presence
	if p.LowDelta > 0 || p.HighDelta < 0 {
		return fmt.Errorf("%w: baseline deltas must satisfy low <= 0 <= high", ErrInvalid)
	}
	if p.StableCount <= 0 {
		return fmt.Errorf("%w: stable count must be positive", ErrInvalid)
	}

	f := &c.Filter
	nyquist := t.SampleRate() / 2
	if len(f.IRCoefficients) == 0 || len(f.RedCoefficients) == 0 {
		if f.Taps <= 0 || f.Taps%2 == 0 {
			return fmt.Errorf("%w: filter taps must be positive and odd, got %d", ErrInvalid, f.Taps)
		}
		if f.LowCutHz <= 0 || f.LowCutHz >= f.HighCutHz || f.HighCutHz >= nyquist {
			return fmt.Errorf("%w: filter band %.2f-%.2f Hz outside 0-%.1f Hz", ErrInvalid, f.LowCutHz, f.HighCutHz, nyquist)
		}
	}

	if c.Framer.Timeout < t.Period || c.Framer.Hysteresis < 0 {
		return fmt.Errorf("%w: framer timeout must cover at least one period", ErrInvalid)
	}

	cal := &c.Calibration
	switch cal.Method {
	case MethodTable:
		if len(cal.Points) < 2 {
			return fmt.Errorf("%w: calibration table needs at least two points", ErrInvalid)
		}
	case MethodExtinction:
		if cal.NIRWavelength != 940 && cal.NIRWavelength != 810 {
			return fmt.Errorf("%w: unsupported NIR wavelength %d", ErrInvalid, cal.NIRWavelength)
		}
	default:
		return fmt.Errorf("%w: unknown calibration method %q", ErrInvalid, cal.Method)
	}
	if cal.MinPulseRate <= 0 || cal.MinPulseRate >= cal.MaxPulseRate {
		return fmt.Errorf("%w: pulse rate limits %d-%d", ErrInvalid, cal.MinPulseRate, cal.MaxPulseRate)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Timing.Period == 0 {
		c.Timing.Period = def.Timing.Period
	}
	if c.Timing.Duty == 0 {
		c.Timing.Duty = def.Timing.Duty
	}
	if c.Timing.PhaseOffset == 0 {
		c.Timing.PhaseOffset = def.Timing.PhaseOffset
	}
	if c.Timing.RedPriority == 0 {
		c.Timing.RedPriority = def.Timing.RedPriority
	}
	if c.Timing.IRPriority == 0 {
		c.Timing.IRPriority = def.Timing.IRPriority
	}

	if c.Sampling.Oversampling == 0 {
		c.Sampling.Oversampling = def.Sampling.Oversampling
	}
	if c.Sampling.ConversionTime == 0 {
		c.Sampling.ConversionTime = def.Sampling.ConversionTime
	}
	if c.Sampling.MaxPolls == 0 {
		c.Sampling.MaxPolls = def.Sampling.MaxPolls
	}

	if c.Presence.StableCount == 0 {
		c.Presence.StableCount = def.Presence.StableCount
	}

	if c.Filter.Taps == 0 {
		c.Filter.Taps = def.Filter.Taps
	}
	if c.Filter.LowCutHz == 0 {
		c.Filter.LowCutHz = def.Filter.LowCutHz
	}
	if c.Filter.HighCutHz == 0 {
		c.Filter.HighCutHz = def.Filter.HighCutHz
	}

	if c.Framer.Timeout == 0 {
		c.Framer.Timeout = def.Framer.Timeout
	}

	if c.Calibration.Method == "" {
		c.Calibration.Method = def.Calibration.Method
	}
	if len(c.Calibration.Points) == 0 {
		c.Calibration.Points = def.Calibration.Points
	}
	if c.Calibration.NIRWavelength == 0 {
		c.Calibration.NIRWavelength = def.Calibration.NIRWavelength
	}
	if c.Calibration.PulseSmoothing == 0 {
		c.Calibration.PulseSmoothing = def.Calibration.PulseSmoothing
	}
	if c.Calibration.MinPulseRate == 0 {
		c.Calibration.MinPulseRate = def.Calibration.MinPulseRate
	}
	if c.Calibration.MaxPulseRate == 0 {
		c.Calibration.MaxPulseRate = def.Calibration.MaxPulseRate
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Mock.HeartRate == 0 {
		c.Mock.HeartRate = def.Mock.HeartRate
	}
	if c.Mock.PollsPerConversion == 0 {
		c.Mock.PollsPerConversion = def.Mock.PollsPerConversion
	}
}
