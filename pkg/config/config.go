package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the logger configuration shared by the simulator, the
// control console and the viewer.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Storage     StorageConfig     `yaml:"storage"`
	Frontend    FrontendConfig    `yaml:"frontend"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Mock        MockConfig        `yaml:"mock"`
	EEPROM      string            `yaml:"eeprom"` // Contents of the simulated EEPROM
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// AcquisitionConfig contains sampling parameters.
type AcquisitionConfig struct {
	SamplesPerFrame   int           `yaml:"samples_per_frame"`  // Samples per capture buffer and per link frame
	SamplePeriod      time.Duration `yaml:"sample_period"`      // Time between two samples
	CalibrationFrames int           `yaml:"calibration_frames"` // Capture buffers spent calibrating
	Gain              uint16        `yaml:"gain"`               // Current amplifier gain index
	Settle            time.Duration `yaml:"settle"`             // Settle delay before capture starts
}

// BufferConfig contains the sample ring buffer configuration.
type BufferConfig struct {
	Capacity int    `yaml:"capacity"` // Ring capacity in bytes
	File     string `yaml:"file"`     // Optional backing file, memory when empty
}

// StorageConfig contains the storage card configuration.
type StorageConfig struct {
	Image      string `yaml:"image"`       // Optional card image, memory when empty
	Blocks     int    `yaml:"blocks"`      // Card size in 512-byte blocks
	WriteChunk int    `yaml:"write_chunk"` // Bytes transferred per write step
}

// FrontendConfig describes the analog front end used to convert raw samples.
type FrontendConfig struct {
	VRef           float64   `yaml:"vref"`            // ADC reference (V)
	Bits           int       `yaml:"bits"`            // ADC resolution
	VoltageDivider float64   `yaml:"voltage_divider"` // Input voltage divider ratio
	ShuntOhms      float64   `yaml:"shunt_ohms"`      // Current shunt resistance
	Gains          []float64 `yaml:"gains"`           // Current amplifier gain per index
}

// MeasurementConfig contains host-side measurement parameters.
type MeasurementConfig struct {
	WindowSeconds  float64 `yaml:"window_seconds"`
	AverageSamples int     `yaml:"average_samples"` // Number of samples to average (0 = disabled, default)
}

// MockConfig contains the simulated front end waveform.
type MockConfig struct {
	Voltage    float64       `yaml:"voltage"`     // Supply voltage (V)
	Current    float64       `yaml:"current"`     // Mean load current (A)
	Ripple     float64       `yaml:"ripple"`      // Relative load current ripple
	NoiseLevel float64       `yaml:"noise_level"` // Noise level (relative)
	Period     time.Duration `yaml:"period"`      // Load ripple period
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 2000000,
		},
		Acquisition: AcquisitionConfig{
			SamplesPerFrame:   64,
			SamplePeriod:      time.Millisecond,
			CalibrationFrames: 10,
			Gain:              3,
			Settle:            10 * time.Millisecond,
		},
		Buffer: BufferConfig{
			Capacity: 65536,
		},
		Storage: StorageConfig{
			Blocks:     65536,
			WriteChunk: 128,
		},
		Frontend: FrontendConfig{
			VRef:           1.0,
			Bits:           12,
			VoltageDivider: 20,
			ShuntOhms:      0.1,
			Gains:          []float64{1, 2, 4, 8, 16, 32, 64},
		},
		Measurement: MeasurementConfig{
			WindowSeconds:  10,
			AverageSamples: 0, // No averaging by default
		},
		Mock: MockConfig{
			Voltage:    3.7,
			Current:    0.05,
			Ripple:     0.2,
			NoiseLevel: 0.01,
			Period:     500 * time.Millisecond,
		},
		EEPROM: "pwrlog cal v1",
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
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

// FrameBytes returns the payload size of one capture buffer in bytes.
func (c *Config) FrameBytes() int {
	return c.Acquisition.SamplesPerFrame * 4
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Acquisition.SamplesPerFrame <= 0 {
		c.Acquisition.SamplesPerFrame = def.Acquisition.SamplesPerFrame
	}
	if c.Acquisition.SamplePeriod == 0 {
		c.Acquisition.SamplePeriod = def.Acquisition.SamplePeriod
	}
	if c.Acquisition.CalibrationFrames == 0 {
		c.Acquisition.CalibrationFrames = def.Acquisition.CalibrationFrames
	}
	if c.Acquisition.Settle == 0 {
		c.Acquisition.Settle = def.Acquisition.Settle
	}

	if c.Buffer.Capacity <= 0 {
		c.Buffer.Capacity = def.Buffer.Capacity
	}

	if c.Storage.Blocks <= 0 {
		c.Storage.Blocks = def.Storage.Blocks
	}
	if c.Storage.WriteChunk <= 0 {
		c.Storage.WriteChunk = def.Storage.WriteChunk
	}

	if c.Frontend.VRef == 0 {
		c.Frontend.VRef = def.Frontend.VRef
	}
	if c.Frontend.Bits == 0 {
		c.Frontend.Bits = def.Frontend.Bits
	}
	if c.Frontend.VoltageDivider == 0 {
		c.Frontend.VoltageDivider = def.Frontend.VoltageDivider
	}
	if c.Frontend.ShuntOhms == 0 {
		c.Frontend.ShuntOhms = def.Frontend.ShuntOhms
	}
	if len(c.Frontend.Gains) == 0 {
		c.Frontend.Gains = def.Frontend.Gains
	}

	if c.Measurement.WindowSeconds == 0 {
		c.Measurement.WindowSeconds = def.Measurement.WindowSeconds
	}

	if c.Mock.Period == 0 {
		c.Mock.Period = def.Mock.Period
	}
}
