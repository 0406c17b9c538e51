package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Motor       MotorConfig       `yaml:"motor"`
	Sensing     SensingConfig     `yaml:"sensing"`
	Control     ControlConfig     `yaml:"control"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Serial      SerialConfig      `yaml:"serial"`
	Angle       AngleConfig       `yaml:"angle"`
	Output      OutputConfig      `yaml:"output"`
	Mock        MockConfig        `yaml:"mock"`
}

// MotorConfig contains motor and gear train parameters.
type MotorConfig struct {
	TorqueConstant float64 `yaml:"torque_constant"` // N·m per amp
	GearRatio      float64 `yaml:"gear_ratio"`      // output / motor
	GearEfficiency float64 `yaml:"gear_efficiency"` // constant efficiency (0..1]
}

// SensingConfig contains the current sensing chain parameters.
type SensingConfig struct {
	ShuntResistance float64 `yaml:"shunt_resistance"` // Ω
	AmpGain         float64 `yaml:"amp_gain"`         // V/V
	VRef            float64 `yaml:"vref"`             // ADC reference (V)
	ADCMax          float64 `yaml:"adc_max"`          // full-scale count
}

// ControlConfig contains periodic cycle parameters.
type ControlConfig struct {
	FrequencyHz    float64       `yaml:"frequency_hz"`
	OverrunLimit   int           `yaml:"overrun_limit"` // consecutive overruns before Run gives up (0 = never)
	ReportInterval time.Duration `yaml:"report_interval"`
}

// CalibrationConfig contains offset calibration parameters.
type CalibrationConfig struct {
	Samples      int           `yaml:"samples"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MinOffset    float64       `yaml:"min_offset"` // counts
	MaxOffset    float64       `yaml:"max_offset"` // counts
}

// SerialConfig contains the phase current front-end serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// AngleConfig selects and parameterizes the electrical angle source.
type AngleConfig struct {
	Source        string  `yaml:"source"` // ramp, fixed or encoder
	Step          float64 `yaml:"step"`   // rad per call for ramp
	Value         float64 `yaml:"value"`  // rad for fixed
	PolePairs     int     `yaml:"pole_pairs"`
	CountsPerRev  int     `yaml:"counts_per_rev"`
	ZeroOffsetRad float64 `yaml:"zero_offset_rad"`
}

// OutputConfig selects the torque sink.
type OutputConfig struct {
	Sink     string `yaml:"sink"` // serial, mqtt, stdout or none
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// MockConfig contains mock phase sensor configuration.
type MockConfig struct {
	BiasA      float64 `yaml:"bias_a"`      // zero-current count, channel A
	BiasB      float64 `yaml:"bias_b"`      // zero-current count, channel B
	NoiseLevel float64 `yaml:"noise_level"` // peak noise (counts)
	Iq         float64 `yaml:"iq"`          // simulated q-axis current (A)
	Id         float64 `yaml:"id"`          // simulated d-axis current (A)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Motor: MotorConfig{
			TorqueConstant: 0.231, // 231 mNm/A
			GearRatio:      50,
			GearEfficiency: 0.92, // planetary
		},
		Sensing: SensingConfig{
			ShuntResistance: 0.001, // 1 mΩ
			AmpGain:         20,    // INA240A1
			VRef:            3.3,
			ADCMax:          4095, // 12-bit
		},
		Control: ControlConfig{
			FrequencyHz:    10000,
			OverrunLimit:   0,
			ReportInterval: time.Second,
		},
		Calibration: CalibrationConfig{
			Samples:      1024,
			Timeout:      2 * time.Second,
			PollInterval: 50 * time.Microsecond,
			MinOffset:    100,
			MaxOffset:    3995,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 921600,
		},
		Angle: AngleConfig{
			Source:       "ramp",
			Step:         0.001,
			PolePairs:    7,
			CountsPerRev: 4096,
		},
		Output: OutputConfig{
			Sink:     "stdout",
			Port:     "/dev/ttyUSB0",
			BaudRate: 921600,
			Broker:   "tcp://localhost:1883",
			Topic:    "actuator/joint/torque",
			ClientID: "gotorque",
		},
		Mock: MockConfig{
			BiasA:      2048,
			BiasB:      2048,
			NoiseLevel: 2,
			Iq:         1.0,
			Id:         0.0,
		},
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

// Validate checks the values the torque pipeline divides or scales by.
func (c *Config) Validate() error {
	var errs []error

	if c.Motor.TorqueConstant <= 0 {
		errs = append(errs, fmt.Errorf("motor.torque_constant must be positive, got %g", c.Motor.TorqueConstant))
	}
	if c.Motor.GearRatio <= 0 {
		errs = append(errs, fmt.Errorf("motor.gear_ratio must be positive, got %g", c.Motor.GearRatio))
	}
	if c.Motor.GearEfficiency <= 0 || c.Motor.GearEfficiency > 1 {
		errs = append(errs, fmt.Errorf("motor.gear_efficiency must be in (0, 1], got %g", c.Motor.GearEfficiency))
	}
	if c.Sensing.ShuntResistance <= 0 {
		errs = append(errs, fmt.Errorf("sensing.shunt_resistance must be positive, got %g", c.Sensing.ShuntResistance))
	}
	if c.Sensing.AmpGain <= 0 {
		errs = append(errs, fmt.Errorf("sensing.amp_gain must be positive, got %g", c.Sensing.AmpGain))
	}
	if c.Sensing.VRef <= 0 {
		errs = append(errs, fmt.Errorf("sensing.vref must be positive, got %g", c.Sensing.VRef))
	}
	if c.Sensing.ADCMax <= 0 || c.Sensing.ADCMax > 65535 {
		errs = append(errs, fmt.Errorf("sensing.adc_max must be in (0, 65535], got %g", c.Sensing.ADCMax))
	}
	if c.Control.FrequencyHz <= 0 {
		errs = append(errs, fmt.Errorf("control.frequency_hz must be positive, got %g", c.Control.FrequencyHz))
	}
	if c.Control.OverrunLimit < 0 {
		errs = append(errs, fmt.Errorf("control.overrun_limit must not be negative, got %d", c.Control.OverrunLimit))
	}
	if c.Calibration.Samples <= 0 {
		errs = append(errs, fmt.Errorf("calibration.samples must be positive, got %d", c.Calibration.Samples))
	}
	if c.Calibration.MinOffset > c.Calibration.MaxOffset {
		errs = append(errs, fmt.Errorf("calibration.min_offset %g exceeds max_offset %g", c.Calibration.MinOffset, c.Calibration.MaxOffset))
	}

	return errors.Join(errs...)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Motor.TorqueConstant == 0 {
		c.Motor.TorqueConstant = def.Motor.TorqueConstant
	}
	if c.Motor.GearRatio == 0 {
		c.Motor.GearRatio = def.Motor.GearRatio
	}
	if c.Motor.GearEfficiency == 0 {
		c.Motor.GearEfficiency = def.Motor.GearEfficiency
	}

	if c.Sensing.ShuntResistance == 0 {
		c.Sensing.ShuntResistance = def.Sensing.ShuntResistance
	}
	if c.Sensing.AmpGain == 0 {
		c.Sensing.AmpGain = def.Sensing.AmpGain
	}
	if c.Sensing.VRef == 0 {
		c.Sensing.VRef = def.Sensing.VRef
	}
	if c.Sensing.ADCMax == 0 {
		c.Sensing.ADCMax = def.Sensing.ADCMax
	}

	if c.Control.FrequencyHz == 0 {
		c.Control.FrequencyHz = def.Control.FrequencyHz
	}
	if c.Control.ReportInterval == 0 {
		c.Control.ReportInterval = def.Control.ReportInterval
	}

	if c.Calibration.Samples == 0 {
		c.Calibration.Samples = def.Calibration.Samples
	}
	if c.Calibration.Timeout == 0 {
		c.Calibration.Timeout = def.Calibration.Timeout
	}
	if c.Calibration.PollInterval == 0 {
		c.Calibration.PollInterval = def.Calibration.PollInterval
	}
	if c.Calibration.MinOffset == 0 && c.Calibration.MaxOffset == 0 {
		c.Calibration.MinOffset = def.Calibration.MinOffset
		c.Calibration.MaxOffset = def.Calibration.MaxOffset
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Angle.Source == "" {
		c.Angle.Source = def.Angle.Source
	}
	if c.Angle.Step == 0 {
		c.Angle.Step = def.Angle.Step
	}
	if c.Angle.PolePairs == 0 {
		c.Angle.PolePairs = def.Angle.PolePairs
	}
	if c.Angle.CountsPerRev == 0 {
		c.Angle.CountsPerRev = def.Angle.CountsPerRev
	}

	if c.Output.Sink == "" {
		c.Output.Sink = def.Output.Sink
	}
	if c.Output.Port == "" {
		c.Output.Port = def.Output.Port
	}
	if c.Output.BaudRate == 0 {
		c.Output.BaudRate = def.Output.BaudRate
	}
	if c.Output.Broker == "" {
		c.Output.Broker = def.Output.Broker
	}
	if c.Output.Topic == "" {
		c.Output.Topic = def.Output.Topic
	}
	if c.Output.ClientID == "" {
		c.Output.ClientID = def.Output.ClientID
	}

	if c.Mock.BiasA == 0 {
		c.Mock.BiasA = def.Mock.BiasA
	}
	if c.Mock.BiasB == 0 {
		c.Mock.BiasB = def.Mock.BiasB
	}
}
