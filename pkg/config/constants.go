package config

import "time"

// Constants is the immutable set of values the torque pipeline runs on.
// It is a plain value: copies handed to the pipeline cannot be changed by
// later edits to the Config it came from.
type Constants struct {
	TorqueConstant  float32 // N·m/A
	GearRatio       float32
	GearEfficiency  float32
	ShuntResistance float32 // Ω
	AmpGain         float32 // V/V
	VRef            float32 // V
	ADCMax          float32 // full-scale count
	FrequencyHz     float32
}

// Constants extracts the pipeline constants from the configuration.
func (c *Config) Constants() Constants {
	return Constants{
		TorqueConstant:  float32(c.Motor.TorqueConstant),
		GearRatio:       float32(c.Motor.GearRatio),
		GearEfficiency:  float32(c.Motor.GearEfficiency),
		ShuntResistance: float32(c.Sensing.ShuntResistance),
		AmpGain:         float32(c.Sensing.AmpGain),
		VRef:            float32(c.Sensing.VRef),
		ADCMax:          float32(c.Sensing.ADCMax),
		FrequencyHz:     float32(c.Control.FrequencyHz),
	}
}

// Period returns the duration of one control cycle.
func (k Constants) Period() time.Duration {
	if k.FrequencyHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(k.FrequencyHz))
}

// MaxCount returns ADCMax as an integer count.
func (k Constants) MaxCount() uint16 {
	return uint16(k.ADCMax)
}
