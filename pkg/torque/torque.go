package torque

import "github.com/itohio/gotorque/pkg/config"

// Estimator scales q-axis current into joint torque.
//
// The gear train is modelled with a single constant efficiency; there is no
// load or speed dependent efficiency curve.
type Estimator struct {
	kt         float32
	gearRatio  float32
	efficiency float32
}

// New creates an Estimator from the pipeline constants.
func New(k config.Constants) Estimator {
	return Estimator{
		kt:         k.TorqueConstant,
		gearRatio:  k.GearRatio,
		efficiency: k.GearEfficiency,
	}
}

// Motor returns motor shaft torque (N·m) for the given q-axis current (A).
func (e Estimator) Motor(iq float32) float32 {
	return e.kt * iq
}

// Estimate returns joint torque (N·m) for the given q-axis current (A).
func (e Estimator) Estimate(iq float32) float32 {
	return e.Motor(iq) * e.gearRatio * e.efficiency
}

// Slope returns the joint torque per amp of q-axis current.
func (e Estimator) Slope() float32 {
	return e.kt * e.gearRatio * e.efficiency
}
