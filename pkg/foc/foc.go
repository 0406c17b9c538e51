// Package foc holds the field-oriented current math of the torque pipeline:
// raw count to phase current conversion and the Clarke and Park transforms.
// Everything here is a pure float32 function safe to call once per control
// period.
package foc

import (
	"github.com/chewxy/math32"
	"github.com/itohio/gotorque/pkg/config"
)

const (
	invSqrt3  = 0.57735026918962576451 // 1/√3
	halfSqrt3 = 0.86602540378443864676 // √3/2
)

// ToCurrent converts a raw ADC count to phase current in amps.
// The offset is in counts and is subtracted before scaling; the difference
// keeps its sign (reversed current) and the result is never clamped.
func ToCurrent(raw uint16, offset float32, k config.Constants) float32 {
	vADC := (float32(raw) - offset) / k.ADCMax * k.VRef
	vShunt := vADC / k.AmpGain
	return vShunt / k.ShuntResistance
}

// Clarke maps two measured phase currents into the stationary alpha/beta frame.
// The third phase is taken as -(ia+ib); this balanced three-phase assumption
// is not checked.
func Clarke(ia, ib float32) (alpha, beta float32) {
	alpha = ia
	beta = (ia + 2*ib) * invSqrt3
	return alpha, beta
}

// InverseClarke maps alpha/beta back into the three phase currents.
func InverseClarke(alpha, beta float32) (ia, ib, ic float32) {
	ia = alpha
	ib = -0.5*alpha + halfSqrt3*beta
	ic = -0.5*alpha - halfSqrt3*beta
	return ia, ib, ic
}

// Park rotates alpha/beta into the rotor frame at electrical angle theta (rad).
// theta is used as given, without wrapping or validation.
func Park(alpha, beta, theta float32) (d, q float32) {
	sin, cos := math32.Sincos(theta)
	d = alpha*cos + beta*sin
	q = -alpha*sin + beta*cos
	return d, q
}

// ParkQ returns only the torque-producing q-axis current.
func ParkQ(alpha, beta, theta float32) float32 {
	sin, cos := math32.Sincos(theta)
	return -alpha*sin + beta*cos
}

// InversePark rotates rotor frame currents back into alpha/beta.
func InversePark(d, q, theta float32) (alpha, beta float32) {
	sin, cos := math32.Sincos(theta)
	alpha = d*cos - q*sin
	beta = d*sin + q*cos
	return alpha, beta
}
