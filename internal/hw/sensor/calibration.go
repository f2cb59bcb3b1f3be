package sensor

import (
	"fmt"
	"math"
)

// VoltageDividerFactor scales the ADC input voltage back to the voltage at
// the rotor's position potentiometer, which is what calibrations are fitted
// against.
const VoltageDividerFactor = 1.5

// Calibration is a two-point linear fit from sensor volts to azimuth,
// plus an additive offset.
type Calibration struct {
	U1     float64 `json:"u1" yaml:"u1"`
	U2     float64 `json:"u2" yaml:"u2"`
	A1     float64 `json:"a1" yaml:"a1"`
	A2     float64 `json:"a2" yaml:"a2"`
	Offset float64 `json:"offset" yaml:"offset"`
}

// DefaultCalibration fits a stock Yaesu G-450 style rotor.
func DefaultCalibration() Calibration {
	return Calibration{U1: 0.317, U2: 4.095, A1: 30, A2: 445, Offset: 0}
}

// NewCalibration validates the reference points and returns the calibration.
func NewCalibration(u1, u2, a1, a2, offset float64) (Calibration, error) {
	c := Calibration{U1: u1, U2: u2, A1: a1, A2: a2, Offset: offset}
	return c, c.Validate()
}

// Validate rejects non-finite values and equal reference voltages.
func (c Calibration) Validate() error {
	for _, v := range []float64{c.U1, c.U2, c.A1, c.A2, c.Offset} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value %v", ErrDegenerateCalibration, v)
		}
	}
	if c.U1 == c.U2 {
		return fmt.Errorf("%w: u1 and u2 are both %v V", ErrDegenerateCalibration, c.U1)
	}
	return nil
}

// Gradient is degrees per volt.
func (c Calibration) Gradient() float64 {
	return (c.A2 - c.A1) / (c.U2 - c.U1)
}

// Intercept is the angle at zero volts, offset excluded.
func (c Calibration) Intercept() float64 {
	return c.A1 - c.Gradient()*c.U1
}

// Angle converts a divider-corrected voltage to degrees.
func (c Calibration) Angle(volts float64) float64 {
	return c.Gradient()*volts + c.Intercept() + c.Offset
}

func (c Calibration) values() map[string]float64 {
	return map[string]float64{"u1": c.U1, "u2": c.U2, "a1": c.A1, "a2": c.A2, "offset": c.Offset}
}

// calibrationFrom fills c from stored values; missing keys keep the
// defaults.
func calibrationFrom(values map[string]float64) Calibration {
	c := DefaultCalibration()
	for key, dst := range map[string]*float64{"u1": &c.U1, "u2": &c.U2, "a1": &c.A1, "a2": &c.A2, "offset": &c.Offset} {
		if v, ok := values[key]; ok {
			*dst = v
		}
	}
	return c
}
