// Package sensor converts ADC samples of the rotor position potentiometer
// into a calibrated azimuth.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/adc"
)

// Namespace is the store namespace holding the calibration.
const Namespace = "calibration"

var (
	// ErrSensorFault means the ADC did not answer at Init; readings are
	// frozen for the rest of the session.
	ErrSensorFault = errors.New("sensor: adc fault")
	// ErrDegenerateCalibration is returned for u1 == u2 or non-finite values.
	ErrDegenerateCalibration = errors.New("sensor: degenerate calibration")
)

// Prefs persists named scalars by namespace. *store.Store satisfies it.
type Prefs interface {
	Floats(ns string) (map[string]float64, bool)
	PutFloats(ns string, values map[string]float64) error
	PutFloat(ns, key string, v float64) error
}

// Reading is one converted sample.
type Reading struct {
	Raw   int       `json:"raw"`
	Volts float64   `json:"volts"` // at the ADC pin
	Angle float64   `json:"angle"`
	Time  time.Time `json:"time"`
}

// AngleSensor owns the ADC and the calibration. Not safe for concurrent
// use; it belongs to the control goroutine.
type AngleSensor struct {
	adc     adc.Reader
	prefs   Prefs
	clock   clock.Clock
	divider float64

	cal   Calibration
	fault bool
	last  Reading
}

// New builds a sensor. prefs may be nil for a session without persistence,
// clk nil for the wall clock and divider 0 for VoltageDividerFactor.
func New(r adc.Reader, prefs Prefs, clk clock.Clock, divider float64) *AngleSensor {
	if clk == nil {
		clk = clock.New()
	}
	if divider == 0 {
		divider = VoltageDividerFactor
	}
	return &AngleSensor{adc: r, prefs: prefs, clock: clk, divider: divider, cal: DefaultCalibration()}
}

// Init probes the ADC and loads the calibration. A probe failure is
// returned wrapped in ErrSensorFault but the sensor remains usable: the
// calibration is still loaded and readings stay at zero.
func (s *AngleSensor) Init() error {
	s.loadCalibration()

	if err := s.adc.Probe(); err != nil {
		s.fault = true
		debug.Warn("[Rotor] Failed to initialise ADC: %v", err)
		return fmt.Errorf("%w: %v", ErrSensorFault, err)
	}
	s.fault = false
	return nil
}

func (s *AngleSensor) loadCalibration() {
	if s.prefs == nil {
		return
	}
	values, ok := s.prefs.Floats(Namespace)
	if !ok {
		debug.Info("[Rotor] No stored calibration, saving defaults")
		s.cal = DefaultCalibration()
		s.persist()
		return
	}
	c := calibrationFrom(values)
	if err := c.Validate(); err != nil {
		debug.Warn("[Rotor] Stored calibration ignored: %v", err)
		c = DefaultCalibration()
	}
	s.cal = c
	debug.PrintStruct("Calibration", s.cal)
}

func (s *AngleSensor) persist() {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.PutFloats(Namespace, s.cal.values()); err != nil {
		debug.Warn("[Rotor] Calibration not saved: %v", err)
	}
}

// Refresh samples the ADC once and recomputes the reading. After a probe
// fault, or when the sample fails, the previous reading is kept and an
// error returned.
func (s *AngleSensor) Refresh() (Reading, error) {
	if s.fault {
		return s.last, ErrSensorFault
	}
	sample, err := s.adc.Read()
	if err != nil {
		return s.last, fmt.Errorf("sensor: %w", err)
	}
	s.last = Reading{
		Raw:   sample.Raw,
		Volts: sample.Volts,
		Angle: s.cal.Angle(sample.Volts * s.divider),
		Time:  s.clock.Now(),
	}
	debug.Trace("Sensor raw=%d volts=%.4f angle=%.2f", s.last.Raw, s.last.Volts, s.last.Angle)
	return s.last, nil
}

// LastReading returns the cached reading without touching the bus.
func (s *AngleSensor) LastReading() Reading {
	return s.last
}

// Healthy reports whether the ADC answered at Init.
func (s *AngleSensor) Healthy() bool {
	return !s.fault
}

// Divider returns the voltage divider factor.
func (s *AngleSensor) Divider() float64 {
	return s.divider
}

// Calibration returns the active calibration.
func (s *AngleSensor) Calibration() Calibration {
	return s.cal
}

// SetCalibration replaces the reference points, keeping the offset, and
// saves. A degenerate calibration is rejected and the previous one stays
// active. The new fit applies from the next Refresh.
func (s *AngleSensor) SetCalibration(u1, u2, a1, a2 float64) error {
	c, err := NewCalibration(u1, u2, a1, a2, s.cal.Offset)
	if err != nil {
		return err
	}
	s.cal = c
	s.persist()
	return nil
}

// SetAngleOffset changes and saves only the offset.
func (s *AngleSensor) SetAngleOffset(offset float64) error {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return fmt.Errorf("%w: offset %v", ErrDegenerateCalibration, offset)
	}
	s.cal.Offset = offset
	if s.prefs != nil {
		if err := s.prefs.PutFloat(Namespace, "offset", offset); err != nil {
			debug.Warn("[Rotor] Offset not saved: %v", err)
		}
	}
	return nil
}
