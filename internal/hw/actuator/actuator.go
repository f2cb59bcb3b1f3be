package actuator

import (
	"fmt"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/gpio"
)

// Direction of rotation.
type Direction int

const (
	CCW Direction = 0
	CW  Direction = 1
)

func (d Direction) String() string {
	if d == CW {
		return "CW"
	}
	return "CCW"
}

// Config holds the wiring of the rotor control lines (BCM numbering).
type Config struct {
	CCWPin   int // Mini-DIN pin 2, active LOW
	CWPin    int // Mini-DIN pin 1, active LOW
	SpeedPin int // Mini-DIN pin 3, PWM/analog speed
}

// Actuator drives the two direction lines and the speed output of the
// rotor control box. The motor driver is active LOW: a LOW direction line
// turns the motor, both lines HIGH stop it.
type Actuator struct {
	gpio gpio.Driver
	cfg  Config
}

// New configures the pins, stops the rotor and disables the speed output.
func New(g gpio.Driver, cfg Config) (*Actuator, error) {
	if cfg.CCWPin == cfg.CWPin {
		return nil, fmt.Errorf("ccw and cw pins must differ, both are %d", cfg.CCWPin)
	}
	for _, pin := range []int{cfg.CCWPin, cfg.CWPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup direction pin %d: %w", pin, err)
		}
	}
	if err := g.SetupPin(cfg.SpeedPin, gpio.PWM); err != nil {
		return nil, fmt.Errorf("setup speed pin %d: %w", cfg.SpeedPin, err)
	}

	a := &Actuator{gpio: g, cfg: cfg}
	if err := a.Stop(); err != nil {
		return nil, err
	}
	if err := a.SetSpeed(0); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Actuator) pin(dir Direction) int {
	if dir == CW {
		return a.cfg.CWPin
	}
	return a.cfg.CCWPin
}

// StartRotation deactivates the opposite line and activates dir.
func (a *Actuator) StartRotation(dir Direction) error {
	opposite := CCW
	if dir == CCW {
		opposite = CW
	}
	if err := a.gpio.WritePin(a.pin(opposite), gpio.High); err != nil {
		return err
	}
	if err := a.gpio.WritePin(a.pin(dir), gpio.Low); err != nil {
		return err
	}
	debug.Trace("Actuator: rotating %s", dir)
	return nil
}

// Stop deactivates both direction lines.
func (a *Actuator) Stop() error {
	if err := a.gpio.WritePin(a.cfg.CCWPin, gpio.High); err != nil {
		return err
	}
	return a.gpio.WritePin(a.cfg.CWPin, gpio.High)
}

// SetSpeed sets the speed output in percent (0..100). 0 disables the
// output entirely (the control box coasts at its own minimum speed).
func (a *Actuator) SetSpeed(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("speed must be between 0 and 100, got %d", percent)
	}
	if percent == 0 {
		return a.gpio.Release(a.cfg.SpeedPin)
	}
	return a.gpio.WriteDuty(a.cfg.SpeedPin, SpeedCode(percent))
}

// SpeedCode maps 0..100% onto the 8-bit output range (100% -> 255),
// rounding half up. Integer math keeps 50% at 128.
func SpeedCode(percent int) uint8 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 255
	}
	return uint8((percent*255 + 50) / 100)
}
