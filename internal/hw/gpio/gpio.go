package gpio

import (
	"github.com/cjeanneret/RotorGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates how a GPIO is used.
type PinMode int

const (
	Input PinMode = iota
	Output
	// PWM configures the pin as a hardware PWM output; the duty cycle
	// is written with WriteDuty on an 8-bit range.
	PWM
	// InputPullUp is an input with the internal pull-up enabled
	// (push buttons wired to ground).
	InputPullUp
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation,
// the rotor simulator, or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// WriteDuty sets the duty cycle of a PWM pin, 0..255 of the full cycle.
	WriteDuty(pin int, duty uint8) error
	// Release puts the pin in high impedance (output disabled).
	Release(pin int) error
	Close() error
}

// MockDriver is a test implementation that simply logs actions.
// Used for development on PC or testing.
type MockDriver struct{}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool, pwmFreqHz int) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver(pwmFreqHz)
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return High, nil
}

func (m *MockDriver) WriteDuty(pin int, duty uint8) error {
	debug.GPIO("WriteDuty", pin, duty)
	return nil
}

func (m *MockDriver) Release(pin int) error {
	debug.GPIO("Release", pin, nil)
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
