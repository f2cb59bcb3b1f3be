package gpio

import (
	"fmt"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// DefaultPWMFreq is the PWM clock used when none is configured.
// With the 8-bit cycle below this gives a carrier of ~25kHz.
const DefaultPWMFreq = 6400000

// dutyCycleLen is the PWM cycle length; duty values are 0..255.
const dutyCycleLen = 255

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins    map[int]rpio.Pin
	modes   map[int]PinMode
	pwmFreq int
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root
// (hardware PWM needs /dev/mem).
func NewRPiRealDriver(pwmFreqHz int) (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	if pwmFreqHz <= 0 {
		pwmFreqHz = DefaultPWMFreq
	}
	return &RPiDriver{
		pins:    make(map[int]rpio.Pin),
		modes:   make(map[int]PinMode),
		pwmFreq: pwmFreqHz,
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p
	r.modes[pin] = mode

	switch mode {
	case Input:
		p.Input()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	case PWM:
		p.Pwm()
		p.Freq(r.pwmFreq)
		p.DutyCycle(0, dutyCycleLen)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// WriteDuty switches a released pin back to PWM mode before writing.
func (r *RPiDriver) WriteDuty(pin int, duty uint8) error {
	debug.GPIO("WriteDuty", pin, duty)

	if mode, ok := r.modes[pin]; !ok || mode != PWM {
		if err := r.SetupPin(pin, PWM); err != nil {
			return err
		}
	}
	p := r.pins[pin]
	p.DutyCycle(uint32(duty), dutyCycleLen)
	return nil
}

func (r *RPiDriver) Release(pin int) error {
	debug.GPIO("Release", pin, nil)

	p := rpio.Pin(pin)
	p.PullOff()
	p.Input()
	r.pins[pin] = p
	r.modes[pin] = Input
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
