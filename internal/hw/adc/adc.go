// Package adc abstracts the single-channel analog reader behind the
// rotor position sensor.
package adc

import (
	"errors"
	"fmt"
)

// ErrNotProbed is returned by Read when the device was never probed
// successfully.
var ErrNotProbed = errors.New("adc: device not probed")

// Sample is one conversion result.
type Sample struct {
	Raw   int     // native ADC code
	Volts float64 // input voltage at the ADC pin
}

// Reader is a single-channel ADC.
type Reader interface {
	// Probe configures the device and checks it answers.
	Probe() error
	// Read performs one bounded conversion.
	Read() (Sample, error)
	Close() error
}

// Kind names a supported backend.
type Kind string

const (
	KindADS1115 Kind = "ads1115"
	KindMCP3008 Kind = "mcp3008"
	KindSim     Kind = "sim"
)

// Options selects and parametrizes a hardware backend.
type Options struct {
	Kind    Kind
	Bus     string  // I2C bus name, "" for the first one
	Address uint16  // I2C address (ADS1115)
	Channel int     // input channel
	VRef    float64 // reference voltage (MCP3008)
	SPIHz   int     // SPI clock (MCP3008)
}

// New returns the hardware backend named by opts.Kind. The simulator is
// built by package sim and is not handled here.
func New(opts Options) (Reader, error) {
	switch opts.Kind {
	case KindADS1115:
		return NewADS1115(opts.Bus, opts.Address, opts.Channel), nil
	case KindMCP3008:
		return NewMCP3008(opts.Channel, opts.VRef, opts.SPIHz), nil
	default:
		return nil, fmt.Errorf("adc: unsupported kind %q", opts.Kind)
	}
}
