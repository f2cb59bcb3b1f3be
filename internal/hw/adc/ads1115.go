package adc

import (
	"fmt"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// ADS1115 full scale with gain one: +/- 4.096V, 0.125mV per code.
const ads1115FullScale = 4096 * physic.MilliVolt

// ADS1115 reads one single-ended channel of a TI ADS1115 over I2C.
type ADS1115 struct {
	busName string
	addr    uint16
	channel int

	bus i2c.BusCloser
	pin ads1x15.PinADC
}

func NewADS1115(busName string, addr uint16, channel int) *ADS1115 {
	if addr == 0 {
		addr = 0x48
	}
	return &ADS1115{busName: busName, addr: addr, channel: channel}
}

func (a *ADS1115) Probe() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("ads1115: host init: %w", err)
	}
	bus, err := i2creg.Open(a.busName)
	if err != nil {
		return fmt.Errorf("ads1115: open i2c bus %q: %w", a.busName, err)
	}
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = a.addr
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		return multierr.Append(fmt.Errorf("ads1115: no device at 0x%02x: %w", a.addr, err), bus.Close())
	}
	ch, err := channel(a.channel)
	if err != nil {
		return multierr.Append(err, bus.Close())
	}
	pin, err := dev.PinForChannel(ch, ads1115FullScale, 128*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return multierr.Append(fmt.Errorf("ads1115: channel %d: %w", a.channel, err), bus.Close())
	}
	a.bus, a.pin = bus, pin
	debug.Verbose("ADS1115 ready on %s at 0x%02x, channel %d", bus, a.addr, a.channel)
	return nil
}

func (a *ADS1115) Read() (Sample, error) {
	if a.pin == nil {
		return Sample{}, ErrNotProbed
	}
	s, err := a.pin.Read()
	if err != nil {
		return Sample{}, fmt.Errorf("ads1115: read: %w", err)
	}
	out := Sample{Raw: int(s.Raw), Volts: float64(s.V) / float64(physic.Volt)}
	debug.Trace("ADS1115 raw=%d volts=%.4f", out.Raw, out.Volts)
	return out, nil
}

func (a *ADS1115) Close() error {
	var err error
	if a.pin != nil {
		err = multierr.Append(err, a.pin.Halt())
		a.pin = nil
	}
	if a.bus != nil {
		err = multierr.Append(err, a.bus.Close())
		a.bus = nil
	}
	return err
}

func channel(n int) (ads1x15.Channel, error) {
	switch n {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	}
	return 0, fmt.Errorf("ads1115: invalid channel %d", n)
}
