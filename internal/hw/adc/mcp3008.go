package adc

import (
	"fmt"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

const mcp3008MaxCode = 1023

// MCP3008 reads one single-ended channel of a 10-bit MCP3008 on SPI0/CE0.
type MCP3008 struct {
	channel int
	vref    float64
	hz      int
	open    bool
}

func NewMCP3008(channel int, vref float64, hz int) *MCP3008 {
	if vref <= 0 {
		vref = 3.3
	}
	if hz <= 0 {
		hz = 1350000
	}
	return &MCP3008{channel: channel, vref: vref, hz: hz}
}

func (m *MCP3008) Probe() error {
	if m.channel < 0 || m.channel > 7 {
		return fmt.Errorf("mcp3008: invalid channel %d", m.channel)
	}
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("mcp3008: open gpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return fmt.Errorf("mcp3008: spi begin: %w", err)
	}
	rpio.SpiSpeed(m.hz)
	rpio.SpiChipSelect(0)
	m.open = true

	// A floating bus reads all ones; a present chip clears the null bit.
	buf := m.command()
	rpio.SpiExchange(buf)
	if buf[1]&0x04 != 0 {
		m.Close()
		return fmt.Errorf("mcp3008: no response on channel %d", m.channel)
	}
	debug.Verbose("MCP3008 ready on SPI0, channel %d, vref %.3fV", m.channel, m.vref)
	return nil
}

func (m *MCP3008) command() []byte {
	return []byte{1, byte(8+m.channel) << 4, 0}
}

func (m *MCP3008) Read() (Sample, error) {
	if !m.open {
		return Sample{}, ErrNotProbed
	}
	buf := m.command()
	rpio.SpiExchange(buf)
	raw := decodeMCP3008(buf)
	s := Sample{Raw: raw, Volts: float64(raw) * m.vref / mcp3008MaxCode}
	debug.Trace("MCP3008 raw=%d volts=%.4f", s.Raw, s.Volts)
	return s, nil
}

func decodeMCP3008(buf []byte) int {
	return int(buf[1]&0x03)<<8 | int(buf[2])
}

func (m *MCP3008) Close() error {
	if !m.open {
		return nil
	}
	m.open = false
	rpio.SpiEnd(rpio.Spi0)
	return nil
}
