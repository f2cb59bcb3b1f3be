// Package sim provides a simulated rotor control box and position sensor,
// used in mock mode and by the motion tests.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/adc"
	"github.com/cjeanneret/RotorGo/internal/hw/gpio"
)

// voltsPerCode mimics an ADS1115 at gain one.
const voltsPerCode = 0.000125

// Config describes the simulated rotor.
type Config struct {
	CCWPin, CWPin, SpeedPin, ButtonPin int

	MaxAngle float64 // mechanical end stop, degrees
	Start    float64 // initial angle, degrees

	MinSpeed float64 // deg/s with the speed output released or at the lowest duty
	MaxSpeed float64 // deg/s at full duty

	// Sensor transfer function: the inverse of the two-point calibration.
	U1, U2, A1, A2 float64
	Divider        float64

	NoiseVolts float64 // peak uniform noise added to each sample
	Seed       int64
}

// DefaultConfig matches the default calibration and a typical Yaesu box.
func DefaultConfig() Config {
	return Config{
		CCWPin: 13, CWPin: 19, SpeedPin: 18, ButtonPin: -1,
		MaxAngle: 449,
		Start:    180,
		MinSpeed: 2,
		MaxSpeed: 8,
		U1:       0.317, U2: 4.095, A1: 30, A2: 445,
		Divider: 1.5,
		Seed:    1,
	}
}

// Rotor implements gpio.Driver and adc.Reader on top of a kinematic model.
type Rotor struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock
	rng   *rand.Rand

	angle    float64
	lastTime time.Time
	ccw, cw  gpio.Level
	duty     uint8
	released bool
	pressed  bool
	probeErr error
}

var (
	_ gpio.Driver = (*Rotor)(nil)
	_ adc.Reader  = (*Rotor)(nil)
)

func New(cfg Config, clk clock.Clock) *Rotor {
	if clk == nil {
		clk = clock.New()
	}
	return &Rotor{
		cfg:      cfg,
		clock:    clk,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		angle:    cfg.Start,
		lastTime: clk.Now(),
		ccw:      gpio.High,
		cw:       gpio.High,
		released: true,
	}
}

// advance integrates the motion since the last call. Caller holds mu.
func (r *Rotor) advance() {
	now := r.clock.Now()
	dt := now.Sub(r.lastTime).Seconds()
	r.lastTime = now
	if dt <= 0 {
		return
	}
	dir := 0.0
	switch {
	case r.cw == gpio.Low && r.ccw == gpio.High:
		dir = 1
	case r.ccw == gpio.Low && r.cw == gpio.High:
		dir = -1
	}
	if dir == 0 {
		return
	}
	r.angle += dir * r.speedLocked() * dt
	r.angle = math.Max(0, math.Min(r.cfg.MaxAngle, r.angle))
}

func (r *Rotor) speedLocked() float64 {
	if r.released {
		return r.cfg.MinSpeed
	}
	return r.cfg.MinSpeed + (r.cfg.MaxSpeed-r.cfg.MinSpeed)*float64(r.duty)/255
}

// Angle returns the true mechanical angle.
func (r *Rotor) Angle() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.angle
}

// SetAngle places the rotor, e.g. to start a test at a known position.
func (r *Rotor) SetAngle(deg float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.angle = deg
}

// Duty returns the current speed output and whether it is released.
func (r *Rotor) Duty() (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duty, r.released
}

// PressButton simulates the stop push-button.
func (r *Rotor) PressButton(down bool) {
	r.mu.Lock()
	r.pressed = down
	r.mu.Unlock()
}

// FailProbe makes the next Probe return err.
func (r *Rotor) FailProbe(err error) {
	r.mu.Lock()
	r.probeErr = err
	r.mu.Unlock()
}

// --- gpio.Driver ---

func (r *Rotor) SetupPin(pin int, mode gpio.PinMode) error {
	debug.GPIO("sim SetupPin", pin, mode)
	return nil
}

func (r *Rotor) WritePin(pin int, level gpio.Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	switch pin {
	case r.cfg.CCWPin:
		r.ccw = level
	case r.cfg.CWPin:
		r.cw = level
	}
	debug.GPIO("sim WritePin", pin, level)
	return nil
}

func (r *Rotor) ReadPin(pin int) (gpio.Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pin == r.cfg.ButtonPin && r.pressed {
		return gpio.Low, nil
	}
	return gpio.High, nil
}

func (r *Rotor) WriteDuty(pin int, duty uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	if pin == r.cfg.SpeedPin {
		r.duty, r.released = duty, false
	}
	return nil
}

func (r *Rotor) Release(pin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	if pin == r.cfg.SpeedPin {
		r.duty, r.released = 0, true
	}
	return nil
}

// --- adc.Reader ---

func (r *Rotor) Probe() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probeErr
}

func (r *Rotor) Read() (adc.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	v := r.voltsFor(r.angle)
	if r.cfg.NoiseVolts > 0 {
		v += (r.rng.Float64()*2 - 1) * r.cfg.NoiseVolts
	}
	if v < 0 {
		v = 0
	}
	return adc.Sample{Raw: int(math.Round(v / voltsPerCode)), Volts: v}, nil
}

// voltsFor inverts angle = gradient*volts*divider + intercept.
func (r *Rotor) voltsFor(angle float64) float64 {
	c := r.cfg
	gradient := (c.A2 - c.A1) / (c.U2 - c.U1)
	intercept := c.A1 - gradient*c.U1
	div := c.Divider
	if div == 0 {
		div = 1
	}
	return (angle - intercept) / gradient / div
}

// Close is shared by both interfaces and idempotent.
func (r *Rotor) Close() error {
	debug.Trace("sim rotor closed")
	return nil
}
