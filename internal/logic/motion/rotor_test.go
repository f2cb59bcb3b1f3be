package motion

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cjeanneret/RotorGo/internal/hw/actuator"
	"github.com/cjeanneret/RotorGo/internal/hw/sensor"
	"github.com/cjeanneret/RotorGo/internal/hw/sim"
	"github.com/cjeanneret/RotorGo/internal/logic/scheduler"
	"github.com/cjeanneret/RotorGo/internal/store"
)

// newSimController runs the controller against the simulated rotor.
func newSimController(t *testing.T, cfg sim.Config) (*Controller, *sim.Rotor, *clock.Mock, *recordingNotifier) {
	t.Helper()
	clk := clock.NewMock()
	rotor := sim.New(cfg, clk)

	s := sensor.New(rotor, store.Memory(), clk, 0)
	if err := s.Init(); err != nil {
		t.Fatalf("sensor Init: %v", err)
	}
	act, err := actuator.New(rotor, actuator.Config{CCWPin: cfg.CCWPin, CWPin: cfg.CWPin, SpeedPin: cfg.SpeedPin})
	if err != nil {
		t.Fatalf("actuator: %v", err)
	}
	notes := &recordingNotifier{}
	c := NewController(DefaultConfig(), s, act, notes, scheduler.New(clk))
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c, rotor, clk, notes
}

// drive runs control cycles of 40ms until the rotor stops or d elapses.
func drive(c *Controller, clk *clock.Mock, d time.Duration) time.Duration {
	var elapsed time.Duration
	for n := 1; elapsed < d; n++ {
		clk.Add(40 * time.Millisecond)
		elapsed += 40 * time.Millisecond
		_ = c.Update(n%5 == 0)
		_ = c.WatchAutoRotation()
		_ = c.WatchSpeedRamp()
		if !c.Rotating() {
			break
		}
	}
	return elapsed
}

func TestSim_SmoothRotationArrives(t *testing.T) {
	c, rotor, clk, notes := newSimController(t, sim.DefaultConfig())

	if err := c.RotateTo(220, true, true); err != nil {
		t.Fatal(err)
	}
	drive(c, clk, time.Minute)

	if c.Rotating() {
		t.Fatal("rotor still turning after a minute")
	}
	if got := notes.lastRotation(t).Reason; got != ReasonArrived {
		t.Fatalf("reason = %q, want arrived", got)
	}
	if got := rotor.Angle(); got < 219.2 || got > 221 {
		t.Errorf("final angle = %v, want ~220", got)
	}
	if d, released := rotor.Duty(); released || d != 255 {
		t.Errorf("speed output after arrival = %d (released=%v), want restored to full", d, released)
	}
}

func TestSim_ShortMoveThroughOverlap(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Start = 355
	c, rotor, clk, notes := newSimController(t, cfg)

	if err := c.RotateTo(5, true, false); err != nil {
		t.Fatal(err)
	}
	drive(c, clk, time.Minute)

	if got := notes.lastRotation(t).Reason; got != ReasonArrived {
		t.Fatalf("reason = %q, want arrived", got)
	}
	if got := rotor.Angle(); math.Abs(got-365) > 1 {
		t.Errorf("final angle = %v, want ~365", got)
	}
}

func TestSim_EndStopStalls(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.MaxAngle = 300
	cfg.Start = 290
	c, rotor, clk, notes := newSimController(t, cfg)

	if err := c.RotateTo(400, false, false); err != nil {
		t.Fatal(err)
	}
	elapsed := drive(c, clk, 30*time.Second)

	if c.Rotating() {
		t.Fatal("stall not detected")
	}
	if got := notes.lastRotation(t).Reason; got != ReasonStalled {
		t.Fatalf("reason = %q, want stalled", got)
	}
	if rotor.Angle() != 300 {
		t.Errorf("rotor should rest at the end stop, got %v", rotor.Angle())
	}
	if elapsed < 5500*time.Millisecond || elapsed > 7*time.Second {
		t.Errorf("stall detected after %v, want ~5.5s", elapsed)
	}
}
