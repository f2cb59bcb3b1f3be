// Package motion holds the rotor state machine: manual and automatic
// rotation, the speed ramp, angular speed estimation and stall detection.
//
// A Controller is not safe for concurrent use. It is driven from a single
// control goroutine (see package control) which also serialises commands.
package motion

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/actuator"
	"github.com/cjeanneret/RotorGo/internal/hw/sensor"
	"github.com/cjeanneret/RotorGo/internal/logic/geometry"
	"github.com/cjeanneret/RotorGo/internal/logic/scheduler"
)

var (
	// ErrTargetTooClose is returned when an auto-rotation would travel less
	// than the minimum distance. The rotor is stopped and stays idle.
	ErrTargetTooClose = errors.New("motion: target too close to current position")
	// ErrInvalidTarget is returned for targets outside 0..MaxAngle.
	ErrInvalidTarget = errors.New("motion: invalid target")
)

const (
	stallTimerName  = "motion.stall"
	repeatTimerName = "motion.stall-repeat"
)

// Sensor is the angle source. *sensor.AngleSensor satisfies it.
type Sensor interface {
	Refresh() (sensor.Reading, error)
	LastReading() sensor.Reading
	Healthy() bool
	Divider() float64
	Calibration() sensor.Calibration
	SetCalibration(u1, u2, a1, a2 float64) error
	SetAngleOffset(offset float64) error
}

// Actuator drives the rotor. *actuator.Actuator satisfies it.
type Actuator interface {
	StartRotation(dir actuator.Direction) error
	Stop() error
	SetSpeed(percent int) error
}

// Config holds the motion constants.
type Config struct {
	MaxAngle        float64       // mechanical range, degrees
	MinDistance     float64       // auto-rotation deadband, degrees
	Tolerance       float64       // arrival tolerance, degrees
	StallTimeout    time.Duration // first stall check after start
	StallRepeat     time.Duration // interval of following checks
	StallChecks     int           // consecutive still checks before abort
	RampThreshold   float64       // moves shorter than this never reach full speed
	RampSteepness   float64       // smooth step constant
	SpeedNoiseFloor float64       // deg/s, smaller angular speeds read as 0
	SpeedSmoothing  float64       // EMA weight of the newest estimate
	MaxSpeed        int           // initial speed ceiling, percent
}

// DefaultConfig returns the constants tuned for a Yaesu G-450 style rotor.
func DefaultConfig() Config {
	return Config{
		MaxAngle:        449,
		MinDistance:     2,
		Tolerance:       0.7,
		StallTimeout:    4 * time.Second,
		StallRepeat:     500 * time.Millisecond,
		StallChecks:     4,
		RampThreshold:   20,
		RampSteepness:   1,
		SpeedNoiseFloor: 0.1,
		SpeedSmoothing:  0.5,
		MaxSpeed:        100,
	}
}

// Controller owns the rotor motion state.
type Controller struct {
	cfg    Config
	sensor Sensor
	act    Actuator
	notify Notifier

	stallTimer  *scheduler.Timer
	repeatTimer *scheduler.Timer

	rotating bool
	dir      actuator.Direction
	auto     bool
	target   float64

	maxSpeed     int
	currentSpeed int
	smooth       bool
	ramp         geometry.Ramp

	angularSpeed float64
	prevAngle    float64
	prevTime     time.Time
	stallCount   int

	lastStop StopReason
}

// NewController wires the controller. n may be nil.
func NewController(cfg Config, s Sensor, a Actuator, n Notifier, sched *scheduler.Scheduler) *Controller {
	if n == nil {
		n = Nop{}
	}
	return &Controller{
		cfg:         cfg,
		sensor:      s,
		act:         a,
		notify:      n,
		stallTimer:  sched.Timer(stallTimerName, cfg.StallTimeout),
		repeatTimer: sched.Timer(repeatTimerName, cfg.StallRepeat),
		maxSpeed:    clampSpeed(cfg.MaxSpeed),
	}
}

// Init takes a first sample, seeds the angular speed estimator and applies
// the initial speed.
func (c *Controller) Init() error {
	r, err := c.sensor.Refresh()
	if err != nil && !errors.Is(err, sensor.ErrSensorFault) {
		debug.Warn("[Rotor] First sample failed: %v", err)
	}
	c.prevAngle, c.prevTime = r.Angle, r.Time
	if err := c.act.Stop(); err != nil {
		return fmt.Errorf("motion: stop: %w", err)
	}
	return c.setCurrentSpeed(c.maxSpeed)
}

// SetNotifier replaces the notifier.
func (c *Controller) SetNotifier(n Notifier) {
	if n == nil {
		n = Nop{}
	}
	c.notify = n
}

// StartRotation starts a manual rotation. It is a no-op while rotating.
func (c *Controller) StartRotation(dir actuator.Direction) error {
	if c.rotating {
		debug.Info("[Rotor] Can't start rotation, already rotating.")
		return nil
	}
	if err := c.act.StartRotation(dir); err != nil {
		return fmt.Errorf("motion: start rotation: %w", err)
	}
	c.dir = dir
	c.rotating = true
	c.notify.NotifyRotation(c.RotationSnapshot(false))
	debug.Info("[Rotor] Started rotation (%s).", dir)
	return nil
}

// Stop stops the rotor. Stopping an idle rotor only re-asserts the
// direction lines.
func (c *Controller) Stop() error {
	return c.stop(ReasonCancelled)
}

func (c *Controller) stop(reason StopReason) error {
	err := c.act.Stop()
	if !c.rotating {
		debug.Verbose("[Rotor] Is already stationary.")
		return err
	}
	c.rotating = false
	c.auto = false
	c.stallCount = 0
	if c.smooth {
		c.smooth = false
		if serr := c.setCurrentSpeed(c.maxSpeed); serr != nil && err == nil {
			err = serr
		}
	}
	c.lastStop = reason
	snap := c.RotationSnapshot(false)
	snap.Reason = reason
	c.notify.NotifyRotation(snap)
	debug.Info("[Rotor] Stopped rotation (%s).", reason)
	if err != nil {
		return fmt.Errorf("motion: stop: %w", err)
	}
	return nil
}

// SetSpeed sets the speed ceiling, clamped to 0..100. While the ramp is
// active the output follows the ramp instead.
func (c *Controller) SetSpeed(percent int) error {
	c.maxSpeed = clampSpeed(percent)
	c.notify.NotifySpeed(c.SpeedSnapshot())
	debug.Info("[Rotor] Set max speed (%d %%).", c.maxSpeed)
	if c.smooth {
		return nil
	}
	return c.setCurrentSpeed(c.maxSpeed)
}

func (c *Controller) setCurrentSpeed(percent int) error {
	c.currentSpeed = percent
	if err := c.act.SetSpeed(percent); err != nil {
		return fmt.Errorf("motion: set speed: %w", err)
	}
	return nil
}

func clampSpeed(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// SetCalibration forwards to the sensor and notifies on success.
func (c *Controller) SetCalibration(u1, u2, a1, a2 float64) error {
	if err := c.sensor.SetCalibration(u1, u2, a1, a2); err != nil {
		debug.Warn("[Rotor] Calibration rejected: %v", err)
		return err
	}
	c.notify.NotifyCalibration(c.sensor.Calibration())
	debug.Info("[Rotor] Set calibration: %.4f V | %.4f V | %.2f° | %.2f°.", u1, u2, a1, a2)
	return nil
}

// SetAngleOffset forwards to the sensor and notifies on success.
func (c *Controller) SetAngleOffset(offset float64) error {
	if err := c.sensor.SetAngleOffset(offset); err != nil {
		return err
	}
	c.notify.NotifyCalibration(c.sensor.Calibration())
	debug.Info("[Rotor] Set angle offset: %v°.", offset)
	return nil
}

// RotateTo stops any rotation and starts an auto-rotation towards target
// on the shortest path. With useOverlap the overlap region beyond 360° is
// considered. With useSmoothSpeed the speed ramps up and down.
func (c *Controller) RotateTo(target float64, useOverlap, useSmoothSpeed bool) error {
	if math.IsNaN(target) || target < 0 || target > c.cfg.MaxAngle {
		return fmt.Errorf("%w: %v not in 0..%v", ErrInvalidTarget, target, c.cfg.MaxAngle)
	}
	if err := c.stop(ReasonCancelled); err != nil {
		return err
	}

	r, err := c.sensor.Refresh()
	if err != nil && !errors.Is(err, sensor.ErrSensorFault) {
		return err
	}
	current := r.Angle
	path := geometry.ShortestPath(current, target, c.cfg.MaxAngle, useOverlap)
	if path.Abs() < c.cfg.MinDistance {
		debug.Info("[Rotor] Auto-rotation request denied. Target too close to current position.")
		return ErrTargetTooClose
	}

	dir := actuator.CCW
	if path.CW() {
		dir = actuator.CW
	}
	c.smooth = useSmoothSpeed
	if c.smooth {
		c.ramp = geometry.NewRamp(current, path.Target, c.cfg.RampThreshold)
	}
	debug.Info("[Rotor] Auto-rotation request: Target: %.1f° | Computed target: %.2f° | Direction: %s | Use OL: %v | Smooth speed: %v",
		target, path.Target, dir, useOverlap, useSmoothSpeed)
	if c.smooth {
		debug.Verbose("[Rotor] Ramp: %.1f° | Max speed: %.0f%%", c.ramp.Distance, c.ramp.Scale*100)
	}

	c.target = path.Target
	c.stallTimer.Reset()
	c.stallTimer.Start()
	c.stallCount = 0
	c.auto = true
	if err := c.StartRotation(dir); err != nil {
		c.auto = false
		c.smooth = false
		return err
	}
	c.notify.NotifyTarget(c.TargetSnapshot())
	return nil
}

// Update samples the sensor. With withAngularSpeed it also updates the
// angular speed estimate. A frozen sensor is not an error here.
func (c *Controller) Update(withAngularSpeed bool) error {
	r, err := c.sensor.Refresh()
	if err != nil {
		if errors.Is(err, sensor.ErrSensorFault) {
			return nil
		}
		return err
	}
	if withAngularSpeed {
		c.updateAngularSpeed(r)
	}
	return nil
}

func (c *Controller) updateAngularSpeed(r sensor.Reading) {
	dt := r.Time.Sub(c.prevTime).Seconds()
	if dt <= 0 {
		return
	}
	raw := (r.Angle - c.prevAngle) / dt
	w := c.cfg.SpeedSmoothing
	v := w*raw + (1-w)*c.angularSpeed
	if math.Abs(v) <= c.cfg.SpeedNoiseFloor {
		v = 0
	}
	c.angularSpeed = v
	c.prevAngle, c.prevTime = r.Angle, r.Time
}

// WatchAutoRotation stops the rotor when the target is reached or when it
// has been still for StallChecks consecutive checks. The first check
// happens StallTimeout after the start, the following ones every
// StallRepeat. Any motion resets the count.
func (c *Controller) WatchAutoRotation() error {
	if !c.auto {
		return nil
	}
	angle := c.sensor.LastReading().Angle

	if (c.dir == actuator.CCW && angle <= c.target+c.cfg.Tolerance) ||
		(c.dir == actuator.CW && angle >= c.target-c.cfg.Tolerance) {
		target := c.target
		err := c.stop(ReasonArrived)
		debug.Info("[Rotor] Auto-rotation target (%.2f°) reached with: %.2f°.", target, angle)
		return err
	}

	if c.angularSpeed == 0 {
		fired := false
		if c.stallCount == 0 {
			if c.stallTimer.Passed() {
				fired = true
				c.repeatTimer.Start()
			}
		} else if c.repeatTimer.Passed() {
			fired = true
		}
		if fired {
			c.stallCount++
			debug.Live("[Rotor] Rotor still, check %d/%d", c.stallCount, c.cfg.StallChecks)
			if c.stallCount >= c.cfg.StallChecks {
				debug.Info("[Rotor] Auto-rotation aborted. Rotor stopped before reaching target.")
				return c.stop(ReasonStalled)
			}
		}
		return nil
	}
	if c.stallCount > 0 {
		// Motion resumed: the next stall check waits a full StallTimeout again.
		c.stallCount = 0
		c.stallTimer.Start()
	}
	return nil
}

// WatchSpeedRamp applies the ramp speed when it changed.
func (c *Controller) WatchSpeedRamp() error {
	if !c.smooth {
		return nil
	}
	s := c.SmoothSpeed()
	if s == c.currentSpeed {
		return nil
	}
	angle := c.sensor.LastReading().Angle
	debug.Live("[Rotor] Speed (%3d%%) | Distances: %5.1f <-+-> %5.1f",
		s, math.Abs(angle-c.ramp.Start), math.Abs(angle-c.target))
	return c.setCurrentSpeed(s)
}

// SmoothSpeed returns the ramp speed for the cached angle.
func (c *Controller) SmoothSpeed() int {
	return c.ramp.Speed(c.maxSpeed, c.sensor.LastReading().Angle, c.cfg.RampSteepness)
}

// Rotating reports whether the rotor is driven.
func (c *Controller) Rotating() bool { return c.rotating }

// AutoRotating reports whether an auto-rotation is in progress.
func (c *Controller) AutoRotating() bool { return c.auto }

// SmoothSpeedActive reports whether the speed ramp drives the output.
func (c *Controller) SmoothSpeedActive() bool { return c.smooth }

// AngularSpeed returns the smoothed angular speed in deg/s.
func (c *Controller) AngularSpeed() float64 { return c.angularSpeed }

func (c *Controller) rotation() int {
	switch {
	case !c.rotating:
		return 0
	case c.dir == actuator.CW:
		return 1
	default:
		return -1
	}
}

// RotationSnapshot returns the rotation state from the cached reading.
// Without angle, an auto-rotation carries its target instead.
func (c *Controller) RotationSnapshot(withAngle bool) RotationSnapshot {
	s := RotationSnapshot{Rotation: c.rotation(), AutoRotating: c.auto}
	if c.auto {
		s.Target = c.target
	}
	if withAngle {
		r := c.sensor.LastReading()
		s.WithAngle = true
		s.Angle = r.Angle
		s.Volts = r.Volts * c.sensor.Divider()
		s.Raw = r.Raw
	}
	return s
}

// SpeedSnapshot returns the speed state.
func (c *Controller) SpeedSnapshot() SpeedSnapshot {
	return SpeedSnapshot{MaxSpeed: c.maxSpeed, CurrentSpeed: c.currentSpeed}
}

// CalibrationSnapshot returns the active calibration.
func (c *Controller) CalibrationSnapshot() CalibrationSnapshot {
	return c.sensor.Calibration()
}

// TargetSnapshot returns the auto-rotation target.
func (c *Controller) TargetSnapshot() TargetSnapshot {
	return TargetSnapshot{Target: c.target}
}

// PublishRotation sends the rotation state with the cached reading.
func (c *Controller) PublishRotation(withAngle bool) {
	c.notify.NotifyRotation(c.RotationSnapshot(withAngle))
}

// State returns a copy of the full state.
func (c *Controller) State() State {
	r := c.sensor.LastReading()
	st := State{
		Rotating:      c.rotating,
		Rotation:      c.rotation(),
		AutoRotating:  c.auto,
		MaxSpeed:      c.maxSpeed,
		CurrentSpeed:  c.currentSpeed,
		SmoothSpeed:   c.smooth,
		AngularSpeed:  c.angularSpeed,
		StallCount:    c.stallCount,
		Angle:         r.Angle,
		Volts:         r.Volts * c.sensor.Divider(),
		Raw:           r.Raw,
		SensorHealthy: c.sensor.Healthy(),
		LastStop:      c.lastStop,
	}
	if c.rotating {
		st.Direction = c.dir.String()
	}
	if c.auto {
		st.Target = c.target
	}
	return st
}
