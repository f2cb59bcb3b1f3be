// Package control runs the rotor control loop. A single goroutine owns the
// motion controller; commands from other goroutines are queued onto it.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/actuator"
	"github.com/cjeanneret/RotorGo/internal/hw/gpio"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
	"github.com/cjeanneret/RotorGo/internal/logic/scheduler"
)

var (
	// ErrStopped is returned for commands posted after Run returned.
	ErrStopped = errors.New("control: loop stopped")
	// ErrBusy is returned by Post when the command queue is full.
	ErrBusy = errors.New("control: command queue full")
)

const (
	updateTimerName    = "loop.update"
	heartbeatTimerName = "loop.heartbeat"
	debounceTimerName  = "loop.button"
)

// Config holds the loop cadence.
type Config struct {
	Tick              time.Duration // polling period of Run
	UpdateInterval    time.Duration // sensor update period
	AngularSpeedEvery int           // angular speed on every n-th update
	BroadcastEvery    int           // rotation broadcast check on every n-th update
	Heartbeat         time.Duration // rotation broadcast at least this often
	VoltsThreshold    float64       // potentiometer volts change forcing a broadcast
	ButtonPin         int           // stop push-button, active low; negative disables
	ButtonDebounce    time.Duration
	// PublishAlways broadcasts rotation even without connected clients.
	PublishAlways bool
	QueueSize     int
}

// DefaultConfig returns the cadence used on the rotor box.
func DefaultConfig() Config {
	return Config{
		Tick:              5 * time.Millisecond,
		UpdateInterval:    40 * time.Millisecond,
		AngularSpeedEvery: 5,
		BroadcastEvery:    2,
		Heartbeat:         time.Second,
		VoltsThreshold:    0.003,
		ButtonPin:         -1,
		ButtonDebounce:    250 * time.Millisecond,
		QueueSize:         32,
	}
}

// Watcher counts connected clients that supervise the rotor.
type Watcher interface {
	Clients() int
}

// Snapshots is what a newly connected client needs.
type Snapshots struct {
	Rotation      motion.RotationSnapshot
	Speed         motion.SpeedSnapshot
	Calibration   motion.CalibrationSnapshot
	SensorHealthy bool
}

// Loop drives a motion.Controller.
type Loop struct {
	cfg    Config
	ctrl   *motion.Controller
	sched  *scheduler.Scheduler
	button gpio.Driver

	watchMu  sync.RWMutex
	watchers []Watcher

	cmds chan func()
	done chan struct{}

	update    *scheduler.Timer
	heartbeat *scheduler.Timer
	debounce  *scheduler.Timer

	prevVolts    float64
	prevRotating bool
	prevClients  int
	buttonDown   bool

	statusMu sync.RWMutex
	status   motion.State
}

// New creates a loop. button may be nil when no stop button is wired.
func New(cfg Config, ctrl *motion.Controller, sched *scheduler.Scheduler, button gpio.Driver) (*Loop, error) {
	if cfg.AngularSpeedEvery <= 0 || cfg.BroadcastEvery <= 0 {
		return nil, fmt.Errorf("control: update divisors must be positive")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	l := &Loop{
		cfg:       cfg,
		ctrl:      ctrl,
		sched:     sched,
		button:    button,
		cmds:      make(chan func(), cfg.QueueSize),
		done:      make(chan struct{}),
		update:    sched.Timer(updateTimerName, cfg.UpdateInterval),
		heartbeat: sched.Timer(heartbeatTimerName, cfg.Heartbeat),
		debounce:  sched.Timer(debounceTimerName, cfg.ButtonDebounce),
	}
	if button != nil && cfg.ButtonPin >= 0 {
		if err := button.SetupPin(cfg.ButtonPin, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("control: setup button pin %d: %w", cfg.ButtonPin, err)
		}
	}
	l.status = ctrl.State()
	return l, nil
}

// AddWatcher registers a client counter.
func (l *Loop) AddWatcher(w Watcher) {
	l.watchMu.Lock()
	l.watchers = append(l.watchers, w)
	l.watchMu.Unlock()
}

func (l *Loop) clients() int {
	l.watchMu.RLock()
	defer l.watchMu.RUnlock()
	n := 0
	for _, w := range l.watchers {
		n += w.Clients()
	}
	return n
}

// Run executes commands and control passes until ctx is done. The rotor is
// stopped on the way out.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	ticker := l.sched.Clock().Ticker(l.cfg.Tick)
	defer ticker.Stop()

	debug.Info("Control loop started (update every %v)", l.cfg.UpdateInterval)
	for {
		select {
		case <-ctx.Done():
			l.drain()
			if err := l.ctrl.Stop(); err != nil {
				debug.Error(err)
			}
			l.publishStatus()
			debug.Info("Control loop stopped")
			return nil
		case fn := <-l.cmds:
			fn()
			l.publishStatus()
		case <-ticker.C:
			l.Step()
		}
	}
}

// drain runs commands queued before shutdown so Do callers are answered.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.cmds:
			fn()
		default:
			return
		}
	}
}

// Step performs one control pass. Run calls it on every tick; tests call it
// directly after advancing a mock clock.
func (l *Loop) Step() {
	if l.update.Passed() {
		n := l.update.Count()
		if err := l.ctrl.Update(n%l.cfg.AngularSpeedEvery == 0); err != nil {
			debug.Trace("Update: %v", err)
		}
		if n%l.cfg.BroadcastEvery == 0 && (l.cfg.PublishAlways || l.clients() > 0) {
			l.maybeBroadcast()
		}
	}

	if l.ctrl.AutoRotating() {
		if err := l.ctrl.WatchAutoRotation(); err != nil {
			debug.Error(err)
		}
	}
	if l.ctrl.SmoothSpeedActive() {
		if err := l.ctrl.WatchSpeedRamp(); err != nil {
			debug.Error(err)
		}
	}

	l.checkClients()
	l.checkButton()
	l.publishStatus()
}

// maybeBroadcast sends the rotation with angle when the voltage moved, the
// rotating state changed, or the heartbeat is due.
func (l *Loop) maybeBroadcast() {
	snap := l.ctrl.RotationSnapshot(true)
	rotating := l.ctrl.Rotating()
	if math.Abs(snap.Volts-l.prevVolts) > l.cfg.VoltsThreshold ||
		rotating != l.prevRotating ||
		l.heartbeat.Passed() {
		l.ctrl.PublishRotation(true)
		l.prevVolts = snap.Volts
		l.prevRotating = rotating
		debug.Trace("Broadcast rotation %.2f°", snap.Angle)
	}
}

func (l *Loop) checkClients() {
	n := l.clients()
	if n == 0 && l.prevClients > 0 {
		debug.Info("[Websocket] ALL clients disconnected.")
		if err := l.ctrl.Stop(); err != nil {
			debug.Error(err)
		}
	}
	l.prevClients = n
}

func (l *Loop) checkButton() {
	if l.button == nil || l.cfg.ButtonPin < 0 {
		return
	}
	lvl, err := l.button.ReadPin(l.cfg.ButtonPin)
	if err != nil {
		debug.Trace("button read: %v", err)
		return
	}
	pressed := lvl == gpio.Low
	if pressed && !l.buttonDown && l.debounce.Expired() {
		debug.Info("[BTN] pressed, stopping rotor")
		if err := l.ctrl.Stop(); err != nil {
			debug.Error(err)
		}
		l.debounce.Start()
	}
	l.buttonDown = pressed
}

func (l *Loop) publishStatus() {
	st := l.ctrl.State()
	l.statusMu.Lock()
	l.status = st
	l.statusMu.Unlock()
}

// Status returns the state as of the last pass. Safe from any goroutine.
func (l *Loop) Status() motion.State {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

// Post queues fn without waiting.
func (l *Loop) Post(fn func(*motion.Controller)) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.cmds <- func() { fn(l.ctrl) }:
		return nil
	default:
		return ErrBusy
	}
}

// Do runs fn on the control goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*motion.Controller) error) error {
	result := make(chan error, 1)
	cmd := func() { result <- fn(l.ctrl) }
	select {
	case l.cmds <- cmd:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		// Run drains the queue before closing done.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rotate starts a manual rotation (1 CW, -1 CCW) or stops (0).
func (l *Loop) Rotate(ctx context.Context, rotation int) error {
	return l.Do(ctx, func(c *motion.Controller) error {
		switch {
		case rotation == 0:
			return c.Stop()
		case rotation > 0:
			return c.StartRotation(actuator.CW)
		default:
			return c.StartRotation(actuator.CCW)
		}
	})
}

// Stop stops the rotor.
func (l *Loop) Stop(ctx context.Context) error {
	return l.Rotate(ctx, 0)
}

// SetSpeed sets the speed ceiling in percent.
func (l *Loop) SetSpeed(ctx context.Context, percent int) error {
	return l.Do(ctx, func(c *motion.Controller) error { return c.SetSpeed(percent) })
}

// RotateTo starts an auto-rotation.
func (l *Loop) RotateTo(ctx context.Context, target float64, useOverlap, useSmoothSpeed bool) error {
	return l.Do(ctx, func(c *motion.Controller) error {
		return c.RotateTo(target, useOverlap, useSmoothSpeed)
	})
}

// SetCalibration replaces the sensor calibration.
func (l *Loop) SetCalibration(ctx context.Context, u1, u2, a1, a2 float64) error {
	return l.Do(ctx, func(c *motion.Controller) error { return c.SetCalibration(u1, u2, a1, a2) })
}

// SetAngleOffset changes the sensor offset.
func (l *Loop) SetAngleOffset(ctx context.Context, offset float64) error {
	return l.Do(ctx, func(c *motion.Controller) error { return c.SetAngleOffset(offset) })
}

// Snapshots collects the state sent to a newly connected client. The
// rotation is sent without angle.
func (l *Loop) Snapshots(ctx context.Context) (Snapshots, error) {
	var s Snapshots
	err := l.Do(ctx, func(c *motion.Controller) error {
		s.Rotation = c.RotationSnapshot(false)
		s.Speed = c.SpeedSnapshot()
		s.Calibration = c.CalibrationSnapshot()
		s.SensorHealthy = c.State().SensorHealthy
		return nil
	})
	return s, err
}
