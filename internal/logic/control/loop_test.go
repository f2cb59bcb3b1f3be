package control

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cjeanneret/RotorGo/internal/hw/actuator"
	"github.com/cjeanneret/RotorGo/internal/hw/sensor"
	"github.com/cjeanneret/RotorGo/internal/hw/sim"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
	"github.com/cjeanneret/RotorGo/internal/logic/scheduler"
	"github.com/cjeanneret/RotorGo/internal/store"
)

type countWatcher struct{ n atomic.Int32 }

func (w *countWatcher) Clients() int { return int(w.n.Load()) }

type rotationRecorder struct {
	motion.Nop
	mu        sync.Mutex
	withAngle int
	all       []motion.RotationSnapshot
}

func (r *rotationRecorder) NotifyRotation(s motion.RotationSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, s)
	if s.WithAngle {
		r.withAngle++
	}
}

func (r *rotationRecorder) angleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withAngle
}

type harness struct {
	loop    *Loop
	ctrl    *motion.Controller
	rotor   *sim.Rotor
	clock   *clock.Mock
	watcher *countWatcher
	notes   *rotationRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.NewMock()
	simCfg := sim.DefaultConfig()
	simCfg.ButtonPin = 26
	rotor := sim.New(simCfg, clk)

	s := sensor.New(rotor, store.Memory(), clk, 0)
	_ = s.Init()
	act, err := actuator.New(rotor, actuator.Config{CCWPin: simCfg.CCWPin, CWPin: simCfg.CWPin, SpeedPin: simCfg.SpeedPin})
	if err != nil {
		t.Fatal(err)
	}
	sched := scheduler.New(clk)
	notes := &rotationRecorder{}
	ctrl := motion.NewController(motion.DefaultConfig(), s, act, notes, sched)
	if err := ctrl.Init(); err != nil {
		t.Fatal(err)
	}
	loop, err := New(cfg, ctrl, sched, rotor)
	if err != nil {
		t.Fatal(err)
	}
	w := &countWatcher{}
	loop.AddWatcher(w)
	return &harness{loop: loop, ctrl: ctrl, rotor: rotor, clock: clk, watcher: w, notes: notes}
}

// advance steps the loop every 10ms for d.
func (h *harness) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
		h.clock.Add(10 * time.Millisecond)
		h.loop.Step()
	}
}

func TestNew_RejectsZeroDivisors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BroadcastEvery = 0
	clk := clock.NewMock()
	if _, err := New(cfg, nil, scheduler.New(clk), nil); err == nil {
		t.Error("expected error for zero divisor")
	}
}

func TestStep_NoBroadcastWithoutClients(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.advance(3 * time.Second)
	if n := h.notes.angleCount(); n != 0 {
		t.Errorf("broadcasts without clients = %d, want 0", n)
	}
}

func TestStep_PublishAlways(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PublishAlways = true
	h := newHarness(t, cfg)
	h.advance(100 * time.Millisecond)
	if h.notes.angleCount() == 0 {
		t.Error("PublishAlways should broadcast without clients")
	}
}

func TestStep_BroadcastCadence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.watcher.n.Store(1)

	// First check is on the second update (80ms): voltage differs from zero.
	h.advance(70 * time.Millisecond)
	if n := h.notes.angleCount(); n != 0 {
		t.Fatalf("broadcast before second update: %d", n)
	}
	h.advance(10 * time.Millisecond)
	if n := h.notes.angleCount(); n != 1 {
		t.Fatalf("broadcasts = %d, want 1", n)
	}

	// Idle rotor: only the heartbeat.
	h.advance(900 * time.Millisecond)
	if n := h.notes.angleCount(); n != 1 {
		t.Fatalf("idle broadcasts before heartbeat = %d, want 1", n)
	}
	h.advance(200 * time.Millisecond)
	if n := h.notes.angleCount(); n != 2 {
		t.Fatalf("broadcasts after heartbeat = %d, want 2", n)
	}

	// Turning rotor: every second update, voltage moves more than the threshold.
	if err := h.ctrl.StartRotation(actuator.CW); err != nil {
		t.Fatal(err)
	}
	before := h.notes.angleCount()
	h.advance(800 * time.Millisecond)
	if got := h.notes.angleCount() - before; got < 9 {
		t.Errorf("broadcasts while turning = %d, want ~10", got)
	}
}

func TestStep_StopsWhenAllClientsLeave(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.watcher.n.Store(2)
	h.advance(40 * time.Millisecond)
	_ = h.ctrl.StartRotation(actuator.CW)

	h.watcher.n.Store(1)
	h.advance(40 * time.Millisecond)
	if !h.ctrl.Rotating() {
		t.Fatal("rotor stopped while a client is still connected")
	}

	h.watcher.n.Store(0)
	h.advance(10 * time.Millisecond)
	if h.ctrl.Rotating() {
		t.Error("rotor should stop when the last client disconnects")
	}
}

func TestStep_ButtonStopsWithDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ButtonPin = 26
	h := newHarness(t, cfg)
	h.advance(300 * time.Millisecond)

	_ = h.ctrl.StartRotation(actuator.CCW)
	h.rotor.PressButton(true)
	h.advance(10 * time.Millisecond)
	if h.ctrl.Rotating() {
		t.Fatal("button press should stop the rotor")
	}

	// Held: no repeat. Bounce within the debounce window: ignored.
	_ = h.ctrl.StartRotation(actuator.CCW)
	h.advance(50 * time.Millisecond)
	h.rotor.PressButton(false)
	h.advance(10 * time.Millisecond)
	h.rotor.PressButton(true)
	h.advance(10 * time.Millisecond)
	if !h.ctrl.Rotating() {
		t.Fatal("bounce within debounce window stopped the rotor")
	}

	h.rotor.PressButton(false)
	h.advance(300 * time.Millisecond)
	h.rotor.PressButton(true)
	h.advance(10 * time.Millisecond)
	if h.ctrl.Rotating() {
		t.Error("press after debounce should stop the rotor")
	}
}

func TestStep_AutoRotationArrives(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.watcher.n.Store(1)
	h.advance(40 * time.Millisecond)
	if err := h.ctrl.RotateTo(200, true, true); err != nil {
		t.Fatal(err)
	}
	h.advance(30 * time.Second)
	st := h.loop.Status()
	if st.Rotating || st.LastStop != motion.ReasonArrived {
		t.Errorf("status = %+v, want arrived", st)
	}
}

func TestRun_CommandsAndShutdown(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.loop.Run(ctx) }()

	if err := h.loop.SetSpeed(ctx, 40); err != nil {
		t.Fatal(err)
	}
	if err := h.loop.RotateTo(ctx, 300, false, false); err != nil {
		t.Fatal(err)
	}
	snaps, err := h.loop.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snaps.Speed.MaxSpeed != 40 || !snaps.Rotation.AutoRotating || math.Abs(snaps.Rotation.Target-300) > 1e-9 || snaps.Rotation.WithAngle {
		t.Errorf("snapshots = %+v", snaps)
	}
	if !snaps.SensorHealthy {
		t.Error("sensor should be healthy")
	}
	if st := h.loop.Status(); !st.AutoRotating {
		t.Errorf("Status not refreshed after command: %+v", st)
	}

	err = h.loop.RotateTo(ctx, 180.5, false, false)
	if !errors.Is(err, motion.ErrTargetTooClose) {
		t.Errorf("RotateTo error = %v, want ErrTargetTooClose", err)
	}

	var posted atomic.Bool
	if err := h.loop.Post(func(c *motion.Controller) { posted.Store(true) }); err != nil {
		t.Fatal(err)
	}
	_ = h.loop.Rotate(ctx, -1)
	if !posted.Load() {
		t.Error("posted command not run before later command")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.loop.Status().Rotating {
		t.Error("rotor should be stopped on shutdown")
	}
	if err := h.loop.Stop(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("command after shutdown error = %v, want ErrStopped", err)
	}
	if err := h.loop.Post(func(*motion.Controller) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post after shutdown error = %v, want ErrStopped", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The loop is not running: whether or not the command gets queued, the
	// wait ends with the context error.
	err := h.loop.Do(ctx, func(*motion.Controller) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do error = %v, want context.Canceled", err)
	}
}
