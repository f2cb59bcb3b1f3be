package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cjeanneret/RotorGo/internal/config"
	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/hw/actuator"
	"github.com/cjeanneret/RotorGo/internal/hw/adc"
	"github.com/cjeanneret/RotorGo/internal/hw/gpio"
	"github.com/cjeanneret/RotorGo/internal/hw/sensor"
	"github.com/cjeanneret/RotorGo/internal/hw/sim"
	"github.com/cjeanneret/RotorGo/internal/logic/control"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
	"github.com/cjeanneret/RotorGo/internal/logic/scheduler"
	"github.com/cjeanneret/RotorGo/internal/mqttpub"
	"github.com/cjeanneret/RotorGo/internal/rotctld"
	"github.com/cjeanneret/RotorGo/internal/store"
	"github.com/cjeanneret/RotorGo/internal/web"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	rotctldAddr := flag.String("rotctld", "", "serve the hamlib rotctld protocol on addr (e.g. :4533)")
	mock := flag.Bool("mock", false, "use the simulated rotor instead of the GPIO/ADC hardware")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	speed := flag.Int("speed", -1, "override the boot speed in percent (0-100)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	o := overrides{
		DebugLevel:  *debugLevel,
		Speed:       *speed,
		Mock:        *mock,
		WebPort:     webPort.port(),
		RotctldAddr: *rotctldAddr,
	}
	if err := validateCLIOverrides(o); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, o)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Version", version)
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// The log stream needs the broadcaster before anything logs.
	var logs *web.LogBroadcaster
	if cfg.Web.Addr != "" {
		logs = web.NewLogBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(logs)))
	}

	clk := clock.New()
	sched := scheduler.New(clk)

	debug.Step(1, "Initializing hardware")
	hw, err := openHardware(cfg, clk)
	if err != nil {
		log.Fatalf("init hardware failed: %v", err)
	}
	defer func() {
		if err := hw.Close(); err != nil {
			log.Printf("closing hardware failed: %v", err)
		}
	}()

	debug.Step(2, "Opening preferences")
	prefs, err := store.Open(cfg.Store.Path)
	if err != nil {
		debug.Warn("Preferences are not persisted: %v", err)
	}
	debug.Value("Persistent preferences", prefs.Persistent())

	debug.Step(3, "Initializing angle sensor")
	angle := sensor.New(hw.adc, prefs, clk, cfg.Sensor.DividerFactor)
	if err := angle.Init(); err != nil {
		// Manual rotation still works without a sensor.
		debug.Warn("%v", err)
	}
	debug.PrintStruct("Calibration", angle.Calibration())

	debug.Step(4, "Initializing actuator")
	act, err := actuator.New(hw.gpio, actuator.Config{
		CCWPin:   cfg.Rotor.CCWPin,
		CWPin:    cfg.Rotor.CWPin,
		SpeedPin: cfg.Rotor.SpeedPin,
	})
	if err != nil {
		log.Fatalf("init actuator failed: %v", err)
	}
	debug.PrintStruct("Rotor config", cfg.Rotor)

	debug.Step(5, "Creating motion controller and control loop")
	hub := web.NewHub()
	notifiers := motion.Notifiers{web.NewMessenger(hub)}

	var pub *mqttpub.Publisher
	if cfg.MQTT.Broker != "" {
		pub = mqttpub.New(mqttpub.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
		err := pub.Connect(connectCtx)
		cancelConnect()
		if err != nil {
			debug.Warn("MQTT disabled: %v", err)
			pub = nil
		} else {
			defer pub.Close()
			notifiers = append(notifiers, pub)
		}
	}

	ctrl := motion.NewController(motionConfig(cfg), angle, act, notifiers, sched)
	if err := ctrl.Init(); err != nil {
		log.Fatalf("init motion controller failed: %v", err)
	}

	var button gpio.Driver
	if cfg.ButtonPin() >= 0 {
		button = hw.gpio
	}
	loop, err := control.New(loopConfig(cfg, pub != nil), ctrl, sched, button)
	if err != nil {
		log.Fatalf("init control loop failed: %v", err)
	}
	loop.AddWatcher(hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })

	if cfg.Web.Addr != "" {
		settings := web.Settings{Version: version, ID: cfg.Defaults.DeviceID}
		service := web.NewService(loop, hub, prefs, settings, cfg.Motion.SmoothSpeed)
		srv, err := web.NewServer(cfg.Web.Addr, web.Auth{
			Username: cfg.Web.Username,
			Password: cfg.Web.Password,
		}, logs, hub, service, loop)
		if err != nil {
			log.Fatalf("init web server failed: %v", err)
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Rotctld.Addr != "" {
		rs := rotctld.New(loop, rotctld.Options{
			MaxAngle:    cfg.Motion.MaxAngle,
			SmoothSpeed: cfg.Motion.SmoothSpeed,
			Model:       "RotorGo " + version,
		})
		loop.AddWatcher(rs)
		g.Go(func() error { return rs.ListenAndServe(gctx, cfg.Rotctld.Addr) })
	}

	debug.Section("Running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("stopped: %v", err)
	}
	debug.Section("Shutdown complete")
}

// hardware is the GPIO driver and ADC behind the rotor, real or simulated.
type hardware struct {
	gpio gpio.Driver
	adc  adc.Reader
	sim  *sim.Rotor
}

// openHardware selects the simulated rotor for mock_gpio or sensor type
// "sim", the Raspberry Pi drivers otherwise.
func openHardware(cfg *config.Config, clk clock.Clock) (*hardware, error) {
	if cfg.Defaults.MockGPIO || cfg.Sensor.Type == string(adc.KindSim) {
		debug.Info("Using the SIMULATED rotor (development mode)")
		r := sim.New(simConfig(cfg), clk)
		return &hardware{gpio: r, adc: r, sim: r}, nil
	}

	g, err := gpio.NewDriver(false, cfg.Rotor.PWMFreqHz)
	if err != nil {
		return nil, err
	}
	r, err := adc.New(adc.Options{
		Kind:    adc.Kind(cfg.Sensor.Type),
		Bus:     cfg.Sensor.Bus,
		Address: uint16(cfg.Sensor.Address),
		Channel: cfg.Sensor.Channel,
		VRef:    cfg.Sensor.MaxVoltage,
		SPIHz:   cfg.Sensor.SPIHz,
	})
	if err != nil {
		return nil, multierr.Append(err, g.Close())
	}
	debug.Value("ADC", cfg.Sensor.Type)
	return &hardware{gpio: g, adc: r}, nil
}

// Close releases the ADC and the GPIO driver.
func (h *hardware) Close() error {
	if h.sim != nil {
		return h.sim.Close()
	}
	return multierr.Combine(h.adc.Close(), h.gpio.Close())
}

func motionConfig(cfg *config.Config) motion.Config {
	m := motion.DefaultConfig()
	m.MaxAngle = cfg.Motion.MaxAngle
	m.MinDistance = cfg.Motion.MinDistance
	m.Tolerance = cfg.Motion.Tolerance
	m.StallTimeout = cfg.StallTimeout()
	m.StallRepeat = cfg.StallRepeat()
	m.StallChecks = cfg.Motion.StallChecks
	m.RampThreshold = cfg.Motion.RampDistance
	m.RampSteepness = cfg.Motion.RampSteepness
	m.SpeedNoiseFloor = cfg.Motion.SpeedNoiseFloor
	m.MaxSpeed = cfg.Motion.DefaultSpeed
	return m
}

func loopConfig(cfg *config.Config, mqtt bool) control.Config {
	l := control.DefaultConfig()
	l.UpdateInterval = cfg.UpdateInterval()
	l.AngularSpeedEvery = cfg.Loop.AngularSpeedEvery
	l.BroadcastEvery = cfg.Loop.BroadcastEvery
	l.Heartbeat = cfg.Heartbeat()
	l.VoltsThreshold = cfg.Loop.VoltsThreshold
	l.ButtonPin = cfg.ButtonPin()
	l.ButtonDebounce = cfg.ButtonDebounce()
	// An MQTT subscriber is an observer the loop cannot count.
	l.PublishAlways = cfg.Loop.PublishAlways || mqtt
	return l
}

func simConfig(cfg *config.Config) sim.Config {
	s := sim.DefaultConfig()
	s.CCWPin, s.CWPin, s.SpeedPin = cfg.Rotor.CCWPin, cfg.Rotor.CWPin, cfg.Rotor.SpeedPin
	s.ButtonPin = cfg.ButtonPin()
	s.MaxAngle = cfg.Motion.MaxAngle
	s.Start = cfg.Sim.StartAngle
	s.MinSpeed = cfg.Sim.MinSpeed
	s.MaxSpeed = cfg.Sim.MaxSpeed
	s.NoiseVolts = cfg.Sim.NoiseVolts
	s.Divider = cfg.Sensor.DividerFactor
	s.Seed = time.Now().UnixNano()
	return s
}

// overrides are the CLI values applied on top of the config file.
// Negative numbers and empty strings mean "use config".
type overrides struct {
	DebugLevel  int
	Speed       int
	Mock        bool
	WebPort     int
	RotctldAddr string
}

// validateCLIOverrides checks that set CLI overrides are within valid ranges.
func validateCLIOverrides(o overrides) error {
	if o.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", o.DebugLevel)
	}
	if o.Speed > 100 {
		return fmt.Errorf("speed must be between 0 and 100, got %d", o.Speed)
	}
	return nil
}

// applyOverrides mutates cfg with the set overrides.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
	if o.Speed >= 0 {
		cfg.Motion.DefaultSpeed = o.Speed
	}
	if o.Mock {
		cfg.Defaults.MockGPIO = true
	}
	if o.WebPort > 0 {
		cfg.Web.Addr = fmt.Sprintf(":%d", o.WebPort)
	}
	if o.RotctldAddr != "" {
		cfg.Rotctld.Addr = o.RotctldAddr
	}
}

// webPortFlag implements flag.Value for -web: 0 = config, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
