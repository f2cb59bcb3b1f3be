package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 64 * 1024

// RotorConfig holds the wiring of the rotor control box (BCM numbering).
type RotorConfig struct {
	CCWPin        int `yaml:"ccw_pin"`         // Mini-DIN pin 2, active LOW
	CWPin         int `yaml:"cw_pin"`          // Mini-DIN pin 1, active LOW
	SpeedPin      int `yaml:"speed_pin"`       // hardware PWM capable pin
	StopButtonPin int `yaml:"stop_button_pin"` // push-button to ground. 0 = not used.
	PWMFreqHz     int `yaml:"pwm_freq_hz"`
}

// SensorConfig selects the ADC behind the rotor potentiometer.
type SensorConfig struct {
	Type          string  `yaml:"type"`           // ads1115, mcp3008 or sim
	Bus           string  `yaml:"bus"`            // I2C bus name, "" for the first one
	Address       int     `yaml:"address"`        // I2C address (ads1115)
	Channel       int     `yaml:"channel"`        // ADC input channel
	MaxVoltage    float64 `yaml:"max_voltage"`    // reference voltage (mcp3008)
	SPIHz         int     `yaml:"spi_hz"`         // SPI clock (mcp3008)
	DividerFactor float64 `yaml:"divider_factor"` // potentiometer volts / ADC volts
}

// MotionConfig holds the auto-rotation constants.
type MotionConfig struct {
	MaxAngle        float64 `yaml:"max_angle"`         // mechanical range incl. overlap (degrees)
	MinDistance     float64 `yaml:"min_distance"`      // deadband of auto-rotation (degrees)
	Tolerance       float64 `yaml:"tolerance"`         // arrival tolerance (degrees)
	StallTimeoutMs  int     `yaml:"stall_timeout_ms"`  // first stall check after start
	StallRepeatMs   int     `yaml:"stall_repeat_ms"`   // following stall checks
	StallChecks     int     `yaml:"stall_checks"`      // still checks before abort
	RampDistance    float64 `yaml:"ramp_distance"`     // degrees to reach full speed
	RampSteepness   float64 `yaml:"ramp_steepness"`    // smooth step constant
	DefaultSpeed    int     `yaml:"default_speed"`     // speed ceiling at boot (percent)
	SmoothSpeed     bool    `yaml:"smooth_speed"`      // ramp when a client does not say
	SpeedNoiseFloor float64 `yaml:"speed_noise_floor"` // deg/s read as still
}

// LoopConfig holds the control loop cadence.
type LoopConfig struct {
	UpdateIntervalMs  int     `yaml:"update_interval_ms"`
	AngularSpeedEvery int     `yaml:"angular_speed_every"` // n-th update estimates the speed
	BroadcastEvery    int     `yaml:"broadcast_every"`     // n-th update may broadcast
	HeartbeatMs       int     `yaml:"heartbeat_ms"`
	VoltsThreshold    float64 `yaml:"volts_threshold"`
	ButtonDebounceMs  int     `yaml:"button_debounce_ms"`
	PublishAlways     bool    `yaml:"publish_always"` // broadcast without connected clients
}

// WebConfig describes the HTTP/WebSocket server.
type WebConfig struct {
	Addr     string `yaml:"addr"` // "" = disabled unless -web is given
	Username string `yaml:"username"`
	Password string `yaml:"password"` // "" = no basic auth
}

// RotctldConfig describes the hamlib rotator server.
type RotctldConfig struct {
	Addr string `yaml:"addr"` // "" = disabled
}

// MQTTConfig describes the optional state publisher.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // "" = disabled
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StoreConfig locates the persistent preferences.
type StoreConfig struct {
	Path string `yaml:"path"` // "" = memory only
}

// SimConfig tunes the simulated rotor used with mock_gpio.
type SimConfig struct {
	StartAngle float64 `yaml:"start_angle"`
	MinSpeed   float64 `yaml:"min_speed"` // deg/s
	MaxSpeed   float64 `yaml:"max_speed"` // deg/s
	NoiseVolts float64 `yaml:"noise_volts"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DeviceID   string `yaml:"device_id"`   // shown to clients
	DebugLevel int    `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // simulated rotor instead of the Raspberry Pi
}

// Config aggregates all application configuration.
type Config struct {
	Rotor    RotorConfig    `yaml:"rotor"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Motion   MotionConfig   `yaml:"motion"`
	Loop     LoopConfig     `yaml:"loop"`
	Web      WebConfig      `yaml:"web"`
	Rotctld  RotctldConfig  `yaml:"rotctld"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Store    StoreConfig    `yaml:"store"`
	Sim      SimConfig      `yaml:"sim"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files inside a directory named
// "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file %q must be in a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}
	return Parse(data)
}

// Parse decodes YAML content, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of an empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	r := &c.Rotor
	if r.CCWPin <= 0 {
		r.CCWPin = 13
	}
	if r.CWPin <= 0 {
		r.CWPin = 19
	}
	if r.SpeedPin <= 0 {
		r.SpeedPin = 18
	}
	if r.PWMFreqHz <= 0 {
		r.PWMFreqHz = 6400000
	}

	s := &c.Sensor
	if s.Type == "" {
		s.Type = "ads1115"
	}
	if s.Address == 0 {
		s.Address = 0x48
	}
	if s.MaxVoltage <= 0 {
		s.MaxVoltage = 3.3
	}
	if s.SPIHz <= 0 {
		s.SPIHz = 1350000
	}
	if s.DividerFactor <= 0 {
		s.DividerFactor = 1.5
	}

	m := &c.Motion
	if m.MaxAngle <= 0 {
		m.MaxAngle = 449
	}
	if m.MinDistance <= 0 {
		m.MinDistance = 2
	}
	if m.Tolerance <= 0 {
		m.Tolerance = 0.7
	}
	if m.StallTimeoutMs <= 0 {
		m.StallTimeoutMs = 4000
	}
	if m.StallRepeatMs <= 0 {
		m.StallRepeatMs = 500
	}
	if m.StallChecks <= 0 {
		m.StallChecks = 4
	}
	if m.RampDistance <= 0 {
		m.RampDistance = 20
	}
	if m.RampSteepness <= 0 {
		m.RampSteepness = 1
	}
	if m.DefaultSpeed == 0 {
		m.DefaultSpeed = 100
	}
	if m.SpeedNoiseFloor <= 0 {
		m.SpeedNoiseFloor = 0.1
	}

	l := &c.Loop
	if l.UpdateIntervalMs <= 0 {
		l.UpdateIntervalMs = 40
	}
	if l.AngularSpeedEvery <= 0 {
		l.AngularSpeedEvery = 5
	}
	if l.BroadcastEvery <= 0 {
		l.BroadcastEvery = 2
	}
	if l.HeartbeatMs <= 0 {
		l.HeartbeatMs = 1000
	}
	if l.VoltsThreshold <= 0 {
		l.VoltsThreshold = 0.003
	}
	if l.ButtonDebounceMs <= 0 {
		l.ButtonDebounceMs = 250
	}

	if c.Web.Username == "" {
		c.Web.Username = "admin"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "rotorgo"
	}

	if c.Sim.StartAngle == 0 {
		c.Sim.StartAngle = 180
	}
	if c.Sim.MinSpeed <= 0 {
		c.Sim.MinSpeed = 2
	}
	if c.Sim.MaxSpeed <= 0 {
		c.Sim.MaxSpeed = 8
	}

	if c.Defaults.DeviceID == "" {
		c.Defaults.DeviceID = "rotorgo"
	}
}

// Validate checks value ranges. Defaults must be applied first.
func (c *Config) Validate() error {
	r := c.Rotor
	if r.CCWPin == r.CWPin || r.CCWPin == r.SpeedPin || r.CWPin == r.SpeedPin {
		return fmt.Errorf("rotor pins must differ, got ccw=%d cw=%d speed=%d", r.CCWPin, r.CWPin, r.SpeedPin)
	}
	if r.StopButtonPin < 0 {
		return fmt.Errorf("rotor.stop_button_pin must be >= 0, got %d", r.StopButtonPin)
	}
	if r.StopButtonPin > 0 && (r.StopButtonPin == r.CCWPin || r.StopButtonPin == r.CWPin || r.StopButtonPin == r.SpeedPin) {
		return fmt.Errorf("rotor.stop_button_pin %d is already used", r.StopButtonPin)
	}

	switch c.Sensor.Type {
	case "ads1115", "mcp3008", "sim":
	default:
		return fmt.Errorf("unsupported sensor.type: %s", c.Sensor.Type)
	}
	if c.Sensor.Channel < 0 || c.Sensor.Channel > 7 {
		return fmt.Errorf("sensor.channel must be between 0 and 7, got %d", c.Sensor.Channel)
	}
	if c.Sensor.Type == "ads1115" && c.Sensor.Channel > 3 {
		return fmt.Errorf("sensor.channel must be between 0 and 3 for ads1115, got %d", c.Sensor.Channel)
	}

	m := c.Motion
	if m.MaxAngle > 720 {
		return fmt.Errorf("motion.max_angle must be <= 720, got %.2f", m.MaxAngle)
	}
	if m.MinDistance < m.Tolerance {
		return fmt.Errorf("motion.min_distance (%.2f) must be >= motion.tolerance (%.2f)", m.MinDistance, m.Tolerance)
	}
	if m.DefaultSpeed < 0 || m.DefaultSpeed > 100 {
		return fmt.Errorf("motion.default_speed must be between 0 and 100, got %d", m.DefaultSpeed)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Sim.MinSpeed > c.Sim.MaxSpeed {
		return fmt.Errorf("sim.min_speed (%.2f) must be <= sim.max_speed (%.2f)", c.Sim.MinSpeed, c.Sim.MaxSpeed)
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// StallTimeout returns the delay before the first stall check.
func (c *Config) StallTimeout() time.Duration { return ms(c.Motion.StallTimeoutMs) }

// StallRepeat returns the interval of the following stall checks.
func (c *Config) StallRepeat() time.Duration { return ms(c.Motion.StallRepeatMs) }

// UpdateInterval returns the sensor update period.
func (c *Config) UpdateInterval() time.Duration { return ms(c.Loop.UpdateIntervalMs) }

// Heartbeat returns the maximum interval between two rotation broadcasts.
func (c *Config) Heartbeat() time.Duration { return ms(c.Loop.HeartbeatMs) }

// ButtonDebounce returns the stop button debounce delay.
func (c *Config) ButtonDebounce() time.Duration { return ms(c.Loop.ButtonDebounceMs) }

// ButtonPin returns the stop button pin, or -1 when not used.
func (c *Config) ButtonPin() int {
	if c.Rotor.StopButtonPin == 0 {
		return -1
	}
	return c.Rotor.StopButtonPin
}
