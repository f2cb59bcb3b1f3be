package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DotDotSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs") + "/../configs/ok.yaml"
	if err := ValidateConfigPath(path); err == nil {
		t.Errorf("expected error for %q, got nil", path)
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
rotor:
  ccw_pin: 5
  cw_pin: 6
  speed_pin: 12
  stop_button_pin: 26
sensor:
  type: mcp3008
  channel: 2
  max_voltage: 5.0
  divider_factor: 2.0
motion:
  max_angle: 450
  min_distance: 3
  tolerance: 1
  stall_timeout_ms: 3000
  default_speed: 60
  smooth_speed: true
loop:
  heartbeat_ms: 2000
web:
  addr: ":8090"
  password: "s3cret"
rotctld:
  addr: ":4533"
mqtt:
  broker: "tcp://localhost:1883"
  topic: "shack/rotor"
store:
  path: "/var/lib/rotorgo/prefs.yaml"
defaults:
  device_id: "g450"
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(RotorConfig{CCWPin: 5, CWPin: 6, SpeedPin: 12, StopButtonPin: 26, PWMFreqHz: 6400000}, cfg.Rotor); diff != "" {
		t.Errorf("rotor mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sensor.Type != "mcp3008" || cfg.Sensor.Channel != 2 || cfg.Sensor.MaxVoltage != 5 || cfg.Sensor.DividerFactor != 2 {
		t.Errorf("sensor = %+v", cfg.Sensor)
	}
	if cfg.Motion.MaxAngle != 450 || cfg.Motion.DefaultSpeed != 60 || !cfg.Motion.SmoothSpeed {
		t.Errorf("motion = %+v", cfg.Motion)
	}
	if cfg.StallTimeout() != 3*time.Second {
		t.Errorf("StallTimeout = %v, want 3s", cfg.StallTimeout())
	}
	if cfg.Heartbeat() != 2*time.Second {
		t.Errorf("Heartbeat = %v, want 2s", cfg.Heartbeat())
	}
	if cfg.ButtonPin() != 26 {
		t.Errorf("ButtonPin = %d, want 26", cfg.ButtonPin())
	}
	if cfg.Web.Addr != ":8090" || cfg.Web.Password != "s3cret" || cfg.Web.Username != "admin" {
		t.Errorf("web = %+v", cfg.Web)
	}
	if cfg.Rotctld.Addr != ":4533" || cfg.MQTT.Topic != "shack/rotor" || cfg.Store.Path == "" {
		t.Errorf("services = %+v %+v %+v", cfg.Rotctld, cfg.MQTT, cfg.Store)
	}
	if cfg.Defaults.DeviceID != "g450" || cfg.Defaults.DebugLevel != 2 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "defaults:\n  debug_level: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := MotionConfig{
		MaxAngle:        449,
		MinDistance:     2,
		Tolerance:       0.7,
		StallTimeoutMs:  4000,
		StallRepeatMs:   500,
		StallChecks:     4,
		RampDistance:    20,
		RampSteepness:   1,
		DefaultSpeed:    100,
		SpeedNoiseFloor: 0.1,
	}
	if diff := cmp.Diff(want, cfg.Motion); diff != "" {
		t.Errorf("motion defaults mismatch (-want +got):\n%s", diff)
	}
	wantLoop := LoopConfig{
		UpdateIntervalMs:  40,
		AngularSpeedEvery: 5,
		BroadcastEvery:    2,
		HeartbeatMs:       1000,
		VoltsThreshold:    0.003,
		ButtonDebounceMs:  250,
	}
	if diff := cmp.Diff(wantLoop, cfg.Loop); diff != "" {
		t.Errorf("loop defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sensor.Type != "ads1115" || cfg.Sensor.Address != 0x48 || cfg.Sensor.DividerFactor != 1.5 {
		t.Errorf("sensor defaults = %+v", cfg.Sensor)
	}
	if cfg.ButtonPin() != -1 {
		t.Errorf("ButtonPin = %d, want -1 (unused)", cfg.ButtonPin())
	}
	if cfg.UpdateInterval() != 40*time.Millisecond || cfg.StallRepeat() != 500*time.Millisecond || cfg.ButtonDebounce() != 250*time.Millisecond {
		t.Errorf("durations = %v %v %v", cfg.UpdateInterval(), cfg.StallRepeat(), cfg.ButtonDebounce())
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Default() differs from an empty file (-want +got):\n%s", diff)
	}
}

func TestLoad_HexAddress(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sensor:\n  type: ads1115\n  address: 0x49\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sensor.Address != 0x49 {
		t.Errorf("address = %#x, want 0x49", cfg.Sensor.Address)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"same_pins", "rotor:\n  ccw_pin: 5\n  cw_pin: 5\n"},
		{"button_on_speed_pin", "rotor:\n  stop_button_pin: 18\n"},
		{"negative_button", "rotor:\n  stop_button_pin: -2\n"},
		{"unknown_sensor", "sensor:\n  type: hx711\n"},
		{"ads_channel", "sensor:\n  type: ads1115\n  channel: 5\n"},
		{"mcp_channel", "sensor:\n  type: mcp3008\n  channel: 8\n"},
		{"max_angle", "motion:\n  max_angle: 800\n"},
		{"deadband_below_tolerance", "motion:\n  min_distance: 0.5\n  tolerance: 1\n"},
		{"speed", "motion:\n  default_speed: 150\n"},
		{"debug_level", "defaults:\n  debug_level: 7\n"},
		{"sim_speeds", "sim:\n  min_speed: 10\n  max_speed: 5\n"},
		{"invalid_yaml", "{{{{invalid yaml!!!!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	data := strings.Repeat("#", MaxConfigFileBytes+1)
	if _, err := Load(writeConfig(t, data)); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motion.MaxAngle != 449 {
		t.Errorf("max_angle = %v, want 449", cfg.Motion.MaxAngle)
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	if _, err := Load(writeConfig(t, "unknown_section:\n  foo: bar\n")); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(cfgDir, "nonexistent.yaml")); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err == nil {
		t.Fatalf("expected the relative path with .. to be rejected, got %+v", cfg)
	}
	abs, err := filepath.Abs(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(abs); err != nil {
		t.Errorf("shipped configs/default.yaml: %v", err)
	}
}
