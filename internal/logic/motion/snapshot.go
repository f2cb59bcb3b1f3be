package motion

import "github.com/cjeanneret/RotorGo/internal/hw/sensor"

// StopReason tells observers why a rotation ended.
type StopReason string

const (
	ReasonNone      StopReason = ""
	ReasonCancelled StopReason = "cancelled"
	ReasonArrived   StopReason = "arrived"
	ReasonStalled   StopReason = "stalled"
)

// RotationSnapshot is the rotation state handed to a Notifier.
type RotationSnapshot struct {
	// Rotation is -1 for CCW, 0 when stopped and 1 for CW.
	Rotation int

	// Angle fields are valid only when WithAngle is set.
	WithAngle bool
	Angle     float64
	Volts     float64 // potentiometer voltage, divider applied
	Raw       int

	AutoRotating bool
	Target       float64

	// Reason is set on the transition to stopped only.
	Reason StopReason
}

// SpeedSnapshot carries the commanded speed ceiling and the ramped output.
type SpeedSnapshot struct {
	MaxSpeed     int
	CurrentSpeed int
}

// CalibrationSnapshot is the active sensor calibration.
type CalibrationSnapshot = sensor.Calibration

// TargetSnapshot carries the auto-rotation target.
type TargetSnapshot struct {
	Target float64
}

// Notifier distributes state changes. Implementations must not block and
// must not call back into the controller.
type Notifier interface {
	NotifyRotation(RotationSnapshot)
	NotifySpeed(SpeedSnapshot)
	NotifyCalibration(CalibrationSnapshot)
	NotifyTarget(TargetSnapshot)
}

// Notifiers fans every notification out to each element.
type Notifiers []Notifier

func (ns Notifiers) NotifyRotation(s RotationSnapshot) {
	for _, n := range ns {
		n.NotifyRotation(s)
	}
}

func (ns Notifiers) NotifySpeed(s SpeedSnapshot) {
	for _, n := range ns {
		n.NotifySpeed(s)
	}
}

func (ns Notifiers) NotifyCalibration(s CalibrationSnapshot) {
	for _, n := range ns {
		n.NotifyCalibration(s)
	}
}

func (ns Notifiers) NotifyTarget(s TargetSnapshot) {
	for _, n := range ns {
		n.NotifyTarget(s)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) NotifyRotation(RotationSnapshot)       {}
func (Nop) NotifySpeed(SpeedSnapshot)             {}
func (Nop) NotifyCalibration(CalibrationSnapshot) {}
func (Nop) NotifyTarget(TargetSnapshot)           {}

// State is a copy of the controller state for status reporting.
type State struct {
	Rotating      bool       `json:"rotating"`
	Direction     string     `json:"direction"`
	Rotation      int        `json:"rotation"`
	AutoRotating  bool       `json:"autoRotating"`
	Target        float64    `json:"target"`
	MaxSpeed      int        `json:"maxSpeed"`
	CurrentSpeed  int        `json:"currentSpeed"`
	SmoothSpeed   bool       `json:"smoothSpeed"`
	AngularSpeed  float64    `json:"angularSpeed"`
	StallCount    int        `json:"stallCount"`
	Angle         float64    `json:"angle"`
	Volts         float64    `json:"volts"`
	Raw           int        `json:"raw"`
	SensorHealthy bool       `json:"sensorHealthy"`
	LastStop      StopReason `json:"lastStop"`
}
