package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cjeanneret/RotorGo/internal/logic/motion"
)

// Frame identifiers. A frame is IDENT|{json}.
const (
	IdentRotor       = "ROTOR"
	IdentCalibration = "CALIBRATION"
	IdentFavorites   = "FAVORITES"
	IdentLock        = "LOCK"
	IdentSettings    = "SETTINGS"
)

// DefaultLock is the lock frame before any client took the lock.
const DefaultLock = `LOCK|{"isLocked":false,"by":""}`

// ErrMalformedFrame is returned for frames without identifier or payload.
var ErrMalformedFrame = errors.New("web: could not parse message")

// SplitFrame separates identifier and payload.
func SplitFrame(msg string) (ident, payload string, err error) {
	i := strings.IndexByte(msg, '|')
	if i <= 0 || i == len(msg)-1 {
		return "", "", ErrMalformedFrame
	}
	return msg[:i], msg[i+1:], nil
}

// EncodeFrame builds IDENT|json(v).
func EncodeFrame(ident string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("web: encode %s: %w", ident, err)
	}
	return ident + "|" + string(data), nil
}

// round keeps the given number of decimals.
func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}

type rotationMsg struct {
	Rotation int      `json:"rotation"`
	Target   *float64 `json:"target,omitempty"`
	AdcV     *float64 `json:"adc_v,omitempty"`
	Angle    *float64 `json:"angle,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// RotationPayload maps a snapshot onto the ROTOR payload: volts rounded to
// 1 mV and angles to 0.01°. The target is only sent without angle.
func RotationPayload(s motion.RotationSnapshot) interface{} {
	m := rotationMsg{Rotation: s.Rotation, Reason: string(s.Reason)}
	if s.WithAngle {
		v, a := round(s.Volts, 3), round(s.Angle, 2)
		m.AdcV, m.Angle = &v, &a
	} else if s.AutoRotating {
		t := round(s.Target, 2)
		m.Target = &t
	}
	return m
}

type speedMsg struct {
	Speed int `json:"speed"`
}

type targetMsg struct {
	Target float64 `json:"target"`
}

type calibrationMsg struct {
	A1     float64 `json:"a1"`
	U1     float64 `json:"u1"`
	A2     float64 `json:"a2"`
	U2     float64 `json:"u2"`
	Offset float64 `json:"offset"`
}

// CalibrationPayload rounds the reference points to 1e-4.
func CalibrationPayload(c motion.CalibrationSnapshot) interface{} {
	return calibrationMsg{
		A1:     round(c.A1, 4),
		U1:     round(c.U1, 4),
		A2:     round(c.A2, 4),
		U2:     round(c.U2, 4),
		Offset: c.Offset,
	}
}

// Settings describes the device to clients.
type Settings struct {
	Version   string `json:"version"`
	ID        string `json:"id"`
	HasSensor bool   `json:"hasSensor"`
}

// rotorCmd is an inbound ROTOR payload. All fields are optional.
type rotorCmd struct {
	Rotation       *int     `json:"rotation"`
	Speed          *float64 `json:"speed"`
	Target         *float64 `json:"target"`
	UseOverlap     *bool    `json:"useOverlap"`
	UseSmoothSpeed *bool    `json:"useSmoothSpeed"`
}

// calibrationCmd is an inbound CALIBRATION payload.
type calibrationCmd struct {
	U1     *float64 `json:"u1"`
	U2     *float64 `json:"u2"`
	A1     *float64 `json:"a1"`
	A2     *float64 `json:"a2"`
	Offset *float64 `json:"offset"`
}

func (c calibrationCmd) complete() bool {
	return c.U1 != nil && c.U2 != nil && c.A1 != nil && c.A2 != nil
}
