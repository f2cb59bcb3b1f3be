package web

import (
	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
)

// Messenger turns controller snapshots into frames for all clients.
type Messenger struct {
	hub *Hub
}

var _ motion.Notifier = (*Messenger)(nil)

func NewMessenger(hub *Hub) *Messenger {
	return &Messenger{hub: hub}
}

func (m *Messenger) broadcast(ident string, v interface{}) {
	frame, err := EncodeFrame(ident, v)
	if err != nil {
		debug.Error(err)
		return
	}
	m.hub.Broadcast(frame)
}

func (m *Messenger) NotifyRotation(s motion.RotationSnapshot) {
	m.broadcast(IdentRotor, RotationPayload(s))
}

func (m *Messenger) NotifySpeed(s motion.SpeedSnapshot) {
	m.broadcast(IdentRotor, speedMsg{Speed: s.MaxSpeed})
}

func (m *Messenger) NotifyCalibration(c motion.CalibrationSnapshot) {
	m.broadcast(IdentCalibration, CalibrationPayload(c))
}

func (m *Messenger) NotifyTarget(s motion.TargetSnapshot) {
	m.broadcast(IdentRotor, targetMsg{Target: round(s.Target, 2)})
}
