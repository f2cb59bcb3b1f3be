package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/logic/control"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
	"go.uber.org/multierr"
)

// FavoritesNamespace is the store namespace of the favorites frame.
const FavoritesNamespace = "favorites"

// Rotor is the command surface of the control loop. *control.Loop
// satisfies it.
type Rotor interface {
	Rotate(ctx context.Context, rotation int) error
	SetSpeed(ctx context.Context, percent int) error
	RotateTo(ctx context.Context, target float64, useOverlap, useSmoothSpeed bool) error
	SetCalibration(ctx context.Context, u1, u2, a1, a2 float64) error
	SetAngleOffset(ctx context.Context, offset float64) error
	Snapshots(ctx context.Context) (control.Snapshots, error)
	Status() motion.State
}

// Prefs persists strings. *store.Store satisfies it.
type Prefs interface {
	String(ns, key string) (string, bool)
	PutString(ns, key, v string) error
}

// Service handles inbound frames and greets new clients.
type Service struct {
	rotor         Rotor
	hub           *Hub
	prefs         Prefs
	settings      Settings
	smoothDefault bool

	mu        sync.Mutex
	lock      string
	favorites string
}

// NewService builds the frame handler. prefs may be nil.
func NewService(rotor Rotor, hub *Hub, prefs Prefs, settings Settings, smoothDefault bool) *Service {
	s := &Service{
		rotor:         rotor,
		hub:           hub,
		prefs:         prefs,
		settings:      settings,
		smoothDefault: smoothDefault,
		lock:          DefaultLock,
	}
	if prefs != nil {
		if fav, ok := prefs.String(FavoritesNamespace, "data"); ok {
			s.favorites = fav
		}
	}
	return s
}

// Handle dispatches one inbound frame.
func (s *Service) Handle(ctx context.Context, msg string) error {
	ident, payload, err := SplitFrame(msg)
	if err != nil {
		return err
	}
	switch ident {
	case IdentRotor:
		var cmd rotorCmd
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			return fmt.Errorf("web: JSON parse failed: %w", err)
		}
		return s.handleRotor(ctx, cmd)
	case IdentCalibration:
		var cmd calibrationCmd
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			return fmt.Errorf("web: JSON parse failed: %w", err)
		}
		return s.handleCalibration(ctx, cmd)
	case IdentFavorites:
		return s.setFavorites(msg, payload)
	case IdentLock:
		return s.setLock(msg, payload)
	default:
		return fmt.Errorf("web: unknown identifier %q", ident)
	}
}

func (s *Service) handleRotor(ctx context.Context, cmd rotorCmd) error {
	var err error
	if cmd.Rotation != nil {
		switch *cmd.Rotation {
		case -1, 0, 1:
			err = multierr.Append(err, s.rotor.Rotate(ctx, *cmd.Rotation))
		default:
			err = multierr.Append(err, fmt.Errorf("web: invalid rotation %d", *cmd.Rotation))
		}
	}
	if cmd.Speed != nil {
		speed := int(math.Max(0, math.Min(100, *cmd.Speed)))
		err = multierr.Append(err, s.rotor.SetSpeed(ctx, speed))
	}
	if cmd.Target != nil {
		useOverlap, useSmooth := true, s.smoothDefault
		if cmd.UseOverlap != nil {
			useOverlap = *cmd.UseOverlap
		}
		if cmd.UseSmoothSpeed != nil {
			useSmooth = *cmd.UseSmoothSpeed
		}
		rerr := s.rotor.RotateTo(ctx, *cmd.Target, useOverlap, useSmooth)
		if errors.Is(rerr, motion.ErrTargetTooClose) {
			debug.Verbose("[Websocket] %v", rerr)
			rerr = nil
		}
		err = multierr.Append(err, rerr)
	}
	return err
}

func (s *Service) handleCalibration(ctx context.Context, cmd calibrationCmd) error {
	if !cmd.complete() && cmd.Offset == nil {
		return errors.New("web: calibration needs u1, u2, a1, a2 or offset")
	}
	var err error
	if cmd.complete() {
		err = multierr.Append(err, s.rotor.SetCalibration(ctx, *cmd.U1, *cmd.U2, *cmd.A1, *cmd.A2))
	}
	if cmd.Offset != nil {
		err = multierr.Append(err, s.rotor.SetAngleOffset(ctx, *cmd.Offset))
	}
	return err
}

// setFavorites stores the whole frame and re-broadcasts it verbatim.
func (s *Service) setFavorites(frame, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("web: invalid favorites payload")
	}
	s.mu.Lock()
	s.favorites = frame
	s.mu.Unlock()
	if s.prefs != nil {
		if err := s.prefs.PutString(FavoritesNamespace, "data", frame); err != nil {
			debug.Warn("[Websocket] Favorites not saved: %v", err)
		}
	}
	s.hub.Broadcast(frame)
	return nil
}

// setLock retains the lock frame for new clients and re-broadcasts it.
func (s *Service) setLock(frame, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("web: invalid lock payload")
	}
	s.mu.Lock()
	s.lock = frame
	s.mu.Unlock()
	s.hub.Broadcast(frame)
	return nil
}

// Welcome returns the frames a new client receives, in order: lock,
// settings, speed, calibration, rotation without angle, favorites.
func (s *Service) Welcome(ctx context.Context) ([]string, error) {
	snaps, err := s.rotor.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	settings := s.settings
	settings.HasSensor = snaps.SensorHealthy

	s.mu.Lock()
	frames := []string{s.lock}
	favorites := s.favorites
	s.mu.Unlock()

	for _, f := range []struct {
		ident string
		v     interface{}
	}{
		{IdentSettings, settings},
		{IdentRotor, speedMsg{Speed: snaps.Speed.MaxSpeed}},
		{IdentCalibration, CalibrationPayload(snaps.Calibration)},
		{IdentRotor, RotationPayload(snaps.Rotation)},
	} {
		frame, err := EncodeFrame(f.ident, f.v)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	if favorites != "" {
		frames = append(frames, favorites)
	}
	return frames, nil
}
