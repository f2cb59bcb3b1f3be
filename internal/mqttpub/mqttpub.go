// Package mqttpub mirrors the rotor state onto an MQTT broker.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/RotorGo/internal/debug"
	"github.com/cjeanneret/RotorGo/internal/logic/motion"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 5 * time.Second

// Config describes the broker connection.
type Config struct {
	Broker   string // tcp://host:1883
	Topic    string // prefix, e.g. rotorgo/rotor-1
	ClientID string
	Username string
	Password string
}

// publisher is the part of mqtt.Client used after connecting.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher implements motion.Notifier. Publishing never blocks the caller.
type Publisher struct {
	client mqtt.Client
	pub    publisher
	topic  string
}

var _ motion.Notifier = (*Publisher)(nil)

// New builds the client. Call Connect before use.
func New(cfg Config) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("rotorgo-%d", time.Now().Unix())
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(cfg.Topic+"/status", "offline", 1, true)

	p := &Publisher{topic: cfg.Topic}
	opts.OnConnect = p.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		debug.Warn("[MQTT] Connection lost: %v (will auto-reconnect)", err)
	}
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) {
		debug.Verbose("[MQTT] Reconnecting...")
	}

	p.client = mqtt.NewClient(opts)
	p.pub = p.client
	return p
}

// Connect waits for the first connection to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	debug.Info("[MQTT] Connecting to broker, topic %s", p.topic)
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}
	return nil
}

func (p *Publisher) onConnect(mqtt.Client) {
	debug.Info("[MQTT] Connected")
	p.publish("status", true, []byte("online"))
}

// Close announces the publisher offline and disconnects.
func (p *Publisher) Close() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	p.pub.Publish(p.topic+"/status", 1, true, "offline").WaitTimeout(time.Second)
	p.client.Disconnect(250)
}

func (p *Publisher) publish(sub string, retained bool, payload []byte) {
	topic := p.topic + "/" + sub
	token := p.pub.Publish(topic, 0, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			debug.Verbose("[MQTT] Publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			debug.Verbose("[MQTT] Publish to %s: %v", topic, err)
		}
	}()
}

func (p *Publisher) publishJSON(sub string, retained bool, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		debug.Error(err)
		return
	}
	p.publish(sub, retained, data)
}

type rotationState struct {
	Rotation     int      `json:"rotation"`
	Angle        *float64 `json:"angle,omitempty"`
	Volts        *float64 `json:"volts,omitempty"`
	AutoRotating bool     `json:"autoRotating"`
	Target       *float64 `json:"target,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

func rotationPayload(s motion.RotationSnapshot) rotationState {
	r := rotationState{Rotation: s.Rotation, AutoRotating: s.AutoRotating, Reason: string(s.Reason)}
	if s.WithAngle {
		a, v := round(s.Angle, 2), round(s.Volts, 3)
		r.Angle, r.Volts = &a, &v
	}
	if s.AutoRotating {
		t := round(s.Target, 2)
		r.Target = &t
	}
	return r
}

type speedState struct {
	MaxSpeed     int `json:"maxSpeed"`
	CurrentSpeed int `json:"currentSpeed"`
}

type calibrationState struct {
	U1     float64 `json:"u1"`
	U2     float64 `json:"u2"`
	A1     float64 `json:"a1"`
	A2     float64 `json:"a2"`
	Offset float64 `json:"offset"`
}

type targetState struct {
	Target float64 `json:"target"`
}

func (p *Publisher) NotifyRotation(s motion.RotationSnapshot) {
	p.publishJSON("rotation", false, rotationPayload(s))
}

func (p *Publisher) NotifySpeed(s motion.SpeedSnapshot) {
	p.publishJSON("speed", true, speedState{MaxSpeed: s.MaxSpeed, CurrentSpeed: s.CurrentSpeed})
}

func (p *Publisher) NotifyCalibration(c motion.CalibrationSnapshot) {
	p.publishJSON("calibration", true, calibrationState{
		U1: round(c.U1, 4), U2: round(c.U2, 4), A1: round(c.A1, 4), A2: round(c.A2, 4), Offset: c.Offset,
	})
}

func (p *Publisher) NotifyTarget(s motion.TargetSnapshot) {
	p.publishJSON("target", false, targetState{Target: round(s.Target, 2)})
}

func round(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
