// Package mqtt forwards Event Bus telemetry to an MQTT broker as JSON. It is
// external glue: the control loop never depends on it, and it is disabled
// entirely when no broker address is configured.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/Tornadosky/server-pi/internal/eventbus"
)

// Topics, one per Event Bus snapshot type, plus system lifecycle.
const (
	TopicPWM          = "motor/pwm"
	TopicEncoder      = "motor/encoder"
	TopicEncoderState = "motor/encoder/state"
	TopicController   = "motor/controller"
	TopicSystem       = "motor/system"
)

// QoS levels per topic, per SPEC_FULL.md §4.G.
const (
	qosPWM        = 0
	qosEncoder    = 0
	qosState      = 0
	qosController = 1
	qosSystem     = 1
)

// Publisher publishes a single pre-formatted message to the broker.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

// ConnectionStatus reports whether the underlying transport is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent mirrors the teacher's process-lifecycle event shape, adapted
// to carry an arbitrary pre-formatted status snapshot instead of boiler
// status fields.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN"
	Reason     string // e.g. "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // pre-formatted JSON; if set, formatSystemPayload returns it directly
}

type systemPayload struct {
	System systemPayloadInner `json:"system"`
}

type systemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

func formatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(systemPayload{System: systemPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}

type pwmPayload struct {
	Pin       int    `json:"pin"`
	Duty      int    `json:"duty"`
	Frequency int    `json:"frequency"`
	WallTime  string `json:"wall_time"`
}

func formatPWM(e eventbus.PwmUpdated) ([]byte, error) {
	return json.Marshal(pwmPayload{
		Pin:       e.Pin,
		Duty:      e.Duty,
		Frequency: e.Frequency,
		WallTime:  e.WallTime.UTC().Format(time.RFC3339Nano),
	})
}

type pulsePayload struct {
	SensorID    int     `json:"sensor_id"`
	Pin         int     `json:"pin"`
	PulseCount  uint64  `json:"pulse_count"`
	RatePPS     float64 `json:"rate_pps"`
	FilteredRPM float64 `json:"filtered_rpm"`
	WallMs      int64   `json:"wall_ms"`
	Source      string  `json:"source"`
}

func formatPulse(e eventbus.PulseObserved) ([]byte, error) {
	return json.Marshal(pulsePayload{
		SensorID:    e.SensorID,
		Pin:         e.Pin,
		PulseCount:  e.PulseCount,
		RatePPS:     e.RatePPS,
		FilteredRPM: e.FilteredRPM,
		WallMs:      e.WallMs,
		Source:      string(e.Source),
	})
}

type sensorStatePayload struct {
	SensorID int  `json:"sensor_id"`
	Enabled  bool `json:"enabled"`
}

func formatSensorState(e eventbus.SensorState) ([]byte, error) {
	return json.Marshal(sensorStatePayload{SensorID: e.SensorID, Enabled: e.Enabled})
}

type controllerPayload struct {
	Active       bool    `json:"active"`
	TargetRPM    float64 `json:"target_rpm"`
	CurrentRPM   float64 `json:"current_rpm"`
	CurrentPWM   int     `json:"current_pwm"`
	Error        float64 `json:"error"`
	IntegralTerm float64 `json:"integral_term"`
	ControlPin   int     `json:"control_pin"`
	SensorID     int     `json:"sensor_id"`
	WallMs       int64   `json:"wall_ms"`
}

func formatController(e eventbus.ControllerStatus) ([]byte, error) {
	return json.Marshal(controllerPayload{
		Active:       e.Active,
		TargetRPM:    e.TargetRPM,
		CurrentRPM:   e.CurrentRPM,
		CurrentPWM:   e.CurrentPWM,
		Error:        e.Error,
		IntegralTerm: e.IntegralTerm,
		ControlPin:   e.ControlPin,
		SensorID:     e.SensorID,
		WallMs:       e.WallMs,
	})
}
