package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	PWM           []PWMEntryJSON `json:"pwm"`
	Encoder       []EncoderJSON  `json:"encoder"`
	Controller    ControllerJSON `json:"controller"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// PWMEntryJSON is the JSON representation of one active PWM pin.
type PWMEntryJSON struct {
	Pin         int  `json:"pin"`
	DutyCycle   int  `json:"duty_cycle"`
	FrequencyHz int  `json:"frequency_hz"`
	Enabled     bool `json:"enabled"`
}

// EncoderJSON is the JSON representation of one encoder sensor.
type EncoderJSON struct {
	SensorID    int     `json:"sensor_id"`
	Enabled     bool    `json:"enabled"`
	PulseCount  uint64  `json:"pulse_count"`
	RatePPS     float64 `json:"rate_pps"`
	FilteredRPM float64 `json:"filtered_rpm"`
}

// ControllerJSON is the JSON representation of the RPM Controller.
type ControllerJSON struct {
	Active       bool    `json:"active"`
	TargetRPM    float64 `json:"target_rpm"`
	CurrentRPM   float64 `json:"current_rpm"`
	CurrentPWM   int     `json:"current_pwm"`
	Error        float64 `json:"error"`
	IntegralTerm float64 `json:"integral_term"`
	ControlPin   int     `json:"control_pin"`
	SensorID     int     `json:"sensor_id"`
}

// ConfigJSON is the JSON representation of daemon config for display.
type ConfigJSON struct {
	Broker      string `json:"broker"`
	MetricsPort int    `json:"metrics_port"`
}

func buildInner(snap Snapshot) StatusInner {
	pwmEntries := make([]PWMEntryJSON, len(snap.PWM))
	for i, e := range snap.PWM {
		pwmEntries[i] = PWMEntryJSON{
			Pin:         int(e.Pin),
			DutyCycle:   e.DutyCycle,
			FrequencyHz: e.FrequencyHz,
			Enabled:     e.Enabled,
		}
	}

	encoderEntries := make([]EncoderJSON, len(snap.Encoder))
	for i, s := range snap.Encoder {
		encoderEntries[i] = EncoderJSON{
			SensorID:    s.SensorID,
			Enabled:     s.Enabled,
			PulseCount:  s.PulseCount,
			RatePPS:     s.RatePPS,
			FilteredRPM: s.FilteredRPM,
		}
	}

	return StatusInner{
		Ready:         true,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.MQTTBroker},
		PWM:           pwmEntries,
		Encoder:       encoderEntries,
		Controller: ControllerJSON{
			Active:       snap.Controller.Active,
			TargetRPM:    snap.Controller.TargetRPM,
			CurrentRPM:   snap.Controller.CurrentRPM,
			CurrentPWM:   snap.Controller.CurrentPWM,
			Error:        snap.Controller.Error,
			IntegralTerm: snap.Controller.IntegralTerm,
			ControlPin:   snap.Controller.ControlPin,
			SensorID:     snap.Controller.SensorID,
		},
		Config: ConfigJSON{
			Broker:      snap.Config.MQTTBroker,
			MetricsPort: snap.Config.MetricsPort,
		},
	}
}

// FormatJSON returns the JSON status for the --print-status CLI flag
// (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event
// (motor/system STARTUP/SHUTDOWN), embedding the same snapshot plus the
// lifecycle event name and reason.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
