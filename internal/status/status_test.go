package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Tornadosky/server-pi/internal/control"
	"github.com/Tornadosky/server-pi/internal/encoder"
	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/pinowner"
	"github.com/Tornadosky/server-pi/internal/pwm"
)

func newTestTracker(t *testing.T) (*Tracker, *pwm.Registry, *encoder.Pipeline, *control.Controller) {
	t.Helper()
	backend := gpio.NewFakeBackend()
	bus := eventbus.New()
	ledger := pinowner.New()

	reg := pwm.New(backend, bus, ledger)
	enc := encoder.New(backend, bus, ledger, encoder.DefaultCalibration())
	ctrl := control.New(enc, reg, bus, control.DefaultTuning())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{MQTTBroker: "tcp://localhost:1883", MetricsPort: 9100}
	tr := NewTracker(reg, enc, ctrl, start, cfg)
	return tr, reg, enc, ctrl
}

func TestNewTrackerReflectsStartTimeAndConfig(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)

	snap := tr.Snapshot()
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !snap.StartTime.Equal(want) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, want)
	}
	if snap.Config.MQTTBroker != "tcp://localhost:1883" {
		t.Errorf("Config.MQTTBroker: got %q", snap.Config.MQTTBroker)
	}
	if snap.Config.MetricsPort != 9100 {
		t.Errorf("Config.MetricsPort: got %d, want 9100", snap.Config.MetricsPort)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestSnapshotReflectsPWMRegistry(t *testing.T) {
	tr, reg, _, _ := newTestTracker(t)

	if err := reg.Set(gpio.Pin(18), 128, 1000, true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	snap := tr.Snapshot()
	if len(snap.PWM) != 1 {
		t.Fatalf("expected 1 PWM entry, got %d", len(snap.PWM))
	}
	if snap.PWM[0].DutyCycle != 128 {
		t.Errorf("DutyCycle: got %d, want 128", snap.PWM[0].DutyCycle)
	}
}

func TestSnapshotReflectsEncoderPipeline(t *testing.T) {
	tr, _, enc, _ := newTestTracker(t)

	if err := enc.Enable(1, gpio.Pin(23)); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	snap := tr.Snapshot()
	if len(snap.Encoder) != 1 {
		t.Fatalf("expected 1 encoder sample, got %d", len(snap.Encoder))
	}
	if !snap.Encoder[0].Enabled {
		t.Error("expected sensor 1 enabled")
	}
}

func TestSnapshotReflectsController(t *testing.T) {
	tr, _, enc, ctrl := newTestTracker(t)
	if err := enc.Enable(1, gpio.Pin(23)); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := ctrl.Start(60, gpio.Pin(18), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := tr.Snapshot()
	if !snap.Controller.Active {
		t.Error("expected controller Active=true")
	}
	if snap.Controller.TargetRPM != 60 {
		t.Errorf("TargetRPM: got %v, want 60", snap.Controller.TargetRPM)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		PWM:           []pwm.Entry{{Pin: 18, DutyCycle: 128, FrequencyHz: 1000, Enabled: true}},
		Encoder:       []encoder.Sample{{SensorID: 1, Enabled: true, PulseCount: 90, RatePPS: 30, FilteredRPM: 40}},
		Controller:    eventbus.ControllerStatus{Active: true, TargetRPM: 60, CurrentRPM: 59},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{MQTTBroker: "tcp://localhost:1883", MetricsPort: 9100},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if len(parsed.Status.PWM) != 1 || parsed.Status.PWM[0].DutyCycle != 128 {
		t.Errorf("unexpected PWM entries: %+v", parsed.Status.PWM)
	}
	if len(parsed.Status.Encoder) != 1 || parsed.Status.Encoder[0].FilteredRPM != 40 {
		t.Errorf("unexpected encoder entries: %+v", parsed.Status.Encoder)
	}
	if !parsed.Status.Controller.Active || parsed.Status.Controller.TargetRPM != 60 {
		t.Errorf("unexpected controller: %+v", parsed.Status.Controller)
	}
	// Event and Reason should be omitted for the plain status format.
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason, got %q", parsed.Status.Reason)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{MQTTBroker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "STARTUP" {
		t.Errorf("Event: got %q, want STARTUP", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdownWithReason(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{MQTTBroker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr, reg, _, _ := newTestTracker(t)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			reg.Set(gpio.Pin(18), i%255, 1000, true)
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
