// Package status combines the PWM Registry, Encoder Pipeline and RPM
// Controller's own Status methods into one read-only snapshot, for logging
// and the --print-status CLI flag.
package status

import (
	"sync"
	"time"

	"github.com/Tornadosky/server-pi/internal/control"
	"github.com/Tornadosky/server-pi/internal/encoder"
	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/pwm"
)

// Config carries process-level facts the subsystems don't know about
// themselves, for display alongside their own status.
type Config struct {
	MQTTBroker  string
	MetricsPort int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	PWM           []pwm.Entry
	Encoder       []encoder.Sample
	Controller    eventbus.ControllerStatus
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the three subsystem handles plus the mutable facts (MQTT
// connection state) that don't have a subsystem of their own.
type Tracker struct {
	mu        sync.RWMutex
	pwmReg    *pwm.Registry
	encoder   *encoder.Pipeline
	ctrl      *control.Controller
	startTime time.Time
	cfg       Config
	mqttUp    bool
	now       func() time.Time
}

// NewTracker creates a Tracker reading from reg, enc and ctrl.
func NewTracker(reg *pwm.Registry, enc *encoder.Pipeline, ctrl *control.Controller, startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		pwmReg:    reg,
		encoder:   enc,
		ctrl:      ctrl,
		startTime: startTime,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetMQTTConnected records the telemetry transport's connection state.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttUp = connected
	t.mu.Unlock()
}

// Snapshot returns a combined, point-in-time copy of every subsystem's state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	mqttUp := t.mqttUp
	t.mu.RUnlock()

	return Snapshot{
		PWM:           t.pwmReg.Status(),
		Encoder:       t.encoder.Status(),
		Controller:    t.ctrl.Status(),
		StartTime:     t.startTime,
		Now:           t.now(),
		MQTTConnected: mqttUp,
		Config:        t.cfg,
	}
}
