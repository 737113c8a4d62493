// Package control implements the RPM Controller: a single-instance,
// gain-scheduled PID loop that reads a filtered rotational-speed estimate
// from an Encoder Pipeline sensor and writes a PWM duty cycle back through
// the PWM Registry.
package control

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/merr"
)

// Default tick cadence and tuning constants, matching the values the
// original source hard-coded. DefaultTuning returns all but kickSlope as a
// startup-tunable Tuning; config.ControlConfig overrides them per-deployment.
// kickSlope is not part of Tuning and stays fixed.
const (
	UpdateRateMs         = 100
	ErrorDeadbandRPM     = 1.0
	LowSpeedThresholdRPM = 20.0
	integralClampAbs     = 100.0
	satTimerLimitS       = 0.25
	satBleedFactor       = 0.7
	kickSlope            = 0.15
)

// Gains is one gain-schedule zone's PID coefficients.
type Gains struct{ Kp, Ki, Kd float64 }

// Tuning is every startup-tunable parameter of the control loop.
type Tuning struct {
	BaseKick              float64
	LowSpeed              Gains
	HighSpeed             Gains
	LowSpeedThresholdRPM  float64
	ErrorDeadbandRPM      float64
	UpdateRateMs          int
	IntegralClamp         float64
	SaturationBleedAfterS float64
	SaturationBleedFactor float64
}

// DefaultTuning returns the tuning the original source hard-coded.
func DefaultTuning() Tuning {
	return Tuning{
		BaseKick:              4,
		LowSpeed:              Gains{Kp: 0.35, Ki: 0.05, Kd: 0},
		HighSpeed:             Gains{Kp: 2.5, Ki: 0.35, Kd: 0.04},
		LowSpeedThresholdRPM:  LowSpeedThresholdRPM,
		ErrorDeadbandRPM:      ErrorDeadbandRPM,
		UpdateRateMs:          UpdateRateMs,
		IntegralClamp:         integralClampAbs,
		SaturationBleedAfterS: satTimerLimitS,
		SaturationBleedFactor: satBleedFactor,
	}
}

func (t Tuning) dtSeconds() float64 {
	return float64(t.UpdateRateMs) / 1000.0
}

// RateSource is the narrow read capability the controller needs from the
// Encoder Pipeline. Passed at construction instead of a *encoder.Pipeline to
// avoid the encoder↔controller↔registry cyclic package reference.
type RateSource interface {
	FilteredRPM(sensorID int) (float64, bool)
	Enabled(sensorID int) bool
	ResetFilteredRPM(sensorID int)
}

// DutyWriter is the narrow write capability the controller needs from the
// PWM Registry.
type DutyWriter interface {
	WriteDuty(pin gpio.Pin, duty int) error
}

// Controller is the single RPM control loop. Idle until Start is called;
// Tick is a no-op while Idle.
type Controller struct {
	mu   sync.Mutex
	rate RateSource
	duty DutyWriter
	bus  *eventbus.Bus
	now  func() time.Time

	tuning Tuning

	active       bool
	targetRPM    float64
	currentRPM   float64
	currentPWM   int
	errorVal     float64
	lastError    float64
	integralTerm float64
	satTimerS    float64
	controlPin   gpio.Pin
	sensorID     int

	// gen is bumped every time stopLocked runs (an explicit Stop, or Start's
	// atomic restart of an already-Active loop). actuatorMu serializes the
	// unlocked WriteDuty calls in Stop and Tick; a Tick that re-checks gen
	// after acquiring actuatorMu and finds it stale was superseded by a Stop
	// that has already bumped it, and skips its write. Together these make
	// "no further PWM writes after stop() returns" (spec.md §5) hold even
	// though neither call holds c.mu across the actuator write.
	gen        int
	actuatorMu sync.Mutex
}

// New creates a Controller in the Idle state, tuned per tuning. BaseKick is
// the spec's open question resolved: was a compile-time constant of 4, now
// config.Config.Control.BaseKick.
func New(rate RateSource, duty DutyWriter, bus *eventbus.Bus, tuning Tuning) *Controller {
	return &Controller{
		rate:   rate,
		duty:   duty,
		bus:    bus,
		now:    time.Now,
		tuning: tuning,
	}
}

// Start begins closing the loop on sensorID, driving controlPin toward
// targetRPM. If already Active, atomically stops and restarts with the new
// parameters.
func (c *Controller) Start(targetRPM float64, controlPin gpio.Pin, sensorID int) error {
	if targetRPM <= 0 {
		return merr.NewValidation("target_rpm", targetRPM, "must be > 0")
	}
	if !c.rate.Enabled(sensorID) {
		return merr.NewPrecondition(fmt.Sprintf("sensor %d is not enabled", sensorID))
	}

	c.mu.Lock()
	if c.active {
		c.stopLocked()
	}

	c.rate.ResetFilteredRPM(sensorID)
	c.targetRPM = targetRPM
	c.controlPin = controlPin
	c.sensorID = sensorID
	c.integralTerm = 0
	c.satTimerS = 0
	c.lastError = targetRPM // suppresses the first derivative spike
	c.currentPWM = int(math.Round(c.tuning.BaseKick + kickSlope*targetRPM))
	c.active = true
	snapshot := c.statusLocked()
	c.mu.Unlock()

	c.bus.Publish(snapshot)
	return nil
}

// Stop cancels the loop, drives controlPin to 0 and returns to Idle.
// Idempotent. Guaranteed to be the last PWM write the controller makes as of
// the moment it returns: see actuatorMu in the Controller doc. The Idle
// ControllerStatus is published after the 0 has been written.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.stopLocked()
	controlPin := c.controlPin
	snapshot := c.statusLocked()
	c.mu.Unlock()

	c.actuatorMu.Lock()
	err := c.duty.WriteDuty(controlPin, 0)
	c.actuatorMu.Unlock()

	c.bus.Publish(snapshot)
	return err
}

// stopLocked performs the state half of Stop (and Start's atomic
// restart path) with c.mu already held. It does not touch the actuator —
// callers write PWM themselves after releasing the lock, serialized through
// actuatorMu.
func (c *Controller) stopLocked() {
	c.active = false
	c.integralTerm = 0
	c.satTimerS = 0
	c.gen++
}

// SetTarget updates target_rpm. A target of 0 while Active stops the loop.
func (c *Controller) SetTarget(newRPM float64) error {
	if newRPM < 0 {
		return merr.NewValidation("target_rpm", newRPM, "must be >= 0")
	}

	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if newRPM == 0 && active {
		return c.Stop()
	}

	c.mu.Lock()
	c.targetRPM = newRPM
	c.mu.Unlock()
	return nil
}

// SetParams updates routing without resetting integral state or restarting
// the loop. A nil pointer leaves that field unchanged.
func (c *Controller) SetParams(controlPin *gpio.Pin, sensorID *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if controlPin != nil {
		c.controlPin = *controlPin
	}
	if sensorID != nil {
		c.sensorID = *sensorID
	}
	return nil
}

// Status returns a snapshot of the controller's current state.
func (c *Controller) Status() eventbus.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() eventbus.ControllerStatus {
	return eventbus.ControllerStatus{
		Active:       c.active,
		TargetRPM:    c.targetRPM,
		CurrentRPM:   c.currentRPM,
		CurrentPWM:   c.currentPWM,
		Error:        c.errorVal,
		IntegralTerm: c.integralTerm,
		ControlPin:   int(c.controlPin),
		SensorID:     c.sensorID,
		WallMs:       c.now().UnixMilli(),
	}
}

// Tick runs one periodic control step. A no-op while Idle. Intended to be
// called once per UpdateRateMs by the process's scheduling loop (see
// cmd/motorctld), not by callers directly on the command path.
func (c *Controller) Tick() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}

	currentRPM, ok := c.rate.FilteredRPM(c.sensorID)
	if !ok || !c.rate.Enabled(c.sensorID) {
		// Sensor disabled or gone mid-loop: hold last current_pwm, per spec's
		// deliberate "do not silently fix" failure semantics.
		c.mu.Unlock()
		return
	}
	c.currentRPM = currentRPM

	errorVal := c.targetRPM - currentRPM
	c.errorVal = errorVal

	if math.Abs(errorVal) < c.tuning.ErrorDeadbandRPM {
		snapshot := c.statusLocked()
		c.mu.Unlock()
		c.bus.Publish(snapshot)
		return
	}

	g := c.tuning.HighSpeed
	if c.targetRPM < c.tuning.LowSpeedThresholdRPM {
		g = c.tuning.LowSpeed
	}

	dt := c.tuning.dtSeconds()
	p := g.Kp * errorVal
	c.integralTerm = clampF(c.integralTerm+g.Ki*errorVal*dt, -c.tuning.IntegralClamp, c.tuning.IntegralClamp)

	var d float64
	if c.lastError != c.targetRPM {
		d = g.Kd * (errorVal - c.lastError) / dt
	}

	u := p + c.integralTerm + d

	kick := c.tuning.BaseKick + kickSlope*c.targetRPM
	if errorVal > 0 && u < kick {
		u = kick
	}

	minAllowed := 0.0
	if errorVal > 0 {
		minAllowed = kick
	}
	u = clampF(u, minAllowed, 255)
	c.currentPWM = int(math.Round(u))

	if c.currentPWM == 0 || c.currentPWM == 255 {
		c.satTimerS += dt
	} else {
		c.satTimerS = 0
	}
	if c.satTimerS > c.tuning.SaturationBleedAfterS {
		c.integralTerm *= c.tuning.SaturationBleedFactor
	}

	c.lastError = errorVal
	controlPin := c.controlPin
	currentPWM := c.currentPWM
	myGen := c.gen
	snapshot := c.statusLocked()
	c.mu.Unlock()

	c.actuatorMu.Lock()
	c.mu.Lock()
	stale := c.gen != myGen
	c.mu.Unlock()
	if !stale {
		if err := c.duty.WriteDuty(controlPin, currentPWM); err != nil {
			log.Printf("control: write duty pin %d: %v", controlPin, err)
		}
	}
	c.actuatorMu.Unlock()

	c.bus.Publish(snapshot)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
