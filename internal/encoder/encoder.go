// Package encoder implements the Encoder Pipeline: one debounced pulse
// counter, rolling-window rate estimator and IIR-filtered RPM tracker per
// enabled input pin.
package encoder

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/merr"
	"github.com/Tornadosky/server-pi/internal/pinowner"
)

// Default calibration constants, matching the values the original source
// hard-coded. DefaultCalibration returns them as a startup-tunable
// Calibration; config.EncoderConfig overrides them per-deployment.
const (
	PulsesPerRotation = 45
	DebounceUs        = 5000
	WindowSecs        = 1.0
	MinWindowSecs     = 0.025
	FilterAlpha       = 0.4
)

// Calibration is the set of fixed physical properties of the encoder
// hardware and the smoothing applied to it — shared by every sensor in a
// Pipeline, not a per-call parameter.
type Calibration struct {
	PulsesPerRotation int
	DebounceUs        int64
	WindowSecs        float64
	MinWindowSecs     float64
	FilterAlpha       float64
}

// DefaultCalibration returns the calibration the original source hard-coded.
func DefaultCalibration() Calibration {
	return Calibration{
		PulsesPerRotation: PulsesPerRotation,
		DebounceUs:        DebounceUs,
		WindowSecs:        WindowSecs,
		MinWindowSecs:     MinWindowSecs,
		FilterAlpha:       FilterAlpha,
	}
}

// Sample is a point-in-time snapshot of one sensor, returned by Read.
type Sample struct {
	SensorID        int
	Enabled         bool
	PulseCount      uint64
	RatePPS         float64
	FilteredRPM     float64
	LastPulseWallMs int64
}

type sensor struct {
	pin             gpio.Pin
	enabled         bool
	pulseCount      uint64
	lastEdgeTickUs  int64
	hasLastEdge     bool
	window          []int64 // accepted edge tick_us, strictly increasing
	instantRatePPS  float64
	filteredRPM     float64
	hasFiltered     bool
	lastPulseWallMs int64
	handle          gpio.InputHandle
}

// Pipeline owns every encoder sensor. now is injectable so tests can control
// the wall-clock timestamp attached to PulseObserved without sleeping.
type Pipeline struct {
	mu      sync.Mutex
	backend gpio.Backend
	bus     *eventbus.Bus
	ledger  *pinowner.Ledger
	cal     Calibration
	sensors map[int]*sensor
	now     func() time.Time
}

// New creates a Pipeline backed by backend, publishing to bus, claiming pins
// from ledger (shared with pwm.Registry), and calibrated per cal.
func New(backend gpio.Backend, bus *eventbus.Bus, ledger *pinowner.Ledger, cal Calibration) *Pipeline {
	return &Pipeline{
		backend: backend,
		bus:     bus,
		ledger:  ledger,
		cal:     cal,
		sensors: make(map[int]*sensor),
		now:     time.Now,
	}
}

// Enable opens pin as an edge-watched input and starts counting pulses for
// sensorID. Fails if the backend cannot open the pin or the pin is already
// claimed as a PWM output.
func (p *Pipeline) Enable(sensorID int, pin gpio.Pin) error {
	if sensorID < 1 {
		return merr.NewValidation("sensor_id", sensorID, "must be >= 1")
	}
	if pin < 0 || pin > 27 {
		return merr.NewValidation("pin", pin, "must be 0-27")
	}

	p.mu.Lock()
	if s, ok := p.sensors[sensorID]; ok && s.enabled {
		p.mu.Unlock()
		return merr.NewPrecondition(fmt.Sprintf("sensor %d is already enabled", sensorID))
	}
	p.mu.Unlock()

	if err := p.ledger.Claim(pin, pinowner.RoleEncoderInput); err != nil {
		return err
	}

	handle, err := p.backend.OpenInput(pin, func(ev gpio.EdgeEvent) {
		p.handleEdge(sensorID, ev)
	})
	if err != nil {
		p.ledger.Release(pin)
		return merr.NewResource("open input", err)
	}

	p.mu.Lock()
	p.sensors[sensorID] = &sensor{pin: pin, enabled: true, handle: handle}
	p.mu.Unlock()

	p.bus.Publish(eventbus.SensorState{SensorID: sensorID, Enabled: true})
	return nil
}

// Disable closes sensorID's input handle and stops counting, but preserves
// pulse_count and filtered_rpm — only Reset zeros those.
func (p *Pipeline) Disable(sensorID int) error {
	p.mu.Lock()
	s, ok := p.sensors[sensorID]
	if !ok || !s.enabled {
		p.mu.Unlock()
		return merr.NewPrecondition(fmt.Sprintf("sensor %d is not enabled", sensorID))
	}
	s.enabled = false
	handle := s.handle
	s.handle = nil
	pin := s.pin
	p.mu.Unlock()

	err := handle.Close()
	p.ledger.Release(pin)
	p.bus.Publish(eventbus.SensorState{SensorID: sensorID, Enabled: false})
	if err != nil {
		return merr.NewResource("close input", err)
	}
	return nil
}

// Reset zeros pulse_count, empties the rate window, and zeros filtered_rpm
// for sensorID. The sensor need not be enabled.
func (p *Pipeline) Reset(sensorID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sensors[sensorID]
	if !ok {
		return merr.NewPrecondition(fmt.Sprintf("sensor %d does not exist", sensorID))
	}
	s.pulseCount = 0
	s.window = nil
	s.hasLastEdge = false
	s.instantRatePPS = 0
	s.filteredRPM = 0
	s.hasFiltered = false
	return nil
}

// Read returns a snapshot of sensorID's current state.
func (p *Pipeline) Read(sensorID int) (Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sensors[sensorID]
	if !ok {
		return Sample{}, merr.NewPrecondition(fmt.Sprintf("sensor %d does not exist", sensorID))
	}
	return sampleOf(sensorID, s), nil
}

// Status returns a snapshot of every known sensor, sorted by sensor id.
func (p *Pipeline) Status() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]Sample, 0, len(p.sensors))
	for id, s := range p.sensors {
		result = append(result, sampleOf(id, s))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SensorID < result[j].SensorID })
	return result
}

func sampleOf(sensorID int, s *sensor) Sample {
	return Sample{
		SensorID:        sensorID,
		Enabled:         s.enabled,
		PulseCount:      s.pulseCount,
		RatePPS:         s.instantRatePPS,
		FilteredRPM:     s.filteredRPM,
		LastPulseWallMs: s.lastPulseWallMs,
	}
}

// FilteredRPM implements control.RateSource.
func (p *Pipeline) FilteredRPM(sensorID int) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sensors[sensorID]
	if !ok {
		return 0, false
	}
	return s.filteredRPM, true
}

// Enabled implements control.RateSource.
func (p *Pipeline) Enabled(sensorID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sensors[sensorID]
	return ok && s.enabled
}

// ResetFilteredRPM implements control.RateSource. Unlike Reset, it leaves
// pulse_count untouched — this is the narrower reset the controller performs
// on every rpm.start, not the operator-facing sensor.reset command.
func (p *Pipeline) ResetFilteredRPM(sensorID int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sensors[sensorID]; ok {
		s.filteredRPM = 0
		s.hasFiltered = false
		s.instantRatePPS = 0
		s.window = nil
		s.hasLastEdge = false
	}
}

// handleEdge runs the full per-edge algorithm. It is invoked directly from
// the backend's edge-watch goroutine and must stay well under the shortest
// expected inter-pulse interval — no blocking calls, no Event Bus publish
// while holding the lock.
func (p *Pipeline) handleEdge(sensorID int, ev gpio.EdgeEvent) {
	if !ev.Level {
		return // only rising edges carry a pulse
	}

	p.mu.Lock()
	s, ok := p.sensors[sensorID]
	if !ok || !s.enabled {
		p.mu.Unlock()
		return
	}

	if s.hasLastEdge && ev.TickUs-s.lastEdgeTickUs < p.cal.DebounceUs {
		p.mu.Unlock()
		return // bounce, reject
	}
	s.lastEdgeTickUs = ev.TickUs
	s.hasLastEdge = true
	s.pulseCount++

	s.window = append(s.window, ev.TickUs)
	cutoff := ev.TickUs - int64(p.cal.WindowSecs*1e6)
	evict := 0
	for evict < len(s.window) && s.window[evict] < cutoff {
		evict++
	}
	if evict > 0 {
		s.window = s.window[evict:]
	}

	if len(s.window) >= 2 {
		spanUs := s.window[len(s.window)-1] - s.window[0]
		if spanUs >= int64(p.cal.MinWindowSecs*1e6) {
			pps := float64(len(s.window)-1) / (float64(spanUs) / 1e6)
			instantRPM := (pps * 60) / float64(p.cal.PulsesPerRotation)
			if !s.hasFiltered {
				s.filteredRPM = instantRPM
				s.hasFiltered = true
			} else {
				s.filteredRPM = s.filteredRPM*(1-p.cal.FilterAlpha) + instantRPM*p.cal.FilterAlpha
			}
			s.instantRatePPS = pps
		}
	}
	// else: window too short, retain the previous filtered_rpm untouched.

	wallMs := p.now().UnixMilli()
	s.lastPulseWallMs = wallMs

	source := eventbus.SourceHardwareInterrupt
	if p.backend.Simulated() {
		source = eventbus.SourceSimulation
	}
	snapshot := eventbus.PulseObserved{
		SensorID:    sensorID,
		Pin:         int(s.pin),
		PulseCount:  s.pulseCount,
		RatePPS:     s.instantRatePPS,
		FilteredRPM: s.filteredRPM,
		WallMs:      wallMs,
		Source:      source,
	}
	p.mu.Unlock()

	p.bus.Publish(snapshot)
}
