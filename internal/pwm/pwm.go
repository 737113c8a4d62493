// Package pwm implements the PWM Registry: the single point of truth for
// which GPIO pins are currently driving PWM output, their duty cycle and
// frequency, validated and applied (or simulated) through a gpio.Backend.
package pwm

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Tornadosky/server-pi/internal/eventbus"
	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/merr"
	"github.com/Tornadosky/server-pi/internal/pinowner"
)

// defaultFrequencyHz is used when the controller writes duty to a pin that
// was never explicitly configured with pwm.Set.
const defaultFrequencyHz = 1000

// Entry is a point-in-time view of one active PWM pin.
type Entry struct {
	Pin         gpio.Pin
	DutyCycle   int
	FrequencyHz int
	Enabled     bool
}

type trackedEntry struct {
	Entry
	handle gpio.OutputHandle
}

// Registry tracks active PWM output pins and actuates them through a
// gpio.Backend. A Pin exists in the Registry iff it currently drives an
// output — enforced by Set/Stop below.
type Registry struct {
	mu      sync.Mutex
	backend gpio.Backend
	bus     *eventbus.Bus
	ledger  *pinowner.Ledger
	entries map[gpio.Pin]*trackedEntry
}

// New creates a Registry backed by backend, publishing updates on bus and
// claiming pins from ledger. ledger is shared with encoder.Pipeline so a pin
// cannot be both a PWM output and an encoder input at once.
func New(backend gpio.Backend, bus *eventbus.Bus, ledger *pinowner.Ledger) *Registry {
	return &Registry{
		backend: backend,
		bus:     bus,
		ledger:  ledger,
		entries: make(map[gpio.Pin]*trackedEntry),
	}
}

// Set validates and applies a PWM configuration, opening the output on
// first use. Idempotent: an identical repeated call makes no backend calls
// and does not re-publish. When enabled is false, the line is driven low
// but the entry is retained so frequency/enabled can be flipped back on.
func (r *Registry) Set(pin gpio.Pin, duty, frequency int, enabled bool) error {
	if pin < 0 || pin > 27 {
		return merr.NewValidation("pin", pin, "must be 0-27")
	}
	if duty < 0 || duty > 255 {
		return merr.NewValidation("duty", duty, "must be 0-255")
	}
	if frequency < 1 || frequency > 8000 {
		return merr.NewValidation("frequency", frequency, "must be 1-8000")
	}

	r.mu.Lock()
	e, ok := r.entries[pin]
	if !ok {
		r.mu.Unlock()
		if err := r.ledger.Claim(pin, pinowner.RolePWMOutput); err != nil {
			return err
		}
		handle, err := r.backend.OpenOutput(pin)
		if err != nil {
			r.ledger.Release(pin)
			return merr.NewResource("open output", err)
		}
		r.mu.Lock()
		e = &trackedEntry{handle: handle}
		e.Pin = pin
		r.entries[pin] = e
	}

	effectiveDuty := duty
	if !enabled {
		effectiveDuty = 0
	}

	if ok && e.Enabled == enabled && e.DutyCycle == effectiveDuty && e.FrequencyHz == frequency {
		r.mu.Unlock()
		return nil
	}

	if err := e.handle.SetFrequency(frequency); err != nil {
		r.mu.Unlock()
		return merr.NewResource("set frequency", err)
	}
	if err := e.handle.WriteDuty(effectiveDuty); err != nil {
		r.mu.Unlock()
		return merr.NewResource("write duty", err)
	}

	e.DutyCycle = effectiveDuty
	e.FrequencyHz = frequency
	e.Enabled = enabled
	snapshot := e.Entry
	r.mu.Unlock()

	r.bus.Publish(eventbus.PwmUpdated{
		Pin:       int(snapshot.Pin),
		Duty:      snapshot.DutyCycle,
		Frequency: snapshot.FrequencyHz,
		WallTime:  time.Now(),
	})
	return nil
}

// WriteDuty applies duty to pin using its already-configured frequency (or
// defaultFrequencyHz if the pin has never been configured). This is the
// narrow capability control.Controller is given at construction — it never
// sees the rest of the Registry's surface.
func (r *Registry) WriteDuty(pin gpio.Pin, duty int) error {
	r.mu.Lock()
	e, ok := r.entries[pin]
	freq := defaultFrequencyHz
	if ok && e.FrequencyHz != 0 {
		freq = e.FrequencyHz
	}
	r.mu.Unlock()

	return r.Set(pin, duty, freq, duty > 0)
}

// Stop drives pin low and releases its entry. Returns a Precondition error
// if pin is not currently active.
func (r *Registry) Stop(pin gpio.Pin) error {
	r.mu.Lock()
	e, ok := r.entries[pin]
	if !ok {
		r.mu.Unlock()
		return merr.NewPrecondition(fmt.Sprintf("pin %d is not active", pin))
	}
	delete(r.entries, pin)
	r.mu.Unlock()

	writeErr := e.handle.WriteDuty(0)
	closeErr := e.handle.Close()
	r.ledger.Release(pin)

	r.bus.Publish(eventbus.PwmUpdated{Pin: int(pin), Duty: 0, Frequency: e.FrequencyHz, WallTime: time.Now()})

	if writeErr != nil {
		return merr.NewResource("write duty", writeErr)
	}
	if closeErr != nil {
		return merr.NewResource("close output", closeErr)
	}
	return nil
}

// StopAll drives every active pin low and releases it, returning the pins
// that were active (sorted for deterministic status/log output).
func (r *Registry) StopAll() []gpio.Pin {
	r.mu.Lock()
	pins := make([]gpio.Pin, 0, len(r.entries))
	for pin := range r.entries {
		pins = append(pins, pin)
	}
	r.mu.Unlock()

	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })

	for _, pin := range pins {
		if err := r.Stop(pin); err != nil {
			log.Printf("pwm: stop_all: pin %d: %v", pin, err)
		}
	}
	return pins
}

// Status returns a snapshot of every active entry, sorted by pin.
func (r *Registry) Status() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e.Entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Pin < result[j].Pin })
	return result
}
