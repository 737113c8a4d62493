// Package gpio provides GPIO output (PWM) and input (edge-interrupt)
// capabilities with hardware abstraction. The real implementation drives
// Linux GPIO character devices; the fake implementation lets the rest of the
// core run, and be tested, without hardware.
package gpio

import "errors"

// Pin identifies a GPIO line using BCM numbering (valid range 0-27 on the
// target board). Range validation is the caller's responsibility (pwm.Registry
// and encoder.Pipeline validate before ever reaching a Backend).
type Pin int

// EdgeEvent is delivered to an input handle's callback on every electrical
// edge the backend reports.
type EdgeEvent struct {
	Level  bool // true = rising
	TickUs int64
}

// ErrClosed is returned when a handle is used after Close. Per the core's
// failure semantics this is a programmer error, not a recoverable one.
var ErrClosed = errors.New("gpio: use of closed handle")

// ErrUnavailable is returned by NewRealBackend when the native driver cannot
// be opened (missing chip, permissions, not Linux).
var ErrUnavailable = errors.New("gpio: native driver unavailable")

// OutputHandle drives one PWM-capable output line.
type OutputHandle interface {
	SetFrequency(hz int) error
	WriteDuty(duty int) error
	Close() error
}

// InputHandle owns one edge-watched input line. Close stops edge delivery.
type InputHandle interface {
	Close() error
}

// Backend is the hardware abstraction both the PWM Registry and the Encoder
// Pipeline are built against. A pin is opened as either an output or an
// input, never both at once — enforcing that is the caller's job (see
// merr.Conflict in pwm and encoder).
type Backend interface {
	// Name identifies the backend for status reporting ("gpiocdev+periph" or
	// "simulation").
	Name() string

	// Simulated reports whether writes have any physical effect.
	Simulated() bool

	// OpenOutput requests pin as a PWM output.
	OpenOutput(pin Pin) (OutputHandle, error)

	// OpenInput requests pin as a pulled-up input with edge detection.
	// onEdge is invoked from the backend's own edge-watch goroutine for every
	// rising and falling transition; it must return quickly.
	OpenInput(pin Pin, onEdge func(EdgeEvent)) (InputHandle, error)

	// Close releases any backend-wide resources (e.g. the chip handle).
	// Individual pin handles should be closed first.
	Close() error
}
