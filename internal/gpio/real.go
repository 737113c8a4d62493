//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	periphgpio "periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// RealBackend drives actual hardware: go-gpiocdev for edge-watched inputs
// (same character-device chip the teacher used for polling reads) and
// periph.io for PWM-capable outputs.
type RealBackend struct {
	chip *gpiocdev.Chip
}

// NewRealBackend opens the Linux GPIO chip and initializes the periph.io
// host drivers. Returns ErrUnavailable (never a bare OS error) so callers
// can pattern-match the fallback-to-simulation path.
func NewRealBackend() (*RealBackend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrUnavailable, err)
	}

	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("%w: open gpio chip: %v", ErrUnavailable, err)
	}

	return &RealBackend{chip: chip}, nil
}

func (b *RealBackend) Name() string    { return "gpiocdev+periph" }
func (b *RealBackend) Simulated() bool { return false }

// OpenOutput requests pin from the periph.io pin registry and returns a
// handle that drives it as hardware PWM.
func (b *RealBackend) OpenOutput(pin Pin) (OutputHandle, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("%w: pin GPIO%d not found in periph registry", ErrUnavailable, pin)
	}
	pwmPin, ok := p.(pwmCapablePin)
	if !ok {
		return nil, fmt.Errorf("%w: pin GPIO%d does not support PWM", ErrUnavailable, pin)
	}
	return &realOutput{pin: pwmPin}, nil
}

// pwmCapablePin is the subset of periph.io pin interfaces needed to both
// drive PWM and park the pin low on close.
type pwmCapablePin interface {
	periphgpio.PinIO
	periphgpio.PinPWM
}

// OpenInput requests pin as an input line with edge detection via the
// character-device chip, invoking onEdge from the kernel-notified watch
// goroutine go-gpiocdev maintains internally.
func (b *RealBackend) OpenInput(pin Pin, onEdge func(EdgeEvent)) (InputHandle, error) {
	line, err := b.chip.RequestLine(int(pin),
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			onEdge(EdgeEvent{
				Level:  evt.Type == gpiocdev.LineEventRisingEdge,
				TickUs: evt.Timestamp.Nanoseconds() / 1000,
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: request input pin %d: %v", ErrUnavailable, pin, err)
	}
	return &realInput{line: line}, nil
}

// Close releases the chip handle. Individual output/input handles must be
// closed by their owners first.
func (b *RealBackend) Close() error {
	if b.chip == nil {
		return nil
	}
	return b.chip.Close()
}

type realOutput struct {
	pin       pwmCapablePin
	frequency physic.Frequency
	closed    bool
}

func (o *realOutput) SetFrequency(hz int) error {
	if o.closed {
		return ErrClosed
	}
	o.frequency = physic.Frequency(hz) * physic.Hertz
	return nil
}

func (o *realOutput) WriteDuty(duty int) error {
	if o.closed {
		return ErrClosed
	}
	freq := o.frequency
	if freq == 0 {
		freq = 1000 * physic.Hertz
	}
	d := periphgpio.Duty(duty * int(periphgpio.DutyMax) / 255)
	if err := o.pin.PWM(d, freq.Duration()); err != nil {
		return fmt.Errorf("write duty: %w", err)
	}
	return nil
}

func (o *realOutput) Close() error {
	o.closed = true
	return o.pin.Out(periphgpio.Low)
}

type realInput struct {
	line *gpiocdev.Line
}

func (i *realInput) Close() error {
	return i.line.Close()
}
