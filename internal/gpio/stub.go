//go:build !linux

package gpio

import "fmt"

// RealBackend is not available on non-Linux platforms; NewRealBackend always
// falls back, which is exactly the behavior §4.A asks for off-target.
type RealBackend struct{}

// NewRealBackend returns ErrUnavailable on non-Linux platforms.
func NewRealBackend() (*RealBackend, error) {
	return nil, fmt.Errorf("%w: requires Linux", ErrUnavailable)
}

func (b *RealBackend) Name() string    { return "gpiocdev+periph" }
func (b *RealBackend) Simulated() bool { return false }

func (b *RealBackend) OpenOutput(pin Pin) (OutputHandle, error) {
	return nil, ErrUnavailable
}

func (b *RealBackend) OpenInput(pin Pin, onEdge func(EdgeEvent)) (InputHandle, error) {
	return nil, ErrUnavailable
}

func (b *RealBackend) Close() error { return nil }
