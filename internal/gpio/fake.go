package gpio

import "sync"

// FakeBackend is a test/simulation double. Output writes are recorded but
// have no physical effect; input edges are never spontaneous — tests drive
// them through InjectEdge.
type FakeBackend struct {
	mu      sync.Mutex
	outputs map[Pin]*fakeOutput
	inputs  map[Pin]*fakeInput
}

// NewFakeBackend creates an empty simulation backend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		outputs: make(map[Pin]*fakeOutput),
		inputs:  make(map[Pin]*fakeInput),
	}
}

func (b *FakeBackend) Name() string     { return "simulation" }
func (b *FakeBackend) Simulated() bool  { return true }
func (b *FakeBackend) Close() error     { return nil }

func (b *FakeBackend) OpenOutput(pin Pin) (OutputHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := &fakeOutput{backend: b, pin: pin}
	b.outputs[pin] = out
	return out, nil
}

func (b *FakeBackend) OpenInput(pin Pin, onEdge func(EdgeEvent)) (InputHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	in := &fakeInput{backend: b, pin: pin, onEdge: onEdge}
	b.inputs[pin] = in
	return in, nil
}

// InjectEdge delivers a synthetic edge to pin's registered callback, if the
// pin is currently open as an input. Used by tests to drive the Encoder
// Pipeline without hardware.
func (b *FakeBackend) InjectEdge(pin Pin, ev EdgeEvent) {
	b.mu.Lock()
	in, ok := b.inputs[pin]
	b.mu.Unlock()
	if !ok || in.closed {
		return
	}
	in.onEdge(ev)
}

// LastDuty returns the most recent duty cycle written to pin, and whether
// pin has ever been opened as an output.
func (b *FakeBackend) LastDuty(pin Pin) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out, ok := b.outputs[pin]
	if !ok {
		return 0, false
	}
	return out.duty, true
}

type fakeOutput struct {
	backend   *FakeBackend
	pin       Pin
	duty      int
	frequency int
	closed    bool
}

func (o *fakeOutput) SetFrequency(hz int) error {
	if o.closed {
		return ErrClosed
	}
	o.frequency = hz
	return nil
}

func (o *fakeOutput) WriteDuty(duty int) error {
	if o.closed {
		return ErrClosed
	}
	o.duty = duty
	return nil
}

func (o *fakeOutput) Close() error {
	o.closed = true
	return nil
}

type fakeInput struct {
	backend *FakeBackend
	pin     Pin
	onEdge  func(EdgeEvent)
	closed  bool
}

func (i *fakeInput) Close() error {
	i.closed = true
	i.backend.mu.Lock()
	delete(i.backend.inputs, i.pin)
	i.backend.mu.Unlock()
	return nil
}
