// Package pinowner enforces the single data-model invariant that spans both
// the PWM Registry and the Encoder Pipeline: a GPIO pin is unused, owned as
// a PWM output, or owned as an encoder input — never both at once. Both
// packages claim through the same Ledger instance so the check actually
// holds across package boundaries instead of each package only checking its
// own map.
package pinowner

import (
	"fmt"
	"sync"

	"github.com/Tornadosky/server-pi/internal/gpio"
	"github.com/Tornadosky/server-pi/internal/merr"
)

// Role identifies what a claimed pin is being used for.
type Role int

const (
	RolePWMOutput Role = iota
	RoleEncoderInput
)

func (r Role) String() string {
	if r == RolePWMOutput {
		return "pwm output"
	}
	return "encoder input"
}

// Ledger tracks the current role of every claimed pin.
type Ledger struct {
	mu     sync.Mutex
	owners map[gpio.Pin]Role
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{owners: make(map[gpio.Pin]Role)}
}

// Claim records pin as owned by role. Re-claiming with the same role is a
// no-op (covers repeated pwm.Set calls); claiming with a different role than
// the current owner is rejected.
func (l *Ledger) Claim(pin gpio.Pin, role Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.owners[pin]; ok && existing != role {
		return merr.NewConflict(fmt.Sprintf("pin %d already owned as %s, cannot claim as %s", pin, existing, role))
	}
	l.owners[pin] = role
	return nil
}

// Release frees pin so it can be claimed under a different role.
func (l *Ledger) Release(pin gpio.Pin) {
	l.mu.Lock()
	delete(l.owners, pin)
	l.mu.Unlock()
}
