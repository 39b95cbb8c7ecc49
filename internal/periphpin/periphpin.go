// Package periphpin exposes controller pins through periph.io's gpio.PinIO
// so code written against periph (drivers, gpioreg lookups) runs on top of
// the register-level controller and dispatcher.
package periphpin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"pinctl/internal/dispatch"
	hw "pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
)

// DefaultPrefix names registered pins PINCTL0, PINCTL1, ... so they do not
// collide with the names periph's own host drivers register.
const DefaultPrefix = "PINCTL"

// Pin is one controller pin as a periph gpio.PinIO.
type Pin struct {
	ctl  *hw.Controller
	d    *dispatch.Dispatcher
	num  hw.Pin
	name string

	mu     sync.Mutex
	cancel func()
	edges  chan struct{}
}

var (
	_ gpio.PinIO  = (*Pin)(nil)
	_ pin.PinFunc = (*Pin)(nil)
)

// New wraps pin n. Edge waits only wake up if something feeds d
// (a Poller, a Worker on the interrupt line, or explicit Service calls).
func New(ctl *hw.Controller, d *dispatch.Dispatcher, n hw.Pin, prefix string) (*Pin, error) {
	if err := ctl.Check(n); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Pin{
		ctl:   ctl,
		d:     d,
		num:   n,
		name:  fmt.Sprintf("%s%d", prefix, n),
		edges: make(chan struct{}, 1),
	}, nil
}

// RegisterAll wraps every pin of ctl and registers it with gpioreg. On error
// the pins registered so far are returned for UnregisterAll.
func RegisterAll(ctl *hw.Controller, d *dispatch.Dispatcher, prefix string) ([]*Pin, error) {
	out := make([]*Pin, 0, ctl.Pins())
	for n := 0; n < ctl.Pins(); n++ {
		p, err := New(ctl, d, hw.Pin(n), prefix)
		if err != nil {
			return out, err
		}
		if err := gpioreg.Register(p); err != nil {
			return out, fmt.Errorf("register %s: %w", p.name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// UnregisterAll halts pins and removes them from gpioreg, which is
// process-global and would otherwise keep pointing at a closed controller.
func UnregisterAll(pins []*Pin) error {
	var errs []error
	for _, p := range pins {
		_ = p.Halt()
		if err := gpioreg.Unregister(p.name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pin) String() string { return p.name }
func (p *Pin) Name() string   { return p.name }
func (p *Pin) Number() int    { return int(p.num) }

// Halt disarms event detection and drops the edge handler installed by In.
func (p *Pin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopEdgesLocked()
}

// Function is the deprecated string form of Func.
func (p *Pin) Function() string { return string(p.Func()) }

// Func reports IN/OUT for plain GPIO and ALTn for peripheral functions.
func (p *Pin) Func() pin.Func {
	fn, err := p.ctl.Function(p.num)
	if err != nil {
		return pin.FuncNone
	}
	switch fn.Direction() {
	case hw.Input:
		return gpio.IN
	case hw.Output:
		return gpio.OUT
	}
	return pin.Func(fn.String())
}

// SupportedFuncs lists the plain GPIO functions this adapter can set.
func (p *Pin) SupportedFuncs() []pin.Func { return []pin.Func{gpio.IN, gpio.OUT} }

// SetFunc switches between input and output.
func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT:
		return p.ctl.SetDirection(p.num, hw.Output)
	}
	return fmt.Errorf("%w: %s on %s", gpioerr.ErrUnsupported, f, p.name)
}

// In makes the pin an input and arms edge detection. The controller has no
// pull resistor control, so only PullNoChange and Float are accepted. A pin
// whose events are already handled elsewhere on the dispatcher is left
// untouched and gpioerr.ErrPinClaimed is returned.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return fmt.Errorf("%w: pull %s on %s", gpioerr.ErrUnsupported, pull, p.name)
	}
	var t hw.Trigger
	switch edge {
	case gpio.NoEdge:
		t = hw.TriggerNone
	case gpio.RisingEdge:
		t = hw.TriggerRising
	case gpio.FallingEdge:
		t = hw.TriggerFalling
	case gpio.BothEdges:
		t = hw.TriggerBoth
	default:
		return fmt.Errorf("%w: edge %s", gpioerr.ErrInvalidTrigger, edge)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		if t == hw.TriggerNone {
			if p.d.Registered(p.num) {
				return fmt.Errorf("%w: %s", gpioerr.ErrPinClaimed, p.name)
			}
		} else {
			cancel, err := p.d.Register(p.num, p.onEvent, dispatch.Exclusive())
			if err != nil {
				return fmt.Errorf("%s: %w", p.name, err)
			}
			p.cancel = cancel
		}
	}
	if err := p.ctl.SetDirection(p.num, hw.Input); err != nil {
		return err
	}
	if t == hw.TriggerNone {
		return p.stopEdgesLocked()
	}
	// Forget anything seen under the previous configuration.
	select {
	case <-p.edges:
	default:
	}
	return p.ctl.Arm(p.num, t)
}

func (p *Pin) onEvent(dispatch.Event) {
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

// stopEdgesLocked only disarms pins this adapter armed.
func (p *Pin) stopEdgesLocked() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	return p.ctl.Disarm(p.num)
}

// Read returns the current level.
func (p *Pin) Read() gpio.Level {
	l, _ := p.ctl.Read(p.num)
	return l == hw.High
}

// WaitForEdge waits for an edge armed by In. A negative timeout waits
// forever. Edges that arrive while nobody waits collapse into one.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	if timeout < 0 {
		<-p.edges
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.edges:
		return true
	case <-t.C:
		return false
	}
}

// Pull is unknown: the controller cannot read back pull state.
func (p *Pin) Pull() gpio.Pull        { return gpio.PullNoChange }
func (p *Pin) DefaultPull() gpio.Pull { return gpio.PullNoChange }

// Out makes the pin an output driven to l.
func (p *Pin) Out(l gpio.Level) error {
	lvl := hw.Low
	if l {
		lvl = hw.High
	}
	// Latch the level before switching direction so the pin never glitches.
	if err := p.ctl.Write(p.num, lvl); err != nil {
		return err
	}
	return p.ctl.SetDirection(p.num, hw.Output)
}

// PWM is not available on plain GPIO.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return fmt.Errorf("%w: pwm on %s", gpioerr.ErrUnsupported, p.name)
}
