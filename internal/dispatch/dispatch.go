// Package dispatch turns latched GPIO events into handler calls. A
// notification source (poller, sysfs wakeup, interrupt line) tells the
// dispatcher that something fired; the dispatcher acknowledges the event
// in hardware and then runs the handler registered for the pin.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
)

// Controller is the part of *gpio.Controller the dispatcher needs.
type Controller interface {
	Check(pin gpio.Pin) error
	Read(pin gpio.Pin) (gpio.Level, error)
	Trigger(pin gpio.Pin) (gpio.Trigger, error)
	Acknowledge(pin gpio.Pin) error
	Pending(pin gpio.Pin) (bool, error)
	PendingPins() []gpio.Pin
}

// Event is what a handler sees.
type Event struct {
	Pin     gpio.Pin
	Trigger gpio.Trigger
	// Level is sampled after the acknowledge. With TriggerBoth it is the
	// only hint of which edge fired.
	Level gpio.Level
	TS    time.Time
	// Ack clears the latched event. Handlers registered WithManualAck must
	// call it; for the others it has already been done and returns
	// gpioerr.ErrStaleAcknowledge unless the pin fired again meanwhile.
	Ack func() error
}

// Handler produces the application-visible effect of an event.
type Handler func(ev Event)

// Option adjusts a registration.
type Option func(*entry)

// WithManualAck leaves acknowledgement to the handler. A handler that never
// calls ev.Ack keeps the status bit latched: level triggers are then
// dispatched again on every pass, and edge triggers stop raising new
// notifications until something clears the bit.
func WithManualAck() Option {
	return func(e *entry) { e.manualAck = true }
}

// Exclusive makes Register fail with gpioerr.ErrPinClaimed instead of
// replacing a handler someone else installed.
func Exclusive() Option {
	return func(e *entry) { e.exclusive = true }
}

type entry struct {
	pin       gpio.Pin
	h         Handler
	manualAck bool
	exclusive bool
	busy      atomic.Bool
}

// Stats are cumulative counters.
type Stats struct {
	Dispatched uint64 // handler invocations
	Unhandled  uint64 // pending events with no handler, acknowledged and dropped
	Busy       uint64 // invocations skipped because the pin was still dispatching
	Drops      uint64 // Worker.Raise calls dropped on a full queue
}

// Dispatcher owns the pin -> handler table.
type Dispatcher struct {
	ctl Controller
	now func() time.Time

	mu       sync.RWMutex
	handlers map[gpio.Pin]*entry

	dispatched atomic.Uint64
	unhandled  atomic.Uint64
	busy       atomic.Uint64
	drops      atomic.Uint64
}

// New returns an empty dispatcher for ctl.
func New(ctl Controller) *Dispatcher {
	return &Dispatcher{
		ctl:      ctl,
		now:      time.Now,
		handlers: map[gpio.Pin]*entry{},
	}
}

// Register installs h for pin, replacing any previous handler unless the
// Exclusive option is given. The returned cancel removes it again (and is a
// no-op if it has since been replaced).
func (d *Dispatcher) Register(pin gpio.Pin, h Handler, opts ...Option) (func(), error) {
	if err := d.ctl.Check(pin); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, errors.New("dispatch: nil handler")
	}
	e := &entry{pin: pin, h: h}
	for _, o := range opts {
		o(e)
	}
	d.mu.Lock()
	if _, taken := d.handlers[pin]; taken && e.exclusive {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: gpio %d", gpioerr.ErrPinClaimed, pin)
	}
	d.handlers[pin] = e
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		if cur, ok := d.handlers[pin]; ok && cur == e {
			delete(d.handlers, pin)
		}
		d.mu.Unlock()
	}, nil
}

// Registered reports whether pin has a handler.
func (d *Dispatcher) Registered(pin gpio.Pin) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[pin]
	return ok
}

// Dispatch handles one notification for pin: acknowledge (unless the
// handler asked to do it), sample the level, run the handler. It returns
// false when no handler ran: none registered, or the pin is already being
// dispatched on another goroutine (its latched bit is left for next time).
//
// Dispatch does not require the status bit to be latched. It is meant for
// sources that already know the pin fired, such as a sysfs wakeup.
func (d *Dispatcher) Dispatch(pin gpio.Pin) (bool, error) {
	return d.dispatch(pin, false)
}

// dispatch runs pin's handler. With latched set the event must still be
// latched in hardware when the dispatcher gets to it: an automatic
// acknowledge that finds nothing, or a manual-ack pin whose bit is already
// clear, means another notifier consumed the event and the handler is
// skipped.
func (d *Dispatcher) dispatch(pin gpio.Pin, latched bool) (bool, error) {
	d.mu.RLock()
	e := d.handlers[pin]
	d.mu.RUnlock()
	if e == nil {
		err := d.ctl.Acknowledge(pin)
		stale := errors.Is(err, gpioerr.ErrStaleAcknowledge)
		if err != nil && !stale {
			return false, err
		}
		if !stale || !latched {
			d.unhandled.Add(1)
		}
		return false, nil
	}
	if !e.busy.CompareAndSwap(false, true) {
		d.busy.Add(1)
		return false, nil
	}
	defer e.busy.Store(false)

	ack := func() error { return d.ctl.Acknowledge(pin) }
	if e.manualAck {
		if latched {
			if p, err := d.ctl.Pending(pin); err != nil || !p {
				return false, err
			}
		}
	} else {
		err := ack()
		switch {
		case errors.Is(err, gpioerr.ErrStaleAcknowledge):
			if latched {
				return false, nil
			}
		case err != nil:
			return false, err
		}
	}
	lvl, err := d.ctl.Read(pin)
	if err != nil {
		return false, err
	}
	trig, _ := d.ctl.Trigger(pin)

	d.dispatched.Add(1)
	e.h(Event{Pin: pin, Trigger: trig, Level: lvl, TS: d.now(), Ack: ack})
	return true, nil
}

// Service scans the status registers once and dispatches every pending pin.
// It returns the number of handlers run. Pins whose event was consumed by a
// concurrent Service after the scan are skipped.
func (d *Dispatcher) Service() int {
	return d.servicePins(d.ctl.PendingPins())
}

func (d *Dispatcher) servicePins(pins []gpio.Pin) int {
	n := 0
	for _, pin := range pins {
		if ok, _ := d.dispatch(pin, true); ok {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Unhandled:  d.unhandled.Load(),
		Busy:       d.busy.Load(),
		Drops:      d.drops.Load(),
	}
}
