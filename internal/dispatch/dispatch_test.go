package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
	"pinctl/internal/gpiosim"
	"pinctl/internal/pinmap"
)

func newRig(t *testing.T) (*gpio.Controller, *gpiosim.Chip, *Dispatcher) {
	t.Helper()
	chip, err := gpiosim.New(pinmap.BCM2837)
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := gpio.Open(chip, pinmap.BCM2837)
	if err != nil {
		t.Fatal(err)
	}
	return ctl, chip, New(ctl)
}

// Button on gpio26 (falling edge, external pull-up) lights the LED on gpio22.
func TestFallingEdgeLightsLED(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctl, chip, d := newRig(t)

	_ = ctl.SetDirection(22, gpio.Output)
	_ = ctl.Write(22, gpio.Low)
	_ = ctl.SetDirection(26, gpio.Input)
	_ = chip.Drive(26, gpio.High)
	if err := ctl.Arm(26, gpio.TriggerFalling); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(d, 8)
	w.Start(ctx)
	chip.OnInterrupt(w.Raise)

	var calls atomic.Int32
	fired := make(chan Event, 4)
	cancelReg, err := d.Register(26, func(ev Event) {
		calls.Add(1)
		_ = ctl.Write(22, gpio.High)
		fired <- ev
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer cancelReg()

	_ = chip.Drive(26, gpio.Low)

	select {
	case ev := <-fired:
		if ev.Pin != 26 || ev.Trigger != gpio.TriggerFalling || ev.Level != gpio.Low {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for falling edge dispatch")
	}
	time.Sleep(20 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Fatalf("dispatched %d times", n)
	}
	if l, _ := ctl.Read(22); l != gpio.High {
		t.Fatal("LED not lit")
	}
	if p, _ := ctl.Pending(26); p {
		t.Fatal("event left latched")
	}
}

func TestDispatchAcknowledgesBeforeHandler(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = ctl.Arm(5, gpio.TriggerRising)
	_ = chip.Drive(5, gpio.High)

	var pendingInHandler bool
	_, _ = d.Register(5, func(ev Event) {
		pendingInHandler, _ = ctl.Pending(5)
		if err := ev.Ack(); !errors.Is(err, gpioerr.ErrStaleAcknowledge) {
			t.Errorf("Ack after auto-ack: %v", err)
		}
	})
	if n := d.Service(); n != 1 {
		t.Fatalf("Service ran %d handlers", n)
	}
	if pendingInHandler {
		t.Fatal("handler ran with the event still latched")
	}
}

func TestSkippedAckOnLevelTriggerRedispatches(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(12, gpio.Low)
	_ = ctl.Arm(12, gpio.TriggerLow)

	calls := 0
	_, _ = d.Register(12, func(Event) { calls++ }, WithManualAck())

	for i := 0; i < 5; i++ {
		d.Service()
	}
	if calls != 5 {
		t.Fatalf("stale level event dispatched %d times, want 5", calls)
	}
	if p, _ := ctl.Pending(12); !p {
		t.Fatal("status bit should still be latched")
	}
}

func TestAckedLevelTriggerRefiresWhileHeld(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(12, gpio.High)
	_ = ctl.Arm(12, gpio.TriggerHigh)

	calls := 0
	_, _ = d.Register(12, func(Event) { calls++ })
	for i := 0; i < 3; i++ {
		d.Service()
	}
	if calls != 3 {
		t.Fatalf("held level dispatched %d times, want 3", calls)
	}
	_ = chip.Drive(12, gpio.Low)
	d.Service() // clears the last latched bit
	if n := d.Service(); n != 0 {
		t.Fatalf("dispatched %d after level released", n)
	}
}

func TestSkippedAckOnEdgeTriggerLooksDisarmed(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(26, gpio.High)
	_ = ctl.Arm(26, gpio.TriggerFalling)

	raised := 0
	chip.OnInterrupt(func() { raised++ })
	calls := 0
	var last Event
	_, _ = d.Register(26, func(ev Event) { calls++; last = ev }, WithManualAck())

	press := func() {
		_ = chip.Drive(26, gpio.Low)
		_ = chip.Drive(26, gpio.High)
	}

	press()
	if raised != 1 {
		t.Fatalf("raised=%d", raised)
	}
	if ok, _ := d.Dispatch(26); !ok {
		t.Fatal("first press not dispatched")
	}

	// Without an acknowledge, further presses never reach the interrupt line.
	for i := 0; i < 3; i++ {
		press()
	}
	if raised != 1 || calls != 1 {
		t.Fatalf("raised=%d calls=%d after unacknowledged presses", raised, calls)
	}

	if err := last.Ack(); err != nil {
		t.Fatalf("manual ack: %v", err)
	}
	press()
	if raised != 2 {
		t.Fatalf("raised=%d after clearing the stale bit", raised)
	}
}

func TestUnhandledPendingIsAcknowledged(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = ctl.Arm(3, gpio.TriggerRising)
	_ = chip.Drive(3, gpio.High)

	if n := d.Service(); n != 0 {
		t.Fatalf("ran %d handlers", n)
	}
	if p, _ := ctl.Pending(3); p {
		t.Fatal("unhandled event left latched")
	}
	if st := d.Stats(); st.Unhandled != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestRegisterRejectsBadPin(t *testing.T) {
	_, _, d := newRig(t)
	if _, err := d.Register(54, func(Event) {}); !errors.Is(err, gpioerr.ErrOutOfRange) {
		t.Fatalf("got %v", err)
	}
	if _, err := d.Register(1, nil); err == nil {
		t.Fatal("nil handler accepted")
	}
}

func TestCancelOnlyRemovesOwnRegistration(t *testing.T) {
	_, _, d := newRig(t)
	cancel1, _ := d.Register(7, func(Event) {})
	_, _ = d.Register(7, func(Event) {})
	cancel1()
	if !d.Registered(7) {
		t.Fatal("stale cancel removed the replacement handler")
	}
}

func TestExclusiveRegisterKeepsExistingHandler(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = ctl.Arm(7, gpio.TriggerRising)

	owner := 0
	cancel, _ := d.Register(7, func(Event) { owner++ })
	if _, err := d.Register(7, func(Event) {}, Exclusive()); !errors.Is(err, gpioerr.ErrPinClaimed) {
		t.Fatalf("exclusive register on a taken pin: %v", err)
	}
	_ = chip.Drive(7, gpio.High)
	d.Service()
	if owner != 1 {
		t.Fatalf("owner handler ran %d times", owner)
	}

	cancel()
	cancel2, err := d.Register(7, func(Event) {}, Exclusive())
	if err != nil {
		t.Fatalf("exclusive register on a free pin: %v", err)
	}
	cancel2()
}

// Two notifiers that scanned before either dispatched must not both run the
// handler for the one latched edge.
func TestServiceRunsOnceForOneEdgeAcrossSnapshots(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(26, gpio.High)
	_ = ctl.Arm(26, gpio.TriggerFalling)

	calls := 0
	_, _ = d.Register(26, func(Event) { calls++ })
	_ = chip.Drive(26, gpio.Low)

	first := ctl.PendingPins()
	second := ctl.PendingPins()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("snapshots %v %v", first, second)
	}
	if n := d.servicePins(first); n != 1 {
		t.Fatalf("first pass ran %d", n)
	}
	if n := d.servicePins(second); n != 0 {
		t.Fatalf("second pass ran %d", n)
	}
	if calls != 1 {
		t.Fatalf("one edge, handler calls = %d", calls)
	}
	if st := d.Stats(); st.Dispatched != 1 || st.Unhandled != 0 {
		t.Fatalf("stats %+v", st)
	}
}

func TestServiceSkipsManualAckPinClearedAfterScan(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(26, gpio.High)
	_ = ctl.Arm(26, gpio.TriggerFalling)

	calls := 0
	var last Event
	_, _ = d.Register(26, func(ev Event) { calls++; last = ev }, WithManualAck())
	_ = chip.Drive(26, gpio.Low)

	first := ctl.PendingPins()
	second := ctl.PendingPins()
	d.servicePins(first)
	if err := last.Ack(); err != nil {
		t.Fatalf("manual ack: %v", err)
	}
	if n := d.servicePins(second); n != 0 || calls != 1 {
		t.Fatalf("n=%d calls=%d after the bit was cleared", n, calls)
	}
}

func TestConcurrentServiceDispatchesEachEdgeOnce(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = chip.Drive(26, gpio.High)
	_ = ctl.Arm(26, gpio.TriggerFalling)

	var calls atomic.Int32
	_, _ = d.Register(26, func(Event) { calls.Add(1) })

	for i := 0; i < 200; i++ {
		_ = chip.Drive(26, gpio.Low)
		var wg sync.WaitGroup
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Service()
			}()
		}
		wg.Wait()
		_ = chip.Drive(26, gpio.High)
		if n := calls.Load(); n != int32(i+1) {
			t.Fatalf("edge %d: handler calls = %d", i, n)
		}
	}
}

func TestPinIsNotReentered(t *testing.T) {
	ctl, chip, d := newRig(t)
	_ = ctl.Arm(8, gpio.TriggerRising)

	inHandler := make(chan struct{})
	release := make(chan struct{})
	_, _ = d.Register(8, func(Event) {
		inHandler <- struct{}{}
		<-release
	})

	_ = chip.Drive(8, gpio.High)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Dispatch(8)
	}()
	<-inHandler

	if ok, _ := d.Dispatch(8); ok {
		t.Fatal("second dispatch entered a busy pin")
	}
	close(release)
	wg.Wait()
	if st := d.Stats(); st.Busy != 1 || st.Dispatched != 1 {
		t.Fatalf("stats %+v", st)
	}
}

func TestDistinctPinsDispatchConcurrently(t *testing.T) {
	ctl, chip, d := newRig(t)
	var got sync.Map
	for p := gpio.Pin(0); p < 16; p++ {
		_ = ctl.Arm(p, gpio.TriggerRising)
		p := p
		_, _ = d.Register(p, func(Event) { got.Store(p, true) })
	}
	var wg sync.WaitGroup
	for p := gpio.Pin(0); p < 16; p++ {
		wg.Add(1)
		go func(p gpio.Pin) {
			defer wg.Done()
			_ = chip.Drive(p, gpio.High)
			_, _ = d.Dispatch(p)
			_ = ctl.SetDirection(p+20, gpio.Output)
		}(p)
	}
	wg.Wait()
	for p := gpio.Pin(0); p < 16; p++ {
		if _, ok := got.Load(p); !ok {
			t.Fatalf("gpio %d not dispatched", p)
		}
		if dir, _ := ctl.Direction(p + 20); dir != gpio.Output {
			t.Fatalf("gpio %d direction lost", p+20)
		}
	}
}

func TestWorkerCountsDrops(t *testing.T) {
	_, _, d := newRig(t)
	w := NewWorker(d, 1)
	// Not started: the second raise finds the queue full.
	w.Raise()
	w.Raise()
	if st := d.Stats(); st.Drops != 1 {
		t.Fatalf("drops = %d", st.Drops)
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, d := newRig(t)
	w := NewWorker(d, 0)
	w.Start(ctx)
	cancel()
	select {
	case <-w.Stopped():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
