package dispatch

import "context"

// Worker moves dispatching off the notification path. Raise may be called
// from an interrupt-line callback or any goroutine; it never blocks. Each
// accepted raise runs one Service pass on the worker goroutine.
type Worker struct {
	d       *Dispatcher
	irqQ    chan struct{}
	stopped chan struct{}
}

// NewWorker returns a worker with a raise queue of buf entries.
func NewWorker(d *Dispatcher, buf int) *Worker {
	if buf <= 0 {
		buf = 64
	}
	return &Worker{
		d:       d,
		irqQ:    make(chan struct{}, buf),
		stopped: make(chan struct{}),
	}
}

// Start runs the worker until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.irqQ:
				w.d.Service()
			}
		}
	}()
}

// Raise queues a service pass. A full queue already guarantees a pass that
// will observe the latched bits, so the raise is counted and dropped.
func (w *Worker) Raise() {
	select {
	case w.irqQ <- struct{}{}:
	default:
		w.d.drops.Add(1)
	}
}

// Stopped is closed once the worker goroutine has exited.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }
