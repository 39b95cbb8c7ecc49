// Package notify tells a dispatcher when pins may have fired. Nothing here
// touches registers directly.
package notify

import (
	"context"
	"log"
	"time"
)

// Servicer is satisfied by *dispatch.Dispatcher.
type Servicer interface {
	Service() int
}

// Poller scans the event status registers on a fixed interval.
type Poller struct {
	Dispatcher Servicer
	Interval   time.Duration
	// Logger, when set, receives a line for every pass that ran handlers.
	Logger *log.Logger
}

// DefaultInterval is used when Poller.Interval is zero.
const DefaultInterval = 10 * time.Millisecond

// Run polls until ctx is done and returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	iv := p.Interval
	if iv <= 0 {
		iv = DefaultInterval
	}
	t := time.NewTicker(iv)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n := p.Dispatcher.Service(); n > 0 && p.Logger != nil {
				p.Logger.Printf("poll: dispatched %d", n)
			}
		}
	}
}
