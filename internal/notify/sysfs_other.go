//go:build !linux

package notify

import (
	"context"
	"log"

	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
)

type Dispatcher interface {
	Dispatch(pin gpio.Pin) (bool, error)
}

// SysfsWatcher needs the Linux GPIO class interface.
type SysfsWatcher struct{}

func WatchSysfs(pin gpio.Pin, t gpio.Trigger, d Dispatcher, logger *log.Logger) (*SysfsWatcher, error) {
	return nil, gpioerr.ErrUnsupported
}

func (w *SysfsWatcher) Run(ctx context.Context) error { return gpioerr.ErrUnsupported }

func (w *SysfsWatcher) Close() error { return nil }
