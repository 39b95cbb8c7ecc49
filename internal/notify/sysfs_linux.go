//go:build linux

package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"pinctl/internal/gpio"
	"pinctl/internal/gpioerr"
)

// Dispatcher is satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(pin gpio.Pin) (bool, error)
}

// SysfsRoot is the legacy GPIO class directory.
var SysfsRoot = "/sys/class/gpio"

// SysfsWatcher waits for kernel edge notifications on one pin and dispatches
// each wakeup. It uses the kernel's own edge detection, so the pin must not
// also be armed through the register window.
type SysfsWatcher struct {
	pin    gpio.Pin
	d      Dispatcher
	logger *log.Logger
	value  *os.File
	root   string
	// exported is true when this watcher created the sysfs node.
	exported bool
}

// WatchSysfs exports pin (if needed), configures edge ("rising", "falling"
// or "both") and opens its value file.
func WatchSysfs(pin gpio.Pin, t gpio.Trigger, d Dispatcher, logger *log.Logger) (*SysfsWatcher, error) {
	edge, err := sysfsEdge(t)
	if err != nil {
		return nil, err
	}
	w := &SysfsWatcher{pin: pin, d: d, logger: logger, root: SysfsRoot}
	dir := w.dir()
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(w.root, "export"), []byte(strconv.Itoa(int(pin))), 0); err != nil {
			return nil, fmt.Errorf("export gpio%d: %w", pin, err)
		}
		w.exported = true
		// udev may need a moment to fix permissions on the new node.
		for i := 0; i < 50; i++ {
			if _, err := os.Stat(filepath.Join(dir, "edge")); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0); err != nil {
		w.unexport()
		return nil, fmt.Errorf("%w: gpio%d direction: %v", gpioerr.ErrNotExported, pin, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "edge"), []byte(edge), 0); err != nil {
		w.unexport()
		return nil, fmt.Errorf("%w: gpio%d edge: %v", gpioerr.ErrNotExported, pin, err)
	}
	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		w.unexport()
		return nil, fmt.Errorf("%w: gpio%d value: %v", gpioerr.ErrNotExported, pin, err)
	}
	w.value = f
	return w, nil
}

func sysfsEdge(t gpio.Trigger) (string, error) {
	switch t {
	case gpio.TriggerRising:
		return "rising", nil
	case gpio.TriggerFalling:
		return "falling", nil
	case gpio.TriggerBoth:
		return "both", nil
	}
	return "", fmt.Errorf("%w: sysfs has no %s trigger", gpioerr.ErrInvalidTrigger, t)
}

func (w *SysfsWatcher) dir() string {
	return filepath.Join(w.root, "gpio"+strconv.Itoa(int(w.pin)))
}

// Run blocks until ctx is done. The poll timeout bounds how long
// cancellation takes to be noticed.
func (w *SysfsWatcher) Run(ctx context.Context) error {
	fd := int(w.value.Fd())
	buf := make([]byte, 8)
	// The first read clears the initial "ready" state of the value file.
	_, _ = unix.Pread(fd, buf, 0)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI | unix.POLLERR}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll gpio%d: %w", w.pin, err)
		}
		if n == 0 {
			continue
		}
		_, _ = unix.Pread(fd, buf, 0)
		if _, err := w.d.Dispatch(w.pin); err != nil && w.logger != nil {
			w.logger.Printf("gpio%d: dispatch: %v", w.pin, err)
		}
	}
}

// Close releases the value file and unexports the pin if this watcher
// exported it.
func (w *SysfsWatcher) Close() error {
	var err error
	if w.value != nil {
		err = w.value.Close()
		w.value = nil
	}
	w.unexport()
	return err
}

func (w *SysfsWatcher) unexport() {
	if !w.exported {
		return
	}
	w.exported = false
	if err := os.WriteFile(filepath.Join(w.root, "unexport"), []byte(strconv.Itoa(int(w.pin))), 0); err != nil && w.logger != nil {
		w.logger.Printf("unexport gpio%d: %v", w.pin, err)
	}
}
