// Package mapping acquires the GPIO register window from the operating
// system and hands it to regs as a Memory.
package mapping

import (
	"pinctl/internal/pinmap"
	"pinctl/internal/regs"
)

// GPIOMemPath is the unprivileged GPIO window exposed by the Raspberry Pi
// kernel.
const GPIOMemPath = "/dev/gpiomem"

// WindowBytes is the size of the mapped register window.
var WindowBytes = pinmap.BCM2837.Words * 4

// Region is one mapped window. The zero value is not usable.
type Region struct {
	words  regs.Words
	closer func() error
}

// Words returns the mapped registers. The slice is invalid after Close.
func (r *Region) Words() regs.Words { return r.words }

// Close releases the mapping. Calling it more than once is harmless.
func (r *Region) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	r.words = nil
	return c()
}
