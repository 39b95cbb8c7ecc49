//go:build linux && (arm || arm64) && !simgpio

// This file maps the Raspberry Pi GPIO register window. /dev/gpiomem is
// used by default and needs only membership of the gpio group; a physical
// base in the config maps through /dev/mem and needs root.

package main

import (
	"log"

	"pinctl/internal/gpio"
	"pinctl/internal/mapping"
)

func openHardware(cfg Config) (*hardware, error) {
	l, err := layoutByName(cfg.Layout)
	if err != nil {
		return nil, err
	}
	var r *mapping.Region
	switch {
	case cfg.PhysBase != 0:
		r, err = mapping.OpenPhysical(cfg.PhysBase)
	case cfg.Device != "":
		r, err = mapping.OpenFile(cfg.Device)
	default:
		r, err = mapping.OpenGPIOMem()
	}
	if err != nil {
		return nil, err
	}
	ctl, err := gpio.Open(r.Words(), l)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	log.Printf("mapped %s registers (%d words)", l.Name, r.Words().Len())
	// No interrupt line reaches user space; the poller does the waking.
	return &hardware{ctl: ctl, close: r.Close}, nil
}
