//go:build !linux || !(arm || arm64) || simgpio

// This file backs the daemon with a simulated controller so the API can be
// run and tested on a desktop machine. On a Raspberry Pi hal_rpi.go maps the
// real register window instead; build with -tags simgpio to force the
// simulator there too.

package main

import (
	"log"

	"pinctl/internal/gpio"
	"pinctl/internal/gpiosim"
)

func openHardware(cfg Config) (*hardware, error) {
	l, err := layoutByName(cfg.Layout)
	if err != nil {
		return nil, err
	}
	chip, err := gpiosim.New(l)
	if err != nil {
		return nil, err
	}
	ctl, err := gpio.Open(chip, l)
	if err != nil {
		return nil, err
	}
	log.Printf("using simulated %s controller", l.Name)
	return &hardware{ctl: ctl, sim: chip, onInterrupt: chip.OnInterrupt}, nil
}
