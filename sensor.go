package main

import "pinctl/internal/gpio"

// pinActive interprets a sensed level according to the pin's polarity. A
// button wired to ground with a pull-up reads low when pressed, so it is
// configured active_low.
func pinActive(pc PinConfig, l gpio.Level) bool {
	if pc.ActiveLow {
		return l == gpio.Low
	}
	return l == gpio.High
}
