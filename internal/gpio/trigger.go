package gpio

import (
	"fmt"
	"strings"

	"pinctl/internal/gpioerr"
)

// Trigger is the detect condition armed on a pin.
type Trigger uint8

const (
	TriggerNone Trigger = iota
	TriggerRising
	TriggerFalling
	// TriggerBoth latches on either edge. The status bit does not say which
	// one fired; read the level after acknowledging to infer it.
	TriggerBoth
	TriggerHigh
	TriggerLow
)

// Triggers lists every valid Trigger.
var Triggers = []Trigger{TriggerNone, TriggerRising, TriggerFalling, TriggerBoth, TriggerHigh, TriggerLow}

// EnableBits mirrors the pin's bits in GPREN, GPFEN, GPHEN and GPLEN.
type EnableBits struct {
	Rising  bool
	Falling bool
	High    bool
	Low     bool
}

func (b EnableBits) array() [4]bool { return [4]bool{b.Rising, b.Falling, b.High, b.Low} }

func (t Trigger) String() string {
	switch t {
	case TriggerNone:
		return "none"
	case TriggerRising:
		return "rising"
	case TriggerFalling:
		return "falling"
	case TriggerBoth:
		return "both"
	case TriggerHigh:
		return "high"
	case TriggerLow:
		return "low"
	}
	return fmt.Sprintf("trigger(%d)", uint8(t))
}

// IsLevel reports whether t re-latches for as long as the level holds.
func (t Trigger) IsLevel() bool { return t == TriggerHigh || t == TriggerLow }

// Bits encodes t.
func (t Trigger) Bits() (EnableBits, error) {
	switch t {
	case TriggerNone:
		return EnableBits{}, nil
	case TriggerRising:
		return EnableBits{Rising: true}, nil
	case TriggerFalling:
		return EnableBits{Falling: true}, nil
	case TriggerBoth:
		return EnableBits{Rising: true, Falling: true}, nil
	case TriggerHigh:
		return EnableBits{High: true}, nil
	case TriggerLow:
		return EnableBits{Low: true}, nil
	}
	return EnableBits{}, fmt.Errorf("%w: %d", gpioerr.ErrInvalidTrigger, uint8(t))
}

// DecodeTrigger is the inverse of Trigger.Bits. Combinations no Trigger
// produces (for example rising+high, left by other software) are reported
// as gpioerr.ErrInvalidTrigger.
func DecodeTrigger(b EnableBits) (Trigger, error) {
	for _, t := range Triggers {
		if tb, _ := t.Bits(); tb == b {
			return t, nil
		}
	}
	return TriggerNone, fmt.Errorf("%w: %+v", gpioerr.ErrInvalidTrigger, b)
}

// ParseTrigger accepts the String forms, case-insensitively; "" is none.
func ParseTrigger(s string) (Trigger, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TriggerNone, nil
	}
	for _, t := range Triggers {
		if t.String() == s {
			return t, nil
		}
	}
	return TriggerNone, fmt.Errorf("%w: %q", gpioerr.ErrInvalidTrigger, s)
}
