// Package pinmap is the single place where a pin number becomes a register
// word and bit position. Nothing else computes GPIO offsets.
package pinmap

import (
	"fmt"

	"pinctl/internal/gpioerr"
)

// Pin is a native (BCM) GPIO number.
type Pin int

// Property names a per-pin field inside the register window.
type Property uint8

const (
	FunctionSelect Property = iota
	Level
	Set
	Clear
	Event
	EdgeRising
	EdgeFalling
	LevelHigh
	LevelLow
)

// SetClear is the output half of the set/clear pair; use Clear for the other.
const SetClear = Set

func (p Property) String() string {
	switch p {
	case FunctionSelect:
		return "fsel"
	case Level:
		return "lev"
	case Set:
		return "set"
	case Clear:
		return "clr"
	case Event:
		return "eds"
	case EdgeRising:
		return "ren"
	case EdgeFalling:
		return "fen"
	case LevelHigh:
		return "hen"
	case LevelLow:
		return "len"
	default:
		return fmt.Sprintf("property(%d)", uint8(p))
	}
}

const (
	fselWidth   = 3
	fselPerWord = 10
	bitsPerWord = 32
)

// Field locates a property of one pin: Width bits starting at Shift inside
// register word Word.
type Field struct {
	Word  int
	Shift uint
	Width uint
}

// Mask is the field's bits in place.
func (f Field) Mask() uint32 { return (uint32(1)<<f.Width - 1) << f.Shift }

// Extract returns the field value from a register word.
func (f Field) Extract(word uint32) uint32 { return (word & f.Mask()) >> f.Shift }

// Insert returns word with the field replaced by v (truncated to Width).
func (f Field) Insert(word, v uint32) uint32 {
	return word&^f.Mask() | (v<<f.Shift)&f.Mask()
}

// OutOfRangeError is returned for a pin the controller does not have.
type OutOfRangeError struct {
	Pin  Pin
	Pins int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("gpio %d out of range [0,%d)", int(e.Pin), e.Pins)
}

func (e *OutOfRangeError) Unwrap() error { return gpioerr.ErrOutOfRange }

// Layout gives the first word of every register bank of one controller
// generation, in 32-bit word units from the start of the window.
type Layout struct {
	Name  string
	Pins  int
	Words int

	FuncSel int
	Set     int
	Clear   int
	Level   int
	Event   int
	Rising  int
	Falling int
	High    int
	Low     int
}

// BCM2837 is the GPIO block of the BCM2835/2836/2837 family: 54 pins in a
// 0xB4 byte window.
var BCM2837 = Layout{
	Name:    "bcm2837",
	Pins:    54,
	Words:   0xB4 / 4,
	FuncSel: 0,  // GPFSEL0..5
	Set:     7,  // GPSET0..1
	Clear:   10, // GPCLR0..1
	Level:   13, // GPLEV0..1
	Event:   16, // GPEDS0..1
	Rising:  19, // GPREN0..1
	Falling: 22, // GPFEN0..1
	High:    25, // GPHEN0..1
	Low:     28, // GPLEN0..1
}

// BCM2835 shares the BCM2837 register layout.
var BCM2835 = func() Layout { l := BCM2837; l.Name = "bcm2835"; return l }()

// Physical base addresses of the GPIO window as seen by the ARM core.
const (
	PhysBase2835 uint64 = 0x20200000
	PhysBase2837 uint64 = 0x3F200000
)

// Directory resolves pins to fields for one Layout.
type Directory struct {
	l Layout
}

// NewDirectory validates that every field of every pin falls inside the
// window before any access can be attempted.
func NewDirectory(l Layout) (*Directory, error) {
	if l.Pins <= 0 || l.Words <= 0 {
		return nil, fmt.Errorf("layout %q: empty geometry", l.Name)
	}
	d := &Directory{l: l}
	for _, pin := range []Pin{0, Pin(l.Pins - 1)} {
		for p := FunctionSelect; p <= LevelLow; p++ {
			f := d.field(pin, p)
			if f.Word < 0 || f.Word >= l.Words {
				return nil, fmt.Errorf("layout %q: %s for gpio %d at word %d outside %d-word window",
					l.Name, p, pin, f.Word, l.Words)
			}
		}
	}
	return d, nil
}

// Layout returns the controller layout.
func (d *Directory) Layout() Layout { return d.l }

// Pins returns the number of pins.
func (d *Directory) Pins() int { return d.l.Pins }

// Check rejects pins the controller does not have.
func (d *Directory) Check(pin Pin) error {
	if pin < 0 || int(pin) >= d.l.Pins {
		return &OutOfRangeError{Pin: pin, Pins: d.l.Pins}
	}
	return nil
}

// FieldFor returns where prop of pin lives.
func (d *Directory) FieldFor(pin Pin, prop Property) (Field, error) {
	if err := d.Check(pin); err != nil {
		return Field{}, err
	}
	if prop > LevelLow {
		return Field{}, fmt.Errorf("pinmap: unknown property %d", uint8(prop))
	}
	return d.field(pin, prop), nil
}

// Banks returns every word of a one-bit-per-pin bank, lowest pins first.
func (d *Directory) Banks(prop Property) []int {
	if prop == FunctionSelect {
		n := (d.l.Pins + fselPerWord - 1) / fselPerWord
		return seq(d.l.FuncSel, n)
	}
	return seq(d.base(prop), (d.l.Pins+bitsPerWord-1)/bitsPerWord)
}

func (d *Directory) field(pin Pin, prop Property) Field {
	n := int(pin)
	if prop == FunctionSelect {
		return Field{
			Word:  d.l.FuncSel + n/fselPerWord,
			Shift: uint(n%fselPerWord) * fselWidth,
			Width: fselWidth,
		}
	}
	return Field{
		Word:  d.base(prop) + n/bitsPerWord,
		Shift: uint(n % bitsPerWord),
		Width: 1,
	}
}

func (d *Directory) base(prop Property) int {
	switch prop {
	case Level:
		return d.l.Level
	case Set:
		return d.l.Set
	case Clear:
		return d.l.Clear
	case Event:
		return d.l.Event
	case EdgeRising:
		return d.l.Rising
	case EdgeFalling:
		return d.l.Falling
	case LevelHigh:
		return d.l.High
	case LevelLow:
		return d.l.Low
	}
	return d.l.FuncSel
}

func seq(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
