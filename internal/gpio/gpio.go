// Package gpio drives pins through the register window: function select,
// set/clear/level I/O, and edge/level detect configuration.
package gpio

import (
	"errors"
	"fmt"

	"pinctl/internal/gpioerr"
	"pinctl/internal/pinmap"
	"pinctl/internal/regs"
)

// Pin is re-exported so callers rarely need pinmap directly.
type Pin = pinmap.Pin

// Level is a logic level.
type Level uint8

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Direction of a plain GPIO.
type Direction uint8

const (
	Input Direction = iota
	Output
	// Alt is reported for pins handed to a peripheral function.
	Alt
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "in"
	case Output:
		return "out"
	default:
		return "alt"
	}
}

// ParseDirection accepts "in"/"input" and "out"/"output".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "input":
		return Input, nil
	case "out", "output":
		return Output, nil
	}
	return Input, fmt.Errorf("%w: %q", gpioerr.ErrInvalidDirection, s)
}

// Function is the raw 3-bit function-select code.
type Function uint32

const (
	FuncInput  Function = 0
	FuncOutput Function = 1
	FuncAlt5   Function = 2
	FuncAlt4   Function = 3
	FuncAlt0   Function = 4
	FuncAlt1   Function = 5
	FuncAlt2   Function = 6
	FuncAlt3   Function = 7
)

func (f Function) String() string {
	switch f {
	case FuncInput:
		return "in"
	case FuncOutput:
		return "out"
	case FuncAlt0:
		return "alt0"
	case FuncAlt1:
		return "alt1"
	case FuncAlt2:
		return "alt2"
	case FuncAlt3:
		return "alt3"
	case FuncAlt4:
		return "alt4"
	case FuncAlt5:
		return "alt5"
	}
	return fmt.Sprintf("fsel(%d)", uint32(f))
}

// Direction collapses the function code to in/out/alt.
func (f Function) Direction() Direction {
	switch f {
	case FuncInput:
		return Input
	case FuncOutput:
		return Output
	}
	return Alt
}

// Controller is the register-level GPIO API of one controller instance.
type Controller struct {
	blk *regs.Block
	dir *pinmap.Directory
}

// New binds a register block to a pin directory. The block must be at least
// as large as the directory's layout.
func New(blk *regs.Block, dir *pinmap.Directory) (*Controller, error) {
	if blk == nil {
		return nil, gpioerr.ErrMappingUnavailable
	}
	if blk.Len() < dir.Layout().Words {
		return nil, fmt.Errorf("%w: %d words mapped, layout %s needs %d",
			gpioerr.ErrShortMapping, blk.Len(), dir.Layout().Name, dir.Layout().Words)
	}
	return &Controller{blk: blk, dir: dir}, nil
}

// Open is New with a fresh Block over mem.
func Open(mem regs.Memory, l pinmap.Layout) (*Controller, error) {
	blk, err := regs.New(mem)
	if err != nil {
		return nil, err
	}
	dir, err := pinmap.NewDirectory(l)
	if err != nil {
		return nil, err
	}
	return New(blk, dir)
}

// Pins returns the number of pins on the controller.
func (c *Controller) Pins() int { return c.dir.Pins() }

// Check returns a range error for pins the controller does not have.
func (c *Controller) Check(pin Pin) error { return c.dir.Check(pin) }

// Directory exposes the pin directory.
func (c *Controller) Directory() *pinmap.Directory { return c.dir }

// ---- Mode ----

// SetDirection writes the pin's function-select field. Input is the all-zero
// code, so clearing the field is the whole job; Output then inserts code 1.
func (c *Controller) SetDirection(pin Pin, d Direction) error {
	var code Function
	switch d {
	case Input:
		code = FuncInput
	case Output:
		code = FuncOutput
	default:
		return fmt.Errorf("%w: %d", gpioerr.ErrInvalidDirection, d)
	}
	f, err := c.dir.FieldFor(pin, pinmap.FunctionSelect)
	if err != nil {
		return err
	}
	c.blk.Modify(f.Word, func(v uint32) uint32 { return f.Insert(v, uint32(code)) })
	return nil
}

// Function reads the pin's function-select code.
func (c *Controller) Function(pin Pin) (Function, error) {
	f, err := c.dir.FieldFor(pin, pinmap.FunctionSelect)
	if err != nil {
		return 0, err
	}
	return Function(f.Extract(c.blk.Read(f.Word))), nil
}

// Direction reports in/out/alt for the pin.
func (c *Controller) Direction(pin Pin) (Direction, error) {
	fn, err := c.Function(pin)
	if err != nil {
		return Input, err
	}
	return fn.Direction(), nil
}

// ---- Level I/O ----

// Write drives the output latch through GPSET or GPCLR. Both are write-only
// registers where a 0 bit has no effect, so no read-modify-write (and no
// lock) is needed.
func (c *Controller) Write(pin Pin, l Level) error {
	prop := pinmap.Clear
	if l == High {
		prop = pinmap.Set
	}
	f, err := c.dir.FieldFor(pin, prop)
	if err != nil {
		return err
	}
	c.blk.Write(f.Word, f.Mask())
	return nil
}

// Read returns the sensed level, or the driven level for an output.
func (c *Controller) Read(pin Pin) (Level, error) {
	f, err := c.dir.FieldFor(pin, pinmap.Level)
	if err != nil {
		return Low, err
	}
	return Level(f.Extract(c.blk.Read(f.Word))), nil
}

// Toggle inverts the pin and returns the level written.
func (c *Controller) Toggle(pin Pin) (Level, error) {
	l, err := c.Read(pin)
	if err != nil {
		return Low, err
	}
	l ^= 1
	return l, c.Write(pin, l)
}

// ---- Event detect ----

// Arm programs all four detect-enable bits of pin so that exactly t is
// armed. The four words are rewritten under one lock set, which also
// disarms whatever was armed before.
func (c *Controller) Arm(pin Pin, t Trigger) error {
	bits, err := t.Bits()
	if err != nil {
		return err
	}
	fs, err := c.enableFields(pin)
	if err != nil {
		return err
	}
	want := bits.array()
	offs := []int{fs[0].Word, fs[1].Word, fs[2].Word, fs[3].Word}
	c.blk.ModifyWords(offs, func(vals []uint32) {
		for i, f := range fs {
			vals[i] = f.Insert(vals[i], b2u(want[i]))
		}
	})
	return nil
}

// Disarm is Arm(pin, TriggerNone).
func (c *Controller) Disarm(pin Pin) error { return c.Arm(pin, TriggerNone) }

// Trigger decodes the pin's detect-enable bits.
func (c *Controller) Trigger(pin Pin) (Trigger, error) {
	bits, err := c.EnableBits(pin)
	if err != nil {
		return TriggerNone, err
	}
	return DecodeTrigger(bits)
}

// EnableBits reads the raw rising/falling/high/low enables of pin.
func (c *Controller) EnableBits(pin Pin) (EnableBits, error) {
	fs, err := c.enableFields(pin)
	if err != nil {
		return EnableBits{}, err
	}
	var got [4]bool
	for i, f := range fs {
		got[i] = f.Extract(c.blk.Read(f.Word)) == 1
	}
	return EnableBits{Rising: got[0], Falling: got[1], High: got[2], Low: got[3]}, nil
}

// Acknowledge clears the pin's latched event by writing 1 to its GPEDS bit.
// When nothing was latched it writes nothing and returns
// gpioerr.ErrStaleAcknowledge, which callers may ignore; an event latching
// after the read then stays pending for the next pass. A second event that
// latches after the read of a set bit merges into the one being cleared.
func (c *Controller) Acknowledge(pin Pin) error {
	f, err := c.dir.FieldFor(pin, pinmap.Event)
	if err != nil {
		return err
	}
	if c.blk.Read(f.Word)&f.Mask() == 0 {
		return gpioerr.ErrStaleAcknowledge
	}
	c.blk.Write(f.Word, f.Mask())
	return nil
}

// Pending reports whether pin has a latched event.
func (c *Controller) Pending(pin Pin) (bool, error) {
	f, err := c.dir.FieldFor(pin, pinmap.Event)
	if err != nil {
		return false, err
	}
	return f.Extract(c.blk.Read(f.Word)) == 1, nil
}

// PendingPins scans the status banks and returns every pin with a latched
// event, lowest first.
func (c *Controller) PendingPins() []Pin {
	var out []Pin
	for bank, off := range c.dir.Banks(pinmap.Event) {
		v := c.blk.Read(off)
		for bit := 0; v != 0 && bit < 32; bit++ {
			if v&(1<<bit) == 0 {
				continue
			}
			v &^= 1 << bit
			p := Pin(bank*32 + bit)
			if int(p) < c.dir.Pins() {
				out = append(out, p)
			}
		}
	}
	return out
}

// PinStatus is a point-in-time view of one pin.
type PinStatus struct {
	Pin      Pin
	Function Function
	Level    Level
	Trigger  Trigger
	Bits     EnableBits
	Pending  bool
}

// Status reads every register field of pin once. A pin whose enable bits do
// not decode to a Trigger reports TriggerNone with the raw Bits filled in.
func (c *Controller) Status(pin Pin) (PinStatus, error) {
	st := PinStatus{Pin: pin}
	var err error
	if st.Function, err = c.Function(pin); err != nil {
		return st, err
	}
	if st.Level, err = c.Read(pin); err != nil {
		return st, err
	}
	if st.Bits, err = c.EnableBits(pin); err != nil {
		return st, err
	}
	if st.Trigger, err = DecodeTrigger(st.Bits); err != nil && !errors.Is(err, gpioerr.ErrInvalidTrigger) {
		return st, err
	}
	if st.Pending, err = c.Pending(pin); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Controller) enableFields(pin Pin) ([4]pinmap.Field, error) {
	var fs [4]pinmap.Field
	for i, prop := range [4]pinmap.Property{
		pinmap.EdgeRising, pinmap.EdgeFalling, pinmap.LevelHigh, pinmap.LevelLow,
	} {
		f, err := c.dir.FieldFor(pin, prop)
		if err != nil {
			return fs, err
		}
		fs[i] = f
	}
	return fs, nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
