// Package gpiosim is a register-accurate software model of the GPIO block.
// It stands in for the mmap'd window on hosts without the hardware and in
// tests, and lets a test drive input pins to produce edges.
package gpiosim

import (
	"sync"

	"pinctl/internal/gpio"
	"pinctl/internal/pinmap"
)

// Chip implements regs.Memory with the controller's side effects:
//
//   - GPSET/GPCLR are write-only; writing 1 bits updates the output latch.
//   - GPLEV shows the latch for output pins and the driven level otherwise.
//   - GPEDS is write-1-to-clear.
//   - Enabled edges latch on any level change; enabled level conditions
//     latch on every store for as long as the level holds.
type Chip struct {
	mu    sync.Mutex
	l     pinmap.Layout
	dir   *pinmap.Directory
	banks int

	words []uint32 // plain storage: function select, enables, reserved
	latch []uint32
	input []uint32
	level []uint32
	eds   []uint32

	onIRQ  func()
	raises uint64
}

// New returns a chip with every pin an input driven low.
func New(l pinmap.Layout) (*Chip, error) {
	dir, err := pinmap.NewDirectory(l)
	if err != nil {
		return nil, err
	}
	n := (l.Pins + 31) / 32
	return &Chip{
		l:     l,
		dir:   dir,
		banks: n,
		words: make([]uint32, l.Words),
		latch: make([]uint32, n),
		input: make([]uint32, n),
		level: make([]uint32, n),
		eds:   make([]uint32, n),
	}, nil
}

// Layout returns the simulated layout.
func (c *Chip) Layout() pinmap.Layout { return c.l }

// OnInterrupt installs the interrupt line callback. It runs outside the
// chip's lock but may run while the caller of Store holds register locks,
// so it must not block or touch registers itself; queue the work instead.
func (c *Chip) OnInterrupt(fn func()) {
	c.mu.Lock()
	c.onIRQ = fn
	c.mu.Unlock()
}

// Raises counts interrupt line activations.
func (c *Chip) Raises() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raises
}

// Asserted reports whether any status bit is latched.
func (c *Chip) Asserted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.eds {
		if v != 0 {
			return true
		}
	}
	return false
}

func (c *Chip) Len() int { return len(c.words) }

func (c *Chip) Load(off int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in(off, c.l.Set) || c.in(off, c.l.Clear) {
		return 0
	}
	if i, ok := c.bank(off, c.l.Level); ok {
		return c.level[i]
	}
	if i, ok := c.bank(off, c.l.Event); ok {
		return c.eds[i]
	}
	return c.words[off]
}

func (c *Chip) Store(off int, v uint32) {
	c.mu.Lock()
	switch {
	case c.in(off, c.l.Set):
		c.latch[off-c.l.Set] |= v
	case c.in(off, c.l.Clear):
		c.latch[off-c.l.Clear] &^= v
	case c.in(off, c.l.Level):
		// read-only
	case c.in(off, c.l.Event):
		c.eds[off-c.l.Event] &^= v
	default:
		c.words[off] = v
	}
	c.settleAndRaise()
}

// Drive sets the externally applied level of pin. It has no visible effect
// on GPLEV while the pin is an output.
func (c *Chip) Drive(pin pinmap.Pin, l gpio.Level) error {
	f, err := c.dir.FieldFor(pin, pinmap.Level)
	if err != nil {
		return err
	}
	i := f.Word - c.l.Level
	c.mu.Lock()
	if l == gpio.High {
		c.input[i] |= f.Mask()
	} else {
		c.input[i] &^= f.Mask()
	}
	c.settleAndRaise()
	return nil
}

// Level returns the pin level as GPLEV would show it.
func (c *Chip) Level(pin pinmap.Pin) (gpio.Level, error) {
	f, err := c.dir.FieldFor(pin, pinmap.Level)
	if err != nil {
		return gpio.Low, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return gpio.Level(f.Extract(c.level[f.Word-c.l.Level])), nil
}

// settleAndRaise re-evaluates detection, releases c.mu and, if new status
// bits latched, calls the interrupt callback.
func (c *Chip) settleAndRaise() {
	newly := c.settle()
	fn := c.onIRQ
	if newly {
		c.raises++
	}
	c.mu.Unlock()
	if newly && fn != nil {
		fn()
	}
}

// settle recomputes pin levels and latches detect events. It reports
// whether any status bit went from clear to set.
func (c *Chip) settle() bool {
	newly := false
	for i := 0; i < c.banks; i++ {
		old := c.level[i]
		now := c.computeLevel(i)
		ren := c.words[c.l.Rising+i]
		fen := c.words[c.l.Falling+i]
		hen := c.words[c.l.High+i]
		lowEn := c.words[c.l.Low+i]

		ev := (^old & now & ren) | (old &^ now & fen) | (now & hen) | (^now & lowEn)
		ev &= c.valid(i)
		c.level[i] = now
		if ev&^c.eds[i] != 0 {
			newly = true
		}
		c.eds[i] |= ev
	}
	return newly
}

func (c *Chip) computeLevel(bank int) uint32 {
	var out uint32
	for bit := 0; bit < 32; bit++ {
		pin := bank*32 + bit
		if pin >= c.l.Pins {
			break
		}
		f, _ := c.dir.FieldFor(pinmap.Pin(pin), pinmap.FunctionSelect)
		src := c.input[bank]
		if gpio.Function(f.Extract(c.words[f.Word])) == gpio.FuncOutput {
			src = c.latch[bank]
		}
		out |= src & (1 << bit)
	}
	return out
}

func (c *Chip) valid(bank int) uint32 {
	rem := c.l.Pins - bank*32
	if rem >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<rem - 1
}

func (c *Chip) in(off, base int) bool {
	return off >= base && off < base+c.banks
}

func (c *Chip) bank(off, base int) (int, bool) {
	if c.in(off, base) {
		return off - base, true
	}
	return 0, false
}
