// Package regs owns the memory-mapped register window of the GPIO
// controller. All other packages reach the hardware through a *Block and
// never index the mapping directly.
package regs

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"pinctl/internal/gpioerr"
)

// Memory is a fixed-size array of 32-bit registers. Implementations must give
// every Load and Store the semantics of a single volatile access: the value
// may change between two loads, and stores are never merged or dropped.
type Memory interface {
	Len() int
	Load(off int) uint32
	Store(off int, v uint32)
}

// Words adapts a word slice (typically an mmap'd device window) to Memory.
// Accesses go through sync/atomic so the compiler cannot elide, reorder or
// coalesce them.
type Words []uint32

func (w Words) Len() int                { return len(w) }
func (w Words) Load(off int) uint32     { return atomic.LoadUint32(&w[off]) }
func (w Words) Store(off int, v uint32) { atomic.StoreUint32(&w[off], v) }

// OffsetError reports an access outside the mapped window. It is raised as a
// panic: continuing with a corrupted address is never safe.
type OffsetError struct {
	Off int
	Len int
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("register offset %d outside mapped window of %d words", e.Off, e.Len)
}

// Block is the register window plus one lock per word. Single reads and
// writes are unlocked; read-modify-write helpers serialise on the word(s)
// they touch so fields of different pins sharing a word never lose updates.
type Block struct {
	mem   Memory
	locks []sync.Mutex
}

// New wraps a previously acquired mapping.
func New(mem Memory) (*Block, error) {
	if mem == nil || mem.Len() == 0 {
		return nil, gpioerr.ErrMappingUnavailable
	}
	return &Block{mem: mem, locks: make([]sync.Mutex, mem.Len())}, nil
}

// Len returns the window size in words.
func (b *Block) Len() int {
	b.mapped()
	return b.mem.Len()
}

// Read performs exactly one load of the word at off.
func (b *Block) Read(off int) uint32 {
	b.check(off)
	return b.mem.Load(off)
}

// Write performs exactly one store of v at off.
func (b *Block) Write(off int, v uint32) {
	b.check(off)
	b.mem.Store(off, v)
}

// SetBits ORs mask into the word at off.
func (b *Block) SetBits(off int, mask uint32) {
	b.Modify(off, func(v uint32) uint32 { return v | mask })
}

// ClearBits clears mask in the word at off.
func (b *Block) ClearBits(off int, mask uint32) {
	b.Modify(off, func(v uint32) uint32 { return v &^ mask })
}

// Modify runs a locked read-modify-write on one word and returns the value
// written.
func (b *Block) Modify(off int, fn func(uint32) uint32) uint32 {
	b.check(off)
	b.locks[off].Lock()
	defer b.locks[off].Unlock()
	v := fn(b.mem.Load(off))
	b.mem.Store(off, v)
	return v
}

// ModifyWords holds the locks of every word in offs while fn rewrites them.
// vals[i] holds the current value of offs[i] on entry; every entry is
// stored back in offs order once fn returns. Locks are taken in ascending
// offset order so concurrent callers cannot deadlock.
func (b *Block) ModifyWords(offs []int, fn func(vals []uint32)) {
	for _, off := range offs {
		b.check(off)
	}
	order := append([]int(nil), offs...)
	sort.Ints(order)
	order = dedupe(order)
	for _, off := range order {
		b.locks[off].Lock()
	}
	defer func() {
		for i := len(order) - 1; i >= 0; i-- {
			b.locks[order[i]].Unlock()
		}
	}()

	vals := make([]uint32, len(offs))
	for i, off := range offs {
		vals[i] = b.mem.Load(off)
	}
	fn(vals)
	for i, off := range offs {
		b.mem.Store(off, vals[i])
	}
}

func (b *Block) mapped() {
	if b == nil || b.mem == nil {
		panic(gpioerr.ErrMappingUnavailable)
	}
}

func (b *Block) check(off int) {
	b.mapped()
	if off < 0 || off >= b.mem.Len() {
		panic(&OffsetError{Off: off, Len: b.mem.Len()})
	}
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
