// Package memlayout resolves the boot-time memory layout of a Ferrum
// target: it carves the free span between the end of static data and the
// top-of-stack constant into a heap region and an interrupt-stack region.
// The resolved layout is computed once during boot, before any dynamic
// allocation or thread creation, and is read-only afterwards.
package memlayout

import "fmt"

// DefaultISRStackSize is the interrupt-stack reservation used when the
// target does not override it.
const DefaultISRStackSize = 1024

// Region describes a contiguous span of target memory.
type Region struct {
	Start uintptr
	Size  uintptr
}

// End returns the first address past the region.
func (r Region) End() uintptr {
	return r.Start + r.Size
}

// Contains reports whether addr falls inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End()
}

// Overlaps reports whether the two regions share any address.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Start < o.End() && o.Start < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x) size %#x", r.Start, r.End(), r.Size)
}

// Config carries the link-time boundary symbols and the optional explicit
// placement overrides for one target. StaticEnd and StackTop come from the
// linker (end of .bss / initial stack pointer); the overrides correspond to
// the target's explicit heap and interrupt-stack placement, which must name
// both a start and a size to take effect.
type Config struct {
	StaticEnd uintptr // first free address past static data
	StackTop  uintptr // initial stack pointer constant

	// HeapOverride places the free span explicitly instead of deriving it
	// from StaticEnd..StackTop.
	HeapOverride *Region

	// ISRStackOverride places the interrupt stack verbatim; when set the
	// interrupt stack is not carved out of the free span.
	ISRStackOverride *Region

	// ISRStackSize requests a reservation other than DefaultISRStackSize.
	// Ignored when ISRStackOverride is set.
	ISRStackSize uintptr
}

// Layout is the resolved memory layout published to the heap allocator and
// the kernel's interrupt-stack setup.
type Layout struct {
	Heap     Region
	ISRStack Region
}

// Resolve computes the heap and interrupt-stack regions from cfg.
//
// When no interrupt-stack override is present, the interrupt stack is
// reserved from the high end of the free span and the heap receives the
// remainder. A requested interrupt-stack size larger than the free span is
// clamped to the whole span, leaving a zero-sized heap; that is a
// configuration error the allocator surfaces on first use, not a resolver
// failure.
func Resolve(cfg Config) (Layout, error) {
	free, err := freeSpan(cfg)
	if err != nil {
		return Layout{}, err
	}

	var lay Layout
	if cfg.ISRStackOverride != nil {
		// Interrupt stack explicitly placed, free span untouched.
		lay.ISRStack = *cfg.ISRStackOverride
	} else {
		want := cfg.ISRStackSize
		if want == 0 {
			want = DefaultISRStackSize
		}
		if want > free.Size {
			want = free.Size
		}
		lay.ISRStack = Region{Start: free.Start + free.Size - want, Size: want}
		free.Size -= want
	}

	// Heap - everything else.
	lay.Heap = free
	return lay, nil
}

func freeSpan(cfg Config) (Region, error) {
	if cfg.HeapOverride != nil {
		if cfg.HeapOverride.Size == 0 {
			return Region{}, fmt.Errorf("memlayout: heap override %s is empty", cfg.HeapOverride)
		}
		return *cfg.HeapOverride, nil
	}
	if cfg.StackTop < cfg.StaticEnd {
		return Region{}, fmt.Errorf("memlayout: stack top %#x below end of static data %#x", cfg.StackTop, cfg.StaticEnd)
	}
	return Region{Start: cfg.StaticEnd, Size: cfg.StackTop - cfg.StaticEnd}, nil
}
