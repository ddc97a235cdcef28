package nvic

// SimBus is a map-backed Bus for hosted runs and tests. Vector slots read
// as zero until written, like zero-initialized RAM.
type SimBus struct {
	vtor uintptr
	mem  map[uintptr]uint32
}

// NewSimBus returns a SimBus whose base register points at flashBase.
func NewSimBus(flashBase uintptr) *SimBus {
	return &SimBus{vtor: flashBase, mem: make(map[uintptr]uint32)}
}

func (b *SimBus) ReadVector(base uintptr, index int) uint32 {
	return b.mem[vectorAddr(base, index)]
}

func (b *SimBus) WriteVector(base uintptr, index int, handler uint32) {
	b.mem[vectorAddr(base, index)] = handler
}

func (b *SimBus) VTOR() uintptr        { return b.vtor }
func (b *SimBus) SetVTOR(addr uintptr) { b.vtor = addr }

func vectorAddr(base uintptr, index int) uintptr {
	return base + uintptr(index)*4
}
