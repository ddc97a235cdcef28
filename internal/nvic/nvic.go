// Package nvic relocates the interrupt vector table into RAM on cores that
// expose a relocatable vector-table base register. Baseline M0-class cores
// and A-profile cores without the register keep their vendor-managed table;
// relocation is likewise skipped when an isolation subsystem owns the
// vector table.
package nvic

// Core names an architecture variant and whether it exposes a writable
// vector-table base register.
type Core struct {
	Name    string
	HasVTOR bool
}

// The Cortex variants Ferrum targets. The baseline M0 has no VTOR and the
// A9 has no portable per-vector set operation, so both are excluded from
// relocation and the vendor reset code keeps table ownership.
var (
	CortexM0 = Core{Name: "Cortex-M0", HasVTOR: false}
	CortexM3 = Core{Name: "Cortex-M3", HasVTOR: true}
	CortexM4 = Core{Name: "Cortex-M4", HasVTOR: true}
	CortexM7 = Core{Name: "Cortex-M7", HasVTOR: true}
	CortexA9 = Core{Name: "Cortex-A9", HasVTOR: false}
)

// Config selects whether and where the vector table is copied.
type Config struct {
	Core Core

	// RAMAddress is the destination of the writable table. Zero disables
	// relocation, matching targets that never define a RAM vector address.
	RAMAddress uintptr

	// NumVectors is the number of table entries the target defines
	// (exceptions plus external interrupts).
	NumVectors int

	// IsolationOwnsVectors marks the table as owned by the isolation
	// subsystem; relocation must not touch it.
	IsolationOwnsVectors bool
}

// Bus is the relocator's view of vector memory and the base register.
type Bus interface {
	ReadVector(base uintptr, index int) uint32
	WriteVector(base uintptr, index int, handler uint32)
	VTOR() uintptr
	SetVTOR(addr uintptr)
}

// Relocate copies every vector from the current table to the configured RAM
// address and repoints the base register. It reports whether a relocation
// happened; all skip conditions are silent no-ops, never errors.
func Relocate(bus Bus, cfg Config) bool {
	if !cfg.Core.HasVTOR || cfg.RAMAddress == 0 || cfg.IsolationOwnsVectors {
		return false
	}

	old := bus.VTOR()
	for i := 0; i < cfg.NumVectors; i++ {
		bus.WriteVector(cfg.RAMAddress, i, bus.ReadVector(old, i))
	}
	bus.SetVTOR(cfg.RAMAddress)
	return true
}
