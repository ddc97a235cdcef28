package nvic

import "testing"

const (
	flashBase = uintptr(0x00000000)
	ramBase   = uintptr(0x20000000)
)

func seededBus(t *testing.T, n int) *SimBus {
	t.Helper()
	bus := NewSimBus(flashBase)
	for i := 0; i < n; i++ {
		bus.WriteVector(flashBase, i, 0x08000000+uint32(i)*2+1)
	}
	return bus
}

func TestRelocateCopiesTableAndRepointsBase(t *testing.T) {
	const n = 48
	bus := seededBus(t, n)

	moved := Relocate(bus, Config{Core: CortexM4, RAMAddress: ramBase, NumVectors: n})
	if !moved {
		t.Fatal("expected relocation on Cortex-M4")
	}
	if got := bus.VTOR(); got != ramBase {
		t.Fatalf("VTOR = %#x, want %#x", got, ramBase)
	}
	for i := 0; i < n; i++ {
		want := 0x08000000 + uint32(i)*2 + 1
		if got := bus.ReadVector(ramBase, i); got != want {
			t.Fatalf("vector %d = %#x, want %#x", i, got, want)
		}
	}
	// Source table untouched.
	if got := bus.ReadVector(flashBase, 0); got != 0x08000001 {
		t.Errorf("flash vector 0 modified: %#x", got)
	}
}

func TestRelocateSkipConditions(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"core_without_vtor", Config{Core: CortexM0, RAMAddress: ramBase, NumVectors: 16}},
		{"a_profile_core", Config{Core: CortexA9, RAMAddress: ramBase, NumVectors: 16}},
		{"no_ram_address", Config{Core: CortexM3, NumVectors: 16}},
		{"isolation_owns_table", Config{Core: CortexM3, RAMAddress: ramBase, NumVectors: 16, IsolationOwnsVectors: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := seededBus(t, 16)
			if Relocate(bus, tt.cfg) {
				t.Fatal("expected no-op")
			}
			if bus.VTOR() != flashBase {
				t.Errorf("VTOR moved to %#x", bus.VTOR())
			}
			if got := bus.ReadVector(ramBase, 0); got != 0 {
				t.Errorf("RAM table written: vector 0 = %#x", got)
			}
		})
	}
}
