package boot

import "fmt"

// StaticInitStrategy selects how a toolchain's C/C++ static initializers
// are triggered from the pre-entry routine, after the kernel is running.
type StaticInitStrategy int

const (
	// StaticInitLibrary: one runtime library-init call that also receives
	// the heap bounds.
	StaticInitLibrary StaticInitStrategy = iota
	// StaticInitDeferredCPP: the runtime's C++ init entry is stubbed out
	// during early boot and its real body invoked from pre-entry.
	StaticInitDeferredCPP
	// StaticInitCtorWalk: walk the linker-collected constructor array.
	StaticInitCtorWalk
	// StaticInitDynamic: the runtime's dynamic-initialization call, run
	// only when the low-level init probe asked for static-data init.
	StaticInitDynamic
)

func (s StaticInitStrategy) String() string {
	switch s {
	case StaticInitLibrary:
		return "library-init call"
	case StaticInitDeferredCPP:
		return "deferred C++ init call"
	case StaticInitCtorWalk:
		return "constructor-array walk"
	case StaticInitDynamic:
		return "dynamic-initialization call"
	default:
		return "unknown"
	}
}

// KernelABIConstraint is the kernel API version range the boot layer was
// written against.
const KernelABIConstraint = ">=2.0.0 <3.0.0"

// Toolchain is the capability table for one startup convention. The boot
// ordering contract is identical for all of them; the differences are
// confined to which hook the adapter intercepts, whether core and
// low-level init are explicit, how static initializers run, and the entry
// point calling convention.
type Toolchain struct {
	Name      string
	EntryHook string // runtime symbol the adapter owns

	// NeedsCoreInit: core and floating-point unit setup is the adapter's
	// job rather than done before the hook is reached.
	NeedsCoreInit bool

	// NeedsLowLevelProbe: the runtime expects an explicit probe whose
	// return flag decides whether static-data initialization runs.
	NeedsLowLevelProbe bool

	// FixedLayout: heap and interrupt stack come from linker-file regions
	// and must be supplied as explicit placements; the derived free-span
	// layout is unavailable.
	FixedLayout bool

	StaticInit StaticInitStrategy

	// EntryConvention documents how the application entry point is
	// declared in this convention. The Go adapter always invokes it once,
	// with no arguments.
	EntryConvention string

	// KernelABI constrains the kernel API version this adapter drives.
	KernelABI string
}

// The four supported startup conventions.
var (
	ARMC = Toolchain{
		Name:            "armc",
		EntryHook:       "__rt_entry",
		StaticInit:      StaticInitLibrary,
		EntryConvention: "main(0, NULL)",
		KernelABI:       KernelABIConstraint,
	}
	Microlib = Toolchain{
		Name:            "microlib",
		EntryHook:       "_main_init",
		StaticInit:      StaticInitDeferredCPP,
		EntryConvention: "main(void)",
		KernelABI:       KernelABIConstraint,
	}
	GCC = Toolchain{
		Name:            "gcc",
		EntryHook:       "software_init_hook",
		StaticInit:      StaticInitCtorWalk,
		EntryConvention: "main(0, NULL)",
		KernelABI:       KernelABIConstraint,
	}
	IAR = Toolchain{
		Name:               "iar",
		EntryHook:          "__iar_program_start",
		NeedsCoreInit:      true,
		NeedsLowLevelProbe: true,
		FixedLayout:        true,
		StaticInit:         StaticInitDynamic,
		EntryConvention:    "main(void)",
		KernelABI:          KernelABIConstraint,
	}
)

// Toolchains lists the supported conventions.
func Toolchains() []Toolchain {
	return []Toolchain{ARMC, Microlib, GCC, IAR}
}

// ToolchainByName resolves a convention by its name.
func ToolchainByName(name string) (Toolchain, error) {
	for _, tc := range Toolchains() {
		if tc.Name == name {
			return tc, nil
		}
	}
	return Toolchain{}, fmt.Errorf("boot: unknown toolchain %q", name)
}
