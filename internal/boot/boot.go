// Package boot orchestrates the Ferrum boot sequence: everything between
// the toolchain runtime handing over control and the application entry
// point running on a kernel thread.
//
// Four startup conventions reach this layer through different hooks, but
// all of them traverse the same ordered protocol:
//
//	<entry hook> (per Toolchain)
//	    -> core/FPU init                  (only when the convention requires it)
//	    -> low-level init probe           (only when the convention requires it)
//	        -> static-data init           (when the probe asks for it)
//	    -> memory layout resolution       (memlayout.Resolve)
//	    -> vector table relocation        (nvic.Relocate; skipped under isolation)
//	    -> SDK init hook
//	    -> kernel ABI gate + kernel init  (Kernel.Initialize)
//	    -> isolation init                 (when enabled; non-zero return is fatal)
//	    -> main thread creation           (Kernel.ThreadNew, "main_thread")
//	    -> scheduler start                (Kernel.Start; does not return)
//	        pre-entry, on the main thread:
//	            -> static lock creation   (retarget.Shim)
//	            -> static initializers    (per Toolchain.StaticInit)
//	            -> user pre-entry hook
//	            -> application entry point
//
// The bootstrap state machine is Uninitialized -> KernelInitialized ->
// MainThreadCreated -> SchedulerRunning, in that order with no skips;
// SchedulerRunning is terminal. The sequence runs once per process; a
// second Boot call is rejected rather than repeated. All unrecoverable
// conditions funnel through the Program.Fatal reporter, which never
// returns.
package boot

import (
	"errors"
	"fmt"
	"sync"

	semver "github.com/Masterminds/semver/v3"

	"github.com/ferrum-rtos/ferrum/internal/kernel"
	"github.com/ferrum-rtos/ferrum/internal/memlayout"
	"github.com/ferrum-rtos/ferrum/internal/nvic"
	"github.com/ferrum-rtos/ferrum/internal/retarget"
)

// DefaultMainStackSize is the main thread's stack reservation when the
// application does not configure one.
const DefaultMainStackSize = 4096

// Stage tracks the bootstrap state machine.
type Stage int

const (
	StageUninitialized Stage = iota
	StageKernelInitialized
	StageMainThreadCreated
	StageSchedulerRunning
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageKernelInitialized:
		return "kernel-initialized"
	case StageMainThreadCreated:
		return "main-thread-created"
	case StageSchedulerRunning:
		return "scheduler-running"
	default:
		return "unknown"
	}
}

// ErrAlreadyBooted rejects a second boot attempt in the same process.
var ErrAlreadyBooted = errors.New("boot: sequence already ran")

// Config is the compile-time configuration surface of the boot layer.
type Config struct {
	// MainStackSize is the main thread's stack size in bytes.
	MainStackSize int

	// Memory carries the link-time boundary symbols and placement
	// overrides for the layout resolver.
	Memory memlayout.Config

	// Vectors configures vector table relocation; Bus being nil disables
	// the relocation step entirely (targets without a RAM table).
	Vectors nvic.Config
	Bus     nvic.Bus

	// Isolation enables the isolation-subsystem integration: its init
	// runs after kernel init, and it owns the vector table.
	Isolation bool

	// Retarget sizes the libc shim's fixed resources.
	Retarget retarget.Config
}

// DefaultConfig returns the default configuration surface.
func DefaultConfig() Config {
	return Config{
		MainStackSize: DefaultMainStackSize,
		Retarget:      retarget.DefaultConfig(),
	}
}

// Program binds the external collaborators of one boot: the application
// entry point, the overridable hooks, the toolchain runtime calls, and
// the fatal-error reporter. Only Main is mandatory; every optional hook
// defaults to a no-op, mirroring weak symbols.
type Program struct {
	// Main is the application entry point, invoked exactly once on the
	// main thread.
	Main func()

	// PreMain runs immediately before Main, on the main thread.
	PreMain func()

	// SDKInit is the target's pre-kernel hardware setup hook.
	SDKInit func()

	// CoreInit performs explicit core and FPU initialization for
	// conventions that require it.
	CoreInit func()

	// LowLevelInit is the probe whose result decides whether
	// static-data initialization is needed. Defaults to "needed".
	LowLevelInit func() bool

	// StaticDataInit (re)initializes static data when the probe asks.
	StaticDataInit func()

	// StaticCtors runs the toolchain's static initializers; the driver
	// invokes it according to the Toolchain.StaticInit strategy.
	StaticCtors func()

	// IsolationInit brings up the isolation subsystem; a non-zero return
	// is fatal. Required when Config.Isolation is set.
	IsolationInit func() int

	// Fatal reports an unrecoverable boot error and must not return.
	// Defaults to a panic.
	Fatal func(msg string)
}

func (p *Program) fillDefaults() {
	if p.PreMain == nil {
		p.PreMain = func() {}
	}
	if p.SDKInit == nil {
		p.SDKInit = func() {}
	}
	if p.CoreInit == nil {
		p.CoreInit = func() {}
	}
	if p.LowLevelInit == nil {
		p.LowLevelInit = func() bool { return true }
	}
	if p.StaticDataInit == nil {
		p.StaticDataInit = func() {}
	}
	if p.StaticCtors == nil {
		p.StaticCtors = func() {}
	}
	if p.Fatal == nil {
		p.Fatal = func(msg string) { panic("ferrum: fatal: " + msg) }
	}
}

// Context is the boot context: the one-time-initialized process-wide
// state (resolved layout, stage, shim, main thread descriptor). It has no
// teardown; the process lives as long as the boot result does.
type Context struct {
	tc   Toolchain
	cfg  Config
	kern kernel.Kernel
	prog Program
	abi  *semver.Constraints

	mu        sync.Mutex
	stage     Stage
	booted    bool
	layout    memlayout.Layout
	relocated bool

	// Low-level probe result, stored after static data is ready and
	// re-read by pre-entry to gate dynamic initialization.
	lowLevelInitNeeded bool

	mainStack []byte
	mainCtl   kernel.ThreadControl
	mainID    kernel.ThreadID

	shim *retarget.Shim
}

// New validates the configuration against the toolchain's capabilities
// and builds a boot context. Configuration errors are reported here, the
// compile-time analog, rather than at boot time.
func New(tc Toolchain, cfg Config, kern kernel.Kernel, prog Program) (*Context, error) {
	if kern == nil {
		return nil, errors.New("boot: nil kernel")
	}
	if prog.Main == nil {
		return nil, errors.New("boot: no application entry point")
	}
	if cfg.Isolation && prog.IsolationInit == nil {
		return nil, errors.New("boot: isolation enabled without isolation init")
	}
	if tc.FixedLayout {
		if cfg.Memory.HeapOverride == nil || cfg.Memory.ISRStackOverride == nil {
			return nil, fmt.Errorf("boot: %s requires explicit heap and interrupt-stack placement", tc.Name)
		}
	}
	if cfg.MainStackSize <= 0 {
		cfg.MainStackSize = DefaultMainStackSize
	}
	abi, err := semver.NewConstraint(tc.KernelABI)
	if err != nil {
		return nil, fmt.Errorf("boot: %s kernel ABI constraint: %w", tc.Name, err)
	}
	prog.fillDefaults()

	return &Context{tc: tc, cfg: cfg, kern: kern, prog: prog, abi: abi}, nil
}

// fatalf funnels into the fatal reporter; the panic is a backstop for a
// reporter that returns despite its contract.
func (c *Context) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.prog.Fatal(msg)
	panic("ferrum: fatal: " + msg)
}

func (c *Context) setStage(s Stage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

// Stage reports how far the bootstrap state machine has advanced.
func (c *Context) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Layout returns the resolved memory layout. Valid once Boot has passed
// the resolver step; read-only afterwards.
func (c *Context) Layout() memlayout.Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// Relocated reports whether the vector table was copied to RAM.
func (c *Context) Relocated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relocated
}

// Shim returns the libc retargeting shim. Valid once Boot has reached
// main thread creation.
func (c *Context) Shim() *retarget.Shim {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shim
}

// MainThread returns the main thread's kernel identity.
func (c *Context) MainThread() kernel.ThreadID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainID
}

// Toolchain returns the capability table this context boots with.
func (c *Context) Toolchain() Toolchain { return c.tc }

// Boot runs the full sequence for the context's toolchain. Under normal
// operation it does not return: the scheduler takes over and the call
// blocks for the life of the kernel. It returns ErrAlreadyBooted on a
// repeated call and propagates a configuration error from the layout
// resolver; everything else unrecoverable goes through the fatal
// reporter.
func (c *Context) Boot() error {
	c.mu.Lock()
	if c.booted {
		c.mu.Unlock()
		return ErrAlreadyBooted
	}
	c.booted = true
	c.mu.Unlock()

	// (1) Explicit core/FPU bring-up where the runtime has not done it.
	if c.tc.NeedsCoreInit {
		c.prog.CoreInit()
	}

	// (2) Low-level init probe; static data first when it asks.
	needed := true
	if c.tc.NeedsLowLevelProbe {
		needed = c.prog.LowLevelInit()
		if needed {
			c.prog.StaticDataInit()
		}
	}

	// (3) Carve heap and interrupt stack out of the free span.
	lay, err := memlayout.Resolve(c.cfg.Memory)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	c.mu.Lock()
	c.layout = lay
	c.lowLevelInitNeeded = needed
	c.mu.Unlock()

	// (4) Move the vector table, unless isolation owns it.
	if c.cfg.Bus != nil {
		vcfg := c.cfg.Vectors
		vcfg.IsolationOwnsVectors = vcfg.IsolationOwnsVectors || c.cfg.Isolation
		moved := nvic.Relocate(c.cfg.Bus, vcfg)
		c.mu.Lock()
		c.relocated = moved
		c.mu.Unlock()
	}

	// (5) Target SDK hardware setup.
	c.prog.SDKInit()

	// (6) Kernel ABI gate, then kernel init.
	c.checkKernelABI()
	if err := c.kern.Initialize(); err != nil {
		c.fatalf("kernel initialization failed: %v", err)
	}
	c.setStage(StageKernelInitialized)

	// (7) Isolation bring-up needs the kernel initialized first.
	if c.cfg.Isolation {
		if rc := c.prog.IsolationInit(); rc != 0 {
			c.fatalf("isolation init failed with code %d", rc)
		}
	}

	// (8) Main thread, then hand control to the scheduler.
	return c.startMain()
}

func (c *Context) checkKernelABI() {
	info := c.kern.Info()
	v, err := semver.NewVersion(info.Version)
	if err != nil {
		c.fatalf("kernel %q reports unparsable API version %q: %v", info.Name, info.Version, err)
	}
	if !c.abi.Check(v) {
		c.fatalf("kernel %q API %s outside supported range %s", info.Name, info.Version, c.tc.KernelABI)
	}
}

// startMain populates the main thread descriptor, creates the thread
// bound to the pre-entry routine, and starts the scheduler. Thread
// creation failure is fatal and the scheduler is never started.
func (c *Context) startMain() error {
	shim := retarget.NewShim(c.kern, c.Layout().Heap, c.cfg.Retarget, c.prog.Fatal)

	c.mu.Lock()
	c.shim = shim
	c.mainStack = make([]byte, c.cfg.MainStackSize)
	c.mu.Unlock()

	id, err := c.kern.ThreadNew(c.preEntry, kernel.ThreadAttr{
		Name:     "main_thread",
		Priority: kernel.PriorityNormal,
		Stack:    c.mainStack,
		Control:  &c.mainCtl,
	})
	if err != nil {
		c.fatalf("pre-main thread not created: %v", err)
	}
	c.mu.Lock()
	c.mainID = id
	c.mu.Unlock()
	c.setStage(StageMainThreadCreated)

	// Start does not return while the kernel runs; the stage is terminal
	// from here on.
	c.setStage(StageSchedulerRunning)
	return c.kern.Start()
}

// preEntry is the main thread's body: bind the shim to the main thread,
// create every static lock, run static initializers per the toolchain's
// strategy, then the user hook, then the application.
func (c *Context) preEntry() {
	c.shim.BindMain(c.MainThread())

	if err := c.shim.InitStaticLocks(); err != nil {
		c.fatalf("static lock creation: %v", err)
	}

	switch c.tc.StaticInit {
	case StaticInitDynamic:
		c.mu.Lock()
		needed := c.lowLevelInitNeeded
		c.mu.Unlock()
		if needed {
			c.prog.StaticCtors()
		}
	default:
		c.prog.StaticCtors()
	}

	c.prog.PreMain()
	c.prog.Main()
}
