// Package kernel defines the real-time kernel primitives the Ferrum boot
// layer consumes: kernel lifecycle, thread creation, mutexes, and the
// error-notify collaborator. The scheduler itself lives behind the Kernel
// interface; this package also ships Sim, an in-process reference kernel
// used by the boot simulator and the tests.
package kernel

import (
	"errors"
	"time"
)

// ThreadID identifies a kernel thread. Zero is "no thread" and is what
// Current returns for execution contexts the kernel does not manage.
type ThreadID uint64

// MutexID identifies a kernel mutex. Zero is invalid.
type MutexID uint64

// Priority levels for kernel threads.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

// State tracks kernel lifecycle, mirroring the bootstrap state machine's
// kernel-side view.
type State int

const (
	StateInactive State = iota // before Initialize
	StateReady                 // initialized, scheduler not started
	StateRunning               // scheduler started
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Timeout bounds a blocking acquire. NoWait polls, WaitForever blocks
// without bound; positive values are a deadline.
type Timeout time.Duration

const (
	NoWait      Timeout = 0
	WaitForever Timeout = -1
)

// ThreadControl is the caller-allocated opaque control block for a thread,
// the analog of a statically reserved thread-state buffer. The kernel binds
// it to exactly one thread identity.
type ThreadControl struct {
	id    ThreadID
	bound bool
}

// Bound reports whether the control block has been bound to a thread.
func (c *ThreadControl) Bound() bool { return c != nil && c.bound }

// MutexControl is the caller-allocated opaque control block for a mutex.
type MutexControl struct {
	id    MutexID
	bound bool
}

// Bound reports whether the control block has been bound to a mutex.
func (c *MutexControl) Bound() bool { return c != nil && c.bound }

// ThreadAttr describes a thread at creation time.
type ThreadAttr struct {
	Name     string
	Priority Priority
	Stack    []byte         // caller-provided stack buffer
	Control  *ThreadControl // optional static control block
}

// MutexAttr describes a mutex at creation time.
type MutexAttr struct {
	Name        string
	Recursive   bool
	PrioInherit bool
	Robust      bool
	Control     *MutexControl // optional static control block
}

// Info identifies the kernel implementation and its API version, used by
// the boot layer's compatibility gate.
type Info struct {
	Name    string
	Version string // semantic version of the kernel API
}

// ErrorCode classifies conditions reported through Notify.
type ErrorCode int

const (
	// ErrorLibSpaceExhausted: a thread requested a per-thread library
	// state slot and the fixed table was full.
	ErrorLibSpaceExhausted ErrorCode = iota + 1
	// ErrorResourceExhausted: a fixed kernel-side resource pool ran out.
	ErrorResourceExhausted
)

// NotifyFunc receives kernel resource-error reports.
type NotifyFunc func(code ErrorCode, detail any)

// Kernel is the primitive set the boot layer drives. Threads created
// before Start stay parked until the scheduler runs. Start blocks for the
// lifetime of the kernel; under normal operation control has permanently
// transferred to scheduled threads by then.
type Kernel interface {
	Info() Info
	State() State

	Initialize() error
	Start() error

	ThreadNew(entry func(), attr ThreadAttr) (ThreadID, error)
	Current() ThreadID

	MutexNew(attr MutexAttr) (MutexID, error)
	MutexDelete(id MutexID) error
	MutexAcquire(id MutexID, timeout Timeout) error
	MutexRelease(id MutexID) error

	Notify(code ErrorCode, detail any)
}

var (
	ErrNotInitialized     = errors.New("kernel: not initialized")
	ErrAlreadyInitialized = errors.New("kernel: already initialized")
	ErrNotRunning         = errors.New("kernel: scheduler not running")
	ErrTimeout            = errors.New("kernel: timeout")
	ErrDeadlock           = errors.New("kernel: mutex already held by caller")
	ErrNotOwner           = errors.New("kernel: caller does not own mutex")
	ErrInvalidMutex       = errors.New("kernel: invalid mutex id")
	ErrInvalidThread      = errors.New("kernel: invalid thread")
	ErrControlBound       = errors.New("kernel: control block already bound")
)
