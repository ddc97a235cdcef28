// Package retarget makes the C library thread-safe on top of Ferrum kernel
// mutexes. It implements the lock abstraction the library expects (simple
// and recursive locks with init/acquire/try-acquire/release/close), the
// fixed set of per-subsystem static locks, bounded lock pools for targets
// whose runtime allocates system and file locks on demand, and the bounded
// per-thread reentrant-state table.
//
// Every mutex the shim creates carries the robust and priority-inheritance
// attributes, so a thread terminating while holding a lock cannot wedge the
// library and priority inversion across library calls stays bounded.
package retarget

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ferrum-rtos/ferrum/internal/kernel"
	"github.com/ferrum-rtos/ferrum/internal/memlayout"
)

// Config sizes the shim's fixed-capacity resources.
type Config struct {
	// LibSpaceSlots caps how many non-main threads may use the C library
	// concurrently.
	LibSpaceSlots int

	// SystemLocks and FileLocks size the on-demand lock pools.
	SystemLocks int
	FileLocks   int
}

// DefaultConfig mirrors the usual target defaults: four concurrent library
// threads, eight runtime system locks, ten open streams.
func DefaultConfig() Config {
	return Config{LibSpaceSlots: 4, SystemLocks: 8, FileLocks: 10}
}

// Lock is one library lock handle backed by a kernel mutex with a static
// control block.
type Lock struct {
	id  kernel.MutexID
	ctl kernel.MutexControl
}

// ID exposes the kernel mutex identity, mainly for tests asserting that a
// handle is created exactly once.
func (l *Lock) ID() kernel.MutexID { return l.id }

// ReentState is the per-thread mutable library context (the reentrancy
// blob): error number and the pieces of library state that must not be
// shared across threads.
type ReentState struct {
	Errno    int
	RandNext uint64
}

// defaultReentState is the value a freshly claimed slot starts from,
// matching the library's static initializer for its global instance.
func defaultReentState() ReentState {
	return ReentState{RandNext: 1}
}

type libSlot struct {
	owner kernel.ThreadID
	state ReentState
}

// Shim owns every retargeting resource for one boot. It is created during
// boot, bound to the main thread by the pre-entry routine, and never torn
// down.
type Shim struct {
	kern  kernel.Kernel
	fatal func(string)

	// Dynamic lock backing store: accounting against the resolved heap
	// region. A zero-sized heap (layout configuration error) surfaces
	// here, at first allocation.
	heap     memlayout.Region
	heapMu   sync.Mutex
	heapUsed uintptr

	staticMu sync.Mutex
	static   [numStaticLocks]*Lock

	mainThread atomic.Uint64
	started    atomic.Bool
	mainState  ReentState
	slotMu     sync.Mutex
	slots      []libSlot
	exhausted  atomic.Uint64

	system *LockPool
	file   *LockPool
}

// NewShim builds a shim over kern. Dynamic lock storage is charged against
// heap; fatal is the never-returning error reporter.
func NewShim(kern kernel.Kernel, heap memlayout.Region, cfg Config, fatal func(string)) *Shim {
	s := &Shim{
		kern:      kern,
		fatal:     fatal,
		heap:      heap,
		mainState: defaultReentState(),
		slots:     make([]libSlot, cfg.LibSpaceSlots),
	}
	s.system = newLockPool(s, "system", cfg.SystemLocks, true)
	s.file = newLockPool(s, "file", cfg.FileLocks, true)
	return s
}

// fatalf reports through the fatal collaborator, which must not return.
// The panic is a backstop for a reporter that violates that contract.
func (s *Shim) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.fatal(msg)
	panic("ferrum: fatal: " + msg)
}

// lockFootprint is what one dynamic lock handle costs in heap accounting.
const lockFootprint = unsafe.Sizeof(Lock{})

func (s *Shim) chargeHeap() {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	if s.heapUsed+lockFootprint > s.heap.Size {
		s.fatalf("retarget: lock allocation of %d bytes exceeds heap %s", lockFootprint, s.heap)
	}
	s.heapUsed += lockFootprint
}

func (s *Shim) creditHeap() {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	s.heapUsed -= lockFootprint
}

// HeapUsed reports the bytes currently charged for dynamic locks.
func (s *Shim) HeapUsed() uintptr {
	s.heapMu.Lock()
	defer s.heapMu.Unlock()
	return s.heapUsed
}

func (s *Shim) newLock(name string, recursive bool, ctl *kernel.MutexControl) kernel.MutexID {
	id, err := s.kern.MutexNew(kernel.MutexAttr{
		Name:        name,
		Recursive:   recursive,
		PrioInherit: true,
		Robust:      true,
		Control:     ctl,
	})
	if err != nil {
		s.fatalf("retarget: mutex %q: %v", name, err)
	}
	return id
}

// NewLock creates a dynamic non-recursive lock for a library request (for
// example a file stream). Storage comes out of the heap region; running
// out is fatal because the library cannot proceed without its lock.
func (s *Shim) NewLock() *Lock {
	return s.initDynamic("dynamic_mutex", false)
}

// NewLockRecursive is NewLock for recursive locks.
func (s *Shim) NewLockRecursive() *Lock {
	return s.initDynamic("dynamic_recursive_mutex", true)
}

func (s *Shim) initDynamic(name string, recursive bool) *Lock {
	s.chargeHeap()
	l := &Lock{}
	l.id = s.newLock(name, recursive, &l.ctl)
	return l
}

// CloseLock destroys a dynamic lock and returns its storage.
func (s *Shim) CloseLock(l *Lock) {
	if l == nil {
		return
	}
	if err := s.kern.MutexDelete(l.id); err != nil {
		s.fatalf("retarget: close lock: %v", err)
	}
	s.creditHeap()
}

// CloseLockRecursive destroys a dynamic recursive lock.
func (s *Shim) CloseLockRecursive(l *Lock) { s.CloseLock(l) }

// Acquire blocks without bound until the lock is available.
func (s *Shim) Acquire(l *Lock) {
	if err := s.kern.MutexAcquire(l.id, kernel.WaitForever); err != nil {
		s.fatalf("retarget: acquire %d: %v", l.id, err)
	}
}

// AcquireRecursive blocks without bound on a recursive lock.
func (s *Shim) AcquireRecursive(l *Lock) { s.Acquire(l) }

// TryAcquire attempts the lock without blocking.
func (s *Shim) TryAcquire(l *Lock) bool {
	return s.kern.MutexAcquire(l.id, kernel.NoWait) == nil
}

// TryAcquireRecursive attempts a recursive lock without blocking.
func (s *Shim) TryAcquireRecursive(l *Lock) bool { return s.TryAcquire(l) }

// Release releases the lock.
func (s *Shim) Release(l *Lock) {
	if err := s.kern.MutexRelease(l.id); err != nil {
		s.fatalf("retarget: release %d: %v", l.id, err)
	}
}

// ReleaseRecursive releases one level of a recursive lock.
func (s *Shim) ReleaseRecursive(l *Lock) { s.Release(l) }

// SystemLockPool is the fixed pool backing runtime-allocated system locks.
func (s *Shim) SystemLockPool() *LockPool { return s.system }

// FileLockPool is the fixed pool backing per-stream file locks.
func (s *Shim) FileLockPool() *LockPool { return s.file }
