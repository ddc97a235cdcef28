package retarget

import "errors"

// Subsystem enumerates the library subsystems that get a static lock
// handle, created exactly once by the boot thread before the subsystem can
// be used.
type Subsystem int

const (
	LockSingleton Subsystem = iota // lazily-initialized-object support
	LockEnv                        // environment access
	LockMalloc                     // memory allocator
	LockSFP                        // stream pointer table
	LockSInit                      // formatted-I/O initialization
	LockTZ                         // timezone state
	LockRand                       // random number generator
	LockAtExit                     // process-exit handler list

	numStaticLocks
)

func (sub Subsystem) String() string {
	switch sub {
	case LockSingleton:
		return "singleton_mutex"
	case LockEnv:
		return "env_mutex"
	case LockMalloc:
		return "malloc_mutex"
	case LockSFP:
		return "sfp_mutex"
	case LockSInit:
		return "sinit_mutex"
	case LockTZ:
		return "tz_mutex"
	case LockRand:
		return "arc4random_mutex"
	case LockAtExit:
		return "at_quick_exit_mutex"
	default:
		return "unknown_mutex"
	}
}

// recursive reports whether the subsystem's lock is recursive. The
// allocator, environment, stream and init locks must be, because library
// internals re-enter them; the rest are plain.
func (sub Subsystem) recursive() bool {
	switch sub {
	case LockSingleton, LockEnv, LockMalloc, LockSFP, LockSInit:
		return true
	default:
		return false
	}
}

// ErrStaticLocksExist marks a second attempt to create the static lock
// set; boot runs once per process.
var ErrStaticLocksExist = errors.New("retarget: static locks already created")

// InitStaticLocks creates every static lock handle. The pre-entry routine
// calls it on the main thread before any library call that depends on a
// subsystem lock can run on any thread.
func (s *Shim) InitStaticLocks() error {
	s.staticMu.Lock()
	defer s.staticMu.Unlock()
	if s.static[0] != nil {
		return ErrStaticLocksExist
	}
	for sub := Subsystem(0); sub < numStaticLocks; sub++ {
		l := &Lock{}
		l.id = s.newLock(sub.String(), sub.recursive(), &l.ctl)
		s.static[sub] = l
	}
	return nil
}

// StaticLock returns the subsystem's lock handle, or nil before
// InitStaticLocks has run.
func (s *Shim) StaticLock(sub Subsystem) *Lock {
	s.staticMu.Lock()
	defer s.staticMu.Unlock()
	if sub < 0 || sub >= numStaticLocks {
		return nil
	}
	return s.static[sub]
}

func (s *Shim) mustStatic(sub Subsystem) *Lock {
	l := s.StaticLock(sub)
	if l == nil {
		s.fatalf("retarget: %v used before static lock creation", sub)
	}
	return l
}

// Per-subsystem entry points, mirroring the lock/unlock pairs the library
// calls around each subsystem.

func (s *Shim) EnvLock()      { s.AcquireRecursive(s.mustStatic(LockEnv)) }
func (s *Shim) EnvUnlock()    { s.ReleaseRecursive(s.mustStatic(LockEnv)) }
func (s *Shim) MallocLock()   { s.AcquireRecursive(s.mustStatic(LockMalloc)) }
func (s *Shim) MallocUnlock() { s.ReleaseRecursive(s.mustStatic(LockMalloc)) }
func (s *Shim) TZLock()       { s.Acquire(s.mustStatic(LockTZ)) }
func (s *Shim) TZUnlock()     { s.Release(s.mustStatic(LockTZ)) }

func (s *Shim) SFPLockAcquire()   { s.AcquireRecursive(s.mustStatic(LockSFP)) }
func (s *Shim) SFPLockRelease()   { s.ReleaseRecursive(s.mustStatic(LockSFP)) }
func (s *Shim) SInitLockAcquire() { s.AcquireRecursive(s.mustStatic(LockSInit)) }
func (s *Shim) SInitLockRelease() { s.ReleaseRecursive(s.mustStatic(LockSInit)) }

// WithRandLock runs fn under the random-generator lock; used to wrap
// library routines that do not take their own locks.
func (s *Shim) WithRandLock(fn func()) {
	l := s.mustStatic(LockRand)
	s.Acquire(l)
	defer s.Release(l)
	fn()
}

// WithAtExitLock runs fn under the exit-handler-list lock.
func (s *Shim) WithAtExitLock(fn func()) {
	l := s.mustStatic(LockAtExit)
	s.Acquire(l)
	defer s.Release(l)
	fn()
}

// Singleton returns the lock backing the runtime's lazily-initialized
// object support.
func (s *Shim) Singleton() *Lock { return s.mustStatic(LockSingleton) }
