package kernel

import (
	"fmt"
	"sync"
)

// SimVersion is the kernel API version the reference kernel reports.
const SimVersion = "2.1.3"

// Sim is the reference kernel: threads are goroutines parked on a start
// gate until the scheduler runs, mutexes honor the recursive, robust and
// priority-inheritance attributes. It implements Kernel and exists so the
// boot layer and the libc shim have something real to run on in hosted
// environments and tests.
type Sim struct {
	info Info

	mu         sync.Mutex
	state      State
	startCh    chan struct{}
	shutdownCh chan struct{}
	threads    map[ThreadID]*simThread
	mutexes    map[MutexID]*simMutex
	byGID      map[int64]ThreadID
	nextThread ThreadID
	nextMutex  MutexID
	notify     NotifyFunc
	wg         sync.WaitGroup
}

type simThread struct {
	id       ThreadID
	attr     ThreadAttr
	basePrio Priority
	effPrio  Priority
	done     chan struct{}
}

type simMutex struct {
	id    MutexID
	attr  MutexAttr
	owner ThreadID
	depth int
	cond  *sync.Cond
}

// NewSim returns a reference kernel reporting the default Info.
func NewSim() *Sim {
	return NewSimWithInfo(Info{Name: "ferrum-rtk", Version: SimVersion})
}

// NewSimWithInfo returns a reference kernel reporting info, letting tests
// exercise the boot layer's version gate.
func NewSimWithInfo(info Info) *Sim {
	return &Sim{
		info:       info,
		startCh:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		threads:    make(map[ThreadID]*simThread),
		mutexes:    make(map[MutexID]*simMutex),
		byGID:      make(map[int64]ThreadID),
	}
}

func (s *Sim) Info() Info { return s.info }

func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetErrorHandler installs the error-notify collaborator. Reports made
// before a handler is installed are dropped.
func (s *Sim) SetErrorHandler(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *Sim) Notify(code ErrorCode, detail any) {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(code, detail)
	}
}

func (s *Sim) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInactive {
		return ErrAlreadyInitialized
	}
	s.state = StateReady
	return nil
}

// Start releases every parked thread and blocks until Shutdown. In a real
// target the scheduler never hands control back; here the block ends when
// the hosting process asks the kernel to wind down.
func (s *Sim) Start() error {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.state = StateRunning
	close(s.startCh)
	s.mu.Unlock()

	<-s.shutdownCh
	s.wg.Wait()
	return nil
}

// Shutdown unblocks Start. Threads still parked on the start gate are
// released so their goroutines can exit.
func (s *Sim) Shutdown() {
	s.mu.Lock()
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
	s.mu.Unlock()
}

// ThreadNew creates a thread bound to entry. The thread does not run until
// the scheduler starts. A static control block can be bound to at most one
// thread identity for the life of the process.
func (s *Sim) ThreadNew(entry func(), attr ThreadAttr) (ThreadID, error) {
	if entry == nil {
		return 0, fmt.Errorf("kernel: nil thread entry: %w", ErrInvalidThread)
	}

	s.mu.Lock()
	if s.state == StateInactive {
		s.mu.Unlock()
		return 0, ErrNotInitialized
	}
	if attr.Control != nil && attr.Control.bound {
		s.mu.Unlock()
		return 0, fmt.Errorf("kernel: thread %q: %w", attr.Name, ErrControlBound)
	}

	s.nextThread++
	t := &simThread{
		id:       s.nextThread,
		attr:     attr,
		basePrio: attr.Priority,
		effPrio:  attr.Priority,
		done:     make(chan struct{}),
	}
	s.threads[t.id] = t
	if attr.Control != nil {
		attr.Control.id = t.id
		attr.Control.bound = true
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runThread(t, entry)
	return t.id, nil
}

func (s *Sim) runThread(t *simThread, entry func()) {
	gid := currentGID()
	s.mu.Lock()
	s.byGID[gid] = t.id
	s.mu.Unlock()

	defer s.threadExit(t, gid)

	select {
	case <-s.startCh:
	case <-s.shutdownCh:
		return
	}
	entry()
}

// threadExit releases every robust mutex the thread still owns, so a
// terminating owner cannot permanently deadlock the system.
func (s *Sim) threadExit(t *simThread, gid int64) {
	s.mu.Lock()
	delete(s.byGID, gid)
	for _, m := range s.mutexes {
		if m.owner == t.id && m.attr.Robust {
			m.owner = 0
			m.depth = 0
			m.cond.Broadcast()
		}
	}
	close(t.done)
	s.mu.Unlock()
	s.wg.Done()
}

// Current returns the kernel thread identity of the calling goroutine, or
// zero when the kernel does not manage it.
func (s *Sim) Current() ThreadID {
	gid := currentGID()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byGID[gid]
}

// Join blocks until the thread's entry function has returned. Test helper;
// real targets have no thread join in this layer.
func (s *Sim) Join(id ThreadID) error {
	s.mu.Lock()
	t := s.threads[id]
	s.mu.Unlock()
	if t == nil {
		return ErrInvalidThread
	}
	<-t.done
	return nil
}

// AdoptCaller registers the calling goroutine as a kernel thread so that
// kernel operations made from it carry a stable identity. The returned
// release function unregisters it.
func (s *Sim) AdoptCaller(name string) (ThreadID, func()) {
	gid := currentGID()
	s.mu.Lock()
	s.nextThread++
	t := &simThread{
		id:       s.nextThread,
		attr:     ThreadAttr{Name: name, Priority: PriorityNormal},
		basePrio: PriorityNormal,
		effPrio:  PriorityNormal,
		done:     make(chan struct{}),
	}
	s.threads[t.id] = t
	s.byGID[gid] = t.id
	s.mu.Unlock()

	return t.id, func() {
		s.mu.Lock()
		delete(s.byGID, gid)
		s.mu.Unlock()
	}
}

// callerThreadLocked resolves the calling goroutine to a thread identity,
// adopting goroutines the kernel has not seen so mutex ownership stays
// accurate when hosted code calls in from outside a kernel thread. Adopted
// identities have no exit hook; robust cleanup only applies to threads the
// kernel launched. Caller holds s.mu.
func (s *Sim) callerThreadLocked(gid int64) ThreadID {
	if id, ok := s.byGID[gid]; ok {
		return id
	}
	s.nextThread++
	t := &simThread{
		id:       s.nextThread,
		attr:     ThreadAttr{Name: "adopted", Priority: PriorityNormal},
		basePrio: PriorityNormal,
		effPrio:  PriorityNormal,
		done:     make(chan struct{}),
	}
	s.threads[t.id] = t
	s.byGID[gid] = t.id
	return t.id
}

// EffectivePriority returns the thread's current scheduling priority,
// including any boost inherited from waiters on a priority-inheriting
// mutex it owns.
func (s *Sim) EffectivePriority(id ThreadID) (Priority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threads[id]
	if t == nil {
		return 0, ErrInvalidThread
	}
	return t.effPrio, nil
}
