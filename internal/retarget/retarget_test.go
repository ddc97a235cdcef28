package retarget

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferrum-rtos/ferrum/internal/kernel"
	"github.com/ferrum-rtos/ferrum/internal/memlayout"
)

type fatalLog struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fatalLog) report(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fatalLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fatalLog) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return ""
	}
	return f.msgs[len(f.msgs)-1]
}

func newTestShim(t *testing.T, heapSize uintptr, cfg Config) (*kernel.Sim, *Shim, *fatalLog) {
	t.Helper()
	sim := kernel.NewSim()
	if err := sim.Initialize(); err != nil {
		t.Fatal(err)
	}
	go sim.Start()
	t.Cleanup(sim.Shutdown)
	for sim.State() != kernel.StateRunning {
		time.Sleep(time.Millisecond)
	}

	log := &fatalLog{}
	shim := NewShim(sim, memlayout.Region{Start: 0x20002000, Size: heapSize}, cfg, log.report)
	return sim, shim, log
}

// expectFatal runs fn, which must funnel into the fatal reporter. The
// shim's backstop panic after the reporter returns is swallowed here.
func expectFatal(t *testing.T, log *fatalLog, want string, fn func()) {
	t.Helper()
	before := log.count()
	defer func() {
		if recover() == nil {
			t.Fatal("expected fatal condition")
		}
		if log.count() != before+1 {
			t.Fatalf("fatal reporter called %d times, want once", log.count()-before)
		}
		if !strings.Contains(log.last(), want) {
			t.Fatalf("fatal message %q does not mention %q", log.last(), want)
		}
	}()
	fn()
}

func TestStaticLocksCreatedExactlyOnce(t *testing.T) {
	_, shim, _ := newTestShim(t, 0x1000, DefaultConfig())

	if err := shim.InitStaticLocks(); err != nil {
		t.Fatalf("InitStaticLocks failed: %v", err)
	}

	seen := map[kernel.MutexID]Subsystem{}
	for sub := Subsystem(0); sub < numStaticLocks; sub++ {
		l := shim.StaticLock(sub)
		if l == nil || l.ID() == 0 {
			t.Fatalf("%v: no lock created", sub)
		}
		if prev, dup := seen[l.ID()]; dup {
			t.Fatalf("%v shares mutex %d with %v", sub, l.ID(), prev)
		}
		seen[l.ID()] = sub
	}

	ids := map[Subsystem]kernel.MutexID{}
	for id, sub := range seen {
		ids[sub] = id
	}
	if err := shim.InitStaticLocks(); !errors.Is(err, ErrStaticLocksExist) {
		t.Fatalf("second InitStaticLocks = %v, want ErrStaticLocksExist", err)
	}
	for sub, id := range ids {
		if got := shim.StaticLock(sub).ID(); got != id {
			t.Fatalf("%v: mutex id changed %d -> %d after second init", sub, id, got)
		}
	}
}

func TestStaticLockUseBeforeInitIsFatal(t *testing.T) {
	_, shim, log := newTestShim(t, 0x1000, DefaultConfig())
	expectFatal(t, log, "before static lock creation", shim.EnvLock)
}

func TestSubsystemHelpers(t *testing.T) {
	_, shim, _ := newTestShim(t, 0x1000, DefaultConfig())
	if err := shim.InitStaticLocks(); err != nil {
		t.Fatal(err)
	}

	shim.EnvLock()
	shim.EnvLock() // recursive
	shim.EnvUnlock()
	shim.EnvUnlock()
	shim.MallocLock()
	shim.MallocUnlock()
	shim.TZLock()
	shim.TZUnlock()
	shim.SFPLockAcquire()
	shim.SFPLockRelease()
	shim.SInitLockAcquire()
	shim.SInitLockRelease()

	ran := false
	shim.WithRandLock(func() { ran = true })
	if !ran {
		t.Fatal("WithRandLock did not run the body")
	}
	shim.WithAtExitLock(func() {})

	if shim.Singleton() == nil {
		t.Fatal("no singleton lock")
	}
}

func TestDynamicLockLifecycle(t *testing.T) {
	_, shim, _ := newTestShim(t, 0x1000, DefaultConfig())

	l := shim.NewLock()
	if shim.HeapUsed() != lockFootprint {
		t.Fatalf("heap used = %d, want %d", shim.HeapUsed(), lockFootprint)
	}

	shim.Acquire(l)
	shim.Release(l)
	if !shim.TryAcquire(l) {
		t.Fatal("try-acquire on free lock failed")
	}
	shim.Release(l)

	r := shim.NewLockRecursive()
	shim.AcquireRecursive(r)
	if !shim.TryAcquireRecursive(r) {
		t.Fatal("recursive try-acquire by owner failed")
	}
	shim.ReleaseRecursive(r)
	shim.ReleaseRecursive(r)

	shim.CloseLock(l)
	shim.CloseLockRecursive(r)
	if shim.HeapUsed() != 0 {
		t.Fatalf("heap used = %d after close, want 0", shim.HeapUsed())
	}
}

func TestDynamicLockZeroHeapIsFatal(t *testing.T) {
	// A zero-sized heap is a layout configuration error that must surface
	// at the first allocation, not at resolve time.
	_, shim, log := newTestShim(t, 0, DefaultConfig())
	expectFatal(t, log, "exceeds heap", func() { shim.NewLock() })
}

func TestTryAcquireHeldLock(t *testing.T) {
	sim, shim, _ := newTestShim(t, 0x1000, DefaultConfig())

	l := shim.NewLock()
	held := make(chan struct{})
	release := make(chan struct{})
	sim.ThreadNew(func() {
		shim.Acquire(l)
		close(held)
		<-release
		shim.Release(l)
	}, kernel.ThreadAttr{Name: "owner"})
	<-held

	if shim.TryAcquire(l) {
		t.Fatal("try-acquire on held lock succeeded")
	}

	acquired := make(chan struct{})
	sim.ThreadNew(func() {
		shim.Acquire(l)
		close(acquired)
	}, kernel.ThreadAttr{Name: "waiter"})

	select {
	case <-acquired:
		t.Fatal("blocking acquire returned while lock held")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("blocking acquire did not complete after release")
	}
}

func TestConcurrentDynamicLockCreation(t *testing.T) {
	_, shim, _ := newTestShim(t, 0x4000, DefaultConfig())

	const n = 32
	locks := make([]*Lock, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			locks[i] = shim.NewLock()
			shim.Acquire(locks[i])
			shim.Release(locks[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	ids := map[kernel.MutexID]bool{}
	for _, l := range locks {
		if ids[l.ID()] {
			t.Fatalf("duplicate mutex id %d", l.ID())
		}
		ids[l.ID()] = true
	}
	if shim.HeapUsed() != n*lockFootprint {
		t.Fatalf("heap used = %d, want %d", shim.HeapUsed(), n*lockFootprint)
	}
}
