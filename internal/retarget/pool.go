package retarget

import (
	"sync"
)

// LockPool hands out locks from a fixed set of static slots, for runtimes
// that allocate their system and file locks on demand rather than naming
// them up front. Exhausting the pool is fatal; the capacity is a
// compile-time decision and there is nothing to retry.
type LockPool struct {
	shim      *Shim
	name      string
	recursive bool

	mu    sync.Mutex
	slots []poolSlot
}

type poolSlot struct {
	lock Lock
	used bool
}

func newLockPool(shim *Shim, name string, capacity int, recursive bool) *LockPool {
	return &LockPool{
		shim:      shim,
		name:      name,
		recursive: recursive,
		slots:     make([]poolSlot, capacity),
	}
}

// Alloc claims a free slot and creates its mutex.
func (p *LockPool) Alloc() *Lock {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		sl := &p.slots[i]
		if sl.used {
			continue
		}
		sl.used = true
		sl.lock.id = p.shim.newLock(p.name+"_mutex", p.recursive, &sl.lock.ctl)
		return &sl.lock
	}

	p.shim.fatalf("retarget: not enough %s mutexes", p.name)
	return nil
}

// Free deletes the lock's mutex and returns the slot to the pool.
func (p *LockPool) Free(l *Lock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		sl := &p.slots[i]
		if sl.used && &sl.lock == l {
			if err := p.shim.kern.MutexDelete(sl.lock.id); err != nil {
				p.shim.fatalf("retarget: free %s mutex: %v", p.name, err)
			}
			sl.lock.id = 0
			sl.used = false
			return
		}
	}
	p.shim.fatalf("retarget: free of lock not owned by %s pool", p.name)
}

// InUse reports how many slots are currently claimed.
func (p *LockPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.slots {
		if p.slots[i].used {
			n++
		}
	}
	return n
}

// Cap is the pool's fixed capacity.
func (p *LockPool) Cap() int { return len(p.slots) }
