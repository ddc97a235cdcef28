package kernel

import (
	"fmt"
	"sync"
	"time"
)

// MutexNew creates a mutex with the given attributes. Like ThreadNew it
// refuses to rebind a static control block that already belongs to a
// mutex identity.
func (s *Sim) MutexNew(attr MutexAttr) (MutexID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attr.Control != nil && attr.Control.bound {
		return 0, fmt.Errorf("kernel: mutex %q: %w", attr.Name, ErrControlBound)
	}

	s.nextMutex++
	m := &simMutex{
		id:   s.nextMutex,
		attr: attr,
		cond: sync.NewCond(&s.mu),
	}
	s.mutexes[m.id] = m
	if attr.Control != nil {
		attr.Control.id = m.id
		attr.Control.bound = true
	}
	return m.id, nil
}

// MutexDelete removes the mutex. Waiters blocked on it are woken and fail
// their acquire. A static control block backing the mutex becomes reusable,
// which is what lets fixed lock pools recycle their slots.
func (s *Sim) MutexDelete(id MutexID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mutexes[id]
	if m == nil {
		return ErrInvalidMutex
	}
	delete(s.mutexes, id)
	if m.attr.Control != nil {
		m.attr.Control.bound = false
	}
	m.cond.Broadcast()
	return nil
}

// MutexAcquire takes the mutex for the calling thread. NoWait polls,
// WaitForever blocks without bound; a positive timeout bounds the wait.
// Re-acquiring a recursive mutex increments its depth; on a non-recursive
// mutex it is reported as a deadlock instead of blocking the owner on
// itself.
func (s *Sim) MutexAcquire(id MutexID, timeout Timeout) error {
	gid := currentGID()

	s.mu.Lock()
	defer s.mu.Unlock()
	self := s.callerThreadLocked(gid)

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(time.Duration(timeout))
		// The cond has no timed wait; a timer wakes the waiter so it can
		// observe the deadline.
		t := time.AfterFunc(time.Duration(timeout), func() {
			s.mu.Lock()
			if m := s.mutexes[id]; m != nil {
				m.cond.Broadcast()
			}
			s.mu.Unlock()
		})
		defer t.Stop()
	}

	for {
		m := s.mutexes[id]
		if m == nil {
			return ErrInvalidMutex
		}
		switch {
		case m.owner == 0:
			m.owner = self
			m.depth = 1
			return nil
		case m.owner == self:
			if m.attr.Recursive {
				m.depth++
				return nil
			}
			return ErrDeadlock
		}

		if timeout == NoWait {
			return ErrTimeout
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return ErrTimeout
		}
		s.boostOwner(m, self)
		m.cond.Wait()
	}
}

// boostOwner applies priority inheritance: a waiter of higher priority
// raises the owner's effective priority for as long as it holds the mutex.
// Caller holds s.mu.
func (s *Sim) boostOwner(m *simMutex, waiter ThreadID) {
	if !m.attr.PrioInherit {
		return
	}
	w, o := s.threads[waiter], s.threads[m.owner]
	if w == nil || o == nil {
		return
	}
	if w.effPrio > o.effPrio {
		o.effPrio = w.effPrio
	}
}

// MutexRelease releases one level of ownership. The mutex becomes free
// only when the recursion depth reaches zero; any inherited priority boost
// is dropped at that point.
func (s *Sim) MutexRelease(id MutexID) error {
	gid := currentGID()

	s.mu.Lock()
	defer s.mu.Unlock()
	self := s.callerThreadLocked(gid)
	m := s.mutexes[id]
	if m == nil {
		return ErrInvalidMutex
	}
	if m.owner != self {
		return ErrNotOwner
	}

	m.depth--
	if m.depth > 0 {
		return nil
	}
	if t := s.threads[m.owner]; t != nil {
		t.effPrio = t.basePrio
	}
	m.owner = 0
	m.cond.Broadcast()
	return nil
}
