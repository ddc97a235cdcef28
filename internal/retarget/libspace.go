package retarget

import "github.com/ferrum-rtos/ferrum/internal/kernel"

// BindMain records the main thread's identity and marks the scheduler as
// started. The pre-entry routine calls it first thing on the main thread;
// until then every identity maps to the shared static state.
func (s *Shim) BindMain(id kernel.ThreadID) {
	s.mainThread.Store(uint64(id))
	s.started.Store(true)
}

// LibSpace returns the reentrant library state for the given thread
// identity.
//
// The main thread, and every caller before the scheduler has started, gets
// the single shared static instance. Other threads claim a slot in the
// fixed table on first use and keep it for the life of the process; slots
// are never reclaimed. When the table is full the exhaustion is reported
// to the kernel's error-notify collaborator and the shared instance is
// returned as a degraded fallback, so the caller keeps running at the cost
// of possible reentrancy clashes with the main thread. The fallback is
// counted; see ExhaustedCount.
func (s *Shim) LibSpace(id kernel.ThreadID) *ReentState {
	if !s.started.Load() || uint64(id) == s.mainThread.Load() {
		return &s.mainState
	}

	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	free := -1
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.owner == id {
			return &sl.state
		}
		if sl.owner == 0 && free < 0 {
			free = i
		}
	}
	if free >= 0 {
		s.slots[free] = libSlot{owner: id, state: defaultReentState()}
		return &s.slots[free].state
	}

	s.exhausted.Add(1)
	s.kern.Notify(kernel.ErrorLibSpaceExhausted, id)
	return &s.mainState
}

// ExhaustedCount reports how many times LibSpace fell back to the shared
// state because the slot table was full.
func (s *Shim) ExhaustedCount() uint64 {
	return s.exhausted.Load()
}
