package core

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a test-and-set lock backed by a single atomic flag. It
// ports the default (non-pthread-spinlock) branch of spinlock.h: the
// critical sections it protects here are a handful of slice/pointer
// operations, short enough that parking on a mutex costs more than it
// saves.
type Spinlock struct {
	flag uint32
}

// Lock spins until the flag can be claimed, yielding the processor
// between attempts the way spinlock.h's fallback does with
// sched_yield.
func (s *Spinlock) Lock() {
	for !atomic.CompareAndSwapUint32(&s.flag, 0, 1) {
		runtime.Gosched()
	}
}

// Unlock releases the flag. Calling Unlock on an unlocked Spinlock is
// a caller error, same as the C original.
func (s *Spinlock) Unlock() {
	atomic.StoreUint32(&s.flag, 0)
}

// TryLock attempts to claim the flag without spinning, reporting
// whether it succeeded.
func (s *Spinlock) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.flag, 0, 1)
}
