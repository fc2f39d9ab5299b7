package core

import (
	"runtime/debug"
	"time"
)

// WeightTable assigns a dispatch weight to each worker by index,
// verbatim from skynet_start.c's static weight[] array: the first 4
// workers get -1 (process exactly one message per visit to a queue,
// for low per-message latency), the next 4 get 0 (drain the queue
// completely each visit), the next 8 get 1 (process half the queue's
// current length), the next 8 get 2 (a quarter), the next 8 get 3 (an
// eighth), and any worker beyond index 31 defaults to 0.
func WeightTable(index int) int {
	switch {
	case index < 4:
		return -1
	case index < 8:
		return 0
	case index < 16:
		return 1
	case index < 24:
		return 2
	case index < 32:
		return 3
	default:
		return 0
	}
}

// dispatchOne runs the §4.2 dispatch algorithm for one worker visit:
// pop a service queue from global (or reuse the one passed in), pop
// and deliver some number of messages from it governed by weight, and
// return the queue to hand to the next visit: another pending queue if
// one is waiting (q goes back on the global tail), otherwise q itself,
// or nil once q is drained or its service is gone and nothing else is
// pending. Only the initial pop for a nil q waits for work.
//
// weight < 0 always processes exactly one message. weight == 0
// processes the queue's entire current length. weight > 0 processes
// length >> weight messages, so higher weights starve a single busy
// queue less of the other queues' turn at this worker.
func (s *Scheduler) dispatchOne(mon *Monitor, q *serviceQueue, weight int) *serviceQueue {
	// tryPop takes the next pending queue without parking on the idle
	// condition the way globalQueue.Pop does; nil means none is pending.
	tryPop := func() *serviceQueue {
		s.global.mu.Lock()
		defer s.global.mu.Unlock()
		if s.global.items.Length() == 0 {
			return nil
		}
		return s.global.items.Remove().(*serviceQueue)
	}
	if q == nil {
		var ok bool
		q, ok = s.global.Pop()
		if !ok {
			return nil
		}
	}

	handle := q.Handle()
	queue, handler, ok := s.registry.Grab(handle)
	if !ok || queue != q {
		// Service was retired between the queue being linked and us
		// grabbing it; drop whatever is left, replying error to any
		// dropped message that expected one, run the retired handler's
		// Release, and move on.
		s.dropQueue(q)
		if rel := q.takeReleaser(); rel != nil {
			rel.Release()
		}
		return tryPop()
	}

	n := 1
	for i := 0; i < n; i++ {
		msg, popped := q.Pop()
		if !popped {
			return tryPop()
		}
		if i == 0 && weight >= 0 {
			n = q.Length() + 1
			n >>= uint(weight)
			if n < 1 {
				n = 1
			}
		}

		if overload := q.Overload(); overload > 0 && s.log != nil {
			s.log.Warnf("service :%08x may be overloaded, queue length = %d", uint32(handle), overload)
			if s.metrics != nil {
				s.metrics.IncQueueOverload()
			}
		}

		mon.Trigger(msg.Source, handle)
		exited := s.dispatchMessage(handler, handle, &msg)
		mon.Trigger(NoHandle, NoHandle)

		if s.metrics != nil {
			s.metrics.IncMessagesHandled()
		}

		if exited {
			// The handler is retired: stop processing this queue right
			// here rather than falling through to the next batched
			// message, and bounce an error reply for anything left
			// queued instead of silently discarding it.
			s.dropQueue(q)
			if rel := q.takeReleaser(); rel != nil {
				rel.Release()
			}
			return tryPop()
		}
	}

	if nq := tryPop(); nq != nil {
		s.global.Push(q)
		return nq
	}
	return q
}

// dispatchMessage invokes the handler and acts on the Directive it
// returns, reporting whether it was Exit. Exit retires the service
// immediately; the caller is responsible for draining whatever is
// still queued and for not invoking the handler again.
func (s *Scheduler) dispatchMessage(handler Handler, self Handle, msg *Message) (exited bool) {
	// A panicking handler must not take the worker (and the whole
	// process) down with it: the panic is logged with its stack, the
	// sender gets a TypeError reply if it expected any reply at all,
	// and the service stays registered for its next message.
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Errorf("service :%08x panicked handling %s from :%08x: %v\n%s",
					uint32(self), msg.Type, uint32(msg.Source), r, debug.Stack())
			}
			s.bounceError(self, *msg)
		}
	}()
	ctx := newContext(self, s, s.log)
	if s.profile {
		start := time.Now()
		defer func() { s.registry.AddCPUCost(self, time.Since(start)) }()
	}
	directive := handler.Receive(ctx, msg)
	if directive == Exit {
		if q, h, ok := s.registry.Retire(self); ok {
			if q.MarkRelease(h) {
				s.global.Push(q)
			}
		}
		return true
	}
	return false
}

// dropQueue empties q without dispatching anything, for a queue whose
// owning service is already gone (either retired mid-batch, or
// retired between being linked into the global queue and being
// grabbed here). Every dropped message with a non-zero Session gets a
// TypeError reply to its sender instead of being silently discarded,
// matching Deliver's drop-callback contract on the live-send path.
func (s *Scheduler) dropQueue(q *serviceQueue) {
	self := q.Handle()
	for {
		msg, ok := q.Pop()
		if !ok {
			return
		}
		s.bounceError(self, msg)
	}
}
