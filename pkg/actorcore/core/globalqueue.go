package core

import (
	"sync"

	"github.com/eapache/queue"
)

// globalQueue is the "queue of queues": a FIFO of
// service queues that currently have at least one pending message.
// Workers Pop a *serviceQueue, dispatch a weighted batch of its
// messages, and Push it back when other queues are waiting, like skynet_globalmq_push/pop's
// singly-linked list — the linked list is replaced here by
// eapache/queue's ring buffer, which gives the same amortized-growth
// FIFO discipline without a hand-rolled second ring on top of the one
// in queue.go.
type globalQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *queue.Queue

	// sleeping counts workers currently parked in Pop. Push signals
	// the condition on every call regardless of this count; an extra
	// signal with nobody parked is a no-op.
	sleeping int

	quit bool
}

func newGlobalQueue() *globalQueue {
	g := &globalQueue{items: queue.New()}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Push links q into the FIFO and wakes one sleeping worker if any.
func (g *globalQueue) Push(q *serviceQueue) {
	g.mu.Lock()
	g.items.Add(q)
	g.mu.Unlock()
	g.cond.Signal()
}

// Pop blocks until a service queue is available or Stop is called, in
// which case ok is false.
func (g *globalQueue) Pop() (q *serviceQueue, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.items.Length() == 0 {
		if g.quit {
			return nil, false
		}
		g.sleeping++
		g.cond.Wait()
		g.sleeping--
	}
	q = g.items.Remove().(*serviceQueue)
	return q, true
}

// Len reports the number of service queues currently pending.
func (g *globalQueue) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.items.Length()
}

// Stop wakes every worker parked in Pop and makes future Pop calls
// return immediately with ok=false.
func (g *globalQueue) Stop() {
	g.mu.Lock()
	g.quit = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
