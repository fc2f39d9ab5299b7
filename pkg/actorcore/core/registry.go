package core

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// retiredCooldownSize bounds how many just-retired local ids the
// Registry remembers before it is willing to hand the same local id
// back out to a new service. skynet_handle.h does this with a simple
// monotonic counter that wraps at 24 bits and never revisits an id
// until the counter has cycled all the way around; an LRU gives the
// same "recently retired ids are off limits" behavior without
// needing the full 24-bit counter space kept live in memory.
const retiredCooldownSize = 4096

// entry is what the Registry stores per live handle.
type entry struct {
	queue   *serviceQueue
	handler Handler
	name    string

	// endless latches true once the watchdog observes this service's
	// worker stuck mid-dispatch; it lives on the service's own entry
	// (skynet_context_endless's target) rather than on the transient
	// per-worker Monitor, since a worker is reused across many
	// services but the stuck flag describes one of them.
	endless int32

	// cpuCost accumulates wall-clock nanoseconds spent inside this
	// service's Handler.Receive, when Options.Profile is enabled.
	cpuCost int64
}

// ServiceStats reports the per-service accounting a Registry tracks:
// accumulated handler time and the watchdog's stuck latch.
type ServiceStats struct {
	Handle  Handle
	CPUCost time.Duration
	Endless bool
}

// Registry is the handle table. It owns the mapping
// from Handle to (queue, Handler) and the name table layered over it,
// and is the only place that mints new local ids for this node.
type Registry struct {
	node uint8

	mu      sync.RWMutex
	entries map[Handle]*entry
	names   map[string]Handle

	nextLocal uint32
	cooldown  *lru.Cache[uint32, struct{}]

	log definition.Logger
}

// NewRegistry creates a Registry for node, the local harbor id used
// when minting handles (0 means this node runs without a harbor).
func NewRegistry(node uint8, log definition.Logger) *Registry {
	cooldown, err := lru.New[uint32, struct{}](retiredCooldownSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// retiredCooldownSize never is.
		panic(err)
	}
	return &Registry{
		node:     node,
		entries:  make(map[Handle]*entry),
		names:    make(map[string]Handle),
		cooldown: cooldown,
		log:      log,
	}
}

// Node returns the local harbor id this Registry mints handles with.
func (r *Registry) Node() uint8 {
	return r.node
}

// Register allocates a fresh Handle for handler and an initial empty
// queue, and returns it. Messages delivered to the handle are queued
// from now on, but none is dispatched until the caller publishes the
// service (Scheduler.Publish).
func (r *Registry) Register(handler Handler) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	local := r.allocateLocal()
	h := NewHandle(r.node, local)
	r.entries[h] = &entry{
		queue:   newServiceQueue(h),
		handler: handler,
	}
	return h
}

// allocateLocal mints the next local id, skipping zero (never valid)
// and anything still in the retired cooldown window or currently
// live. Caller holds r.mu.
func (r *Registry) allocateLocal() uint32 {
	for {
		r.nextLocal++
		local := r.nextLocal & localMask
		if local == 0 {
			continue
		}
		if r.cooldown.Contains(local) {
			continue
		}
		if _, live := r.entries[NewHandle(r.node, local)]; live {
			continue
		}
		return local
	}
}

// Grab returns the queue and handler for h, or ok=false if h is not
// currently registered (either never existed, or was retired).
func (r *Registry) Grab(h Handle) (q *serviceQueue, handler Handler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, nil, false
	}
	return e.queue, e.handler, true
}

// MarkEndless flags h's service as stuck, called by the watchdog once
// it observes a worker making no progress on a dispatch to h. A no-op
// if h is not (or no longer) registered.
func (r *Registry) MarkEndless(h Handle) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if ok {
		atomic.StoreInt32(&e.endless, 1)
	}
}

// ClearEndless resets h's stuck latch, for a caller that wants to
// observe a single stuck episode rather than a sticky flag.
func (r *Registry) ClearEndless(h Handle) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if ok {
		atomic.StoreInt32(&e.endless, 0)
	}
}

// Endless reports whether h is currently flagged stuck.
func (r *Registry) Endless(h Handle) bool {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	return ok && atomic.LoadInt32(&e.endless) != 0
}

// AddCPUCost accumulates d onto h's running handler-time total.
func (r *Registry) AddCPUCost(h Handle, d time.Duration) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if ok {
		atomic.AddInt64(&e.cpuCost, int64(d))
	}
}

// Stats reports h's accumulated accounting. ok is false if h is not
// currently registered.
func (r *Registry) Stats(h Handle) (stats ServiceStats, ok bool) {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		return ServiceStats{}, false
	}
	return ServiceStats{
		Handle:  h,
		CPUCost: time.Duration(atomic.LoadInt64(&e.cpuCost)),
		Endless: atomic.LoadInt32(&e.endless) != 0,
	}, true
}

// Retire removes h from the registry, returning its queue and handler
// (the caller must mark the queue released and let the scheduler drain
// it, then run the handler's Release) and whether h was live. The
// local id enters the cooldown window and will not be reissued until
// it ages out of the LRU.
func (r *Registry) Retire(h Handle) (q *serviceQueue, handler Handler, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok {
		return nil, nil, false
	}
	delete(r.entries, h)
	if e.name != "" {
		delete(r.names, e.name)
	}
	r.cooldown.Add(h.Local(), struct{}{})
	return e.queue, e.handler, true
}

// NameHandle binds name to h, so FindName(name) resolves to it. It
// fails if the name is already bound to a different live handle.
func (r *Registry) NameHandle(name string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.names[name]; ok && existing != h {
		return ErrNameExists
	}
	e, ok := r.entries[h]
	if !ok {
		return ErrServiceNotFound
	}
	e.name = name
	r.names[name] = h
	return nil
}

// FindName resolves a previously registered name to its Handle.
func (r *Registry) FindName(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.names[name]
	return h, ok
}

// Len reports the number of live services, for diagnostics/tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
