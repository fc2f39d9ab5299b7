package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// tickInterval is the timer thread's sleep between wheel updates,
// 2.5 milliseconds verbatim from skynet_start.c's thread_timer
// (usleep(2500)).
const tickInterval = 2500 * time.Microsecond

// monitorInterval is how often the watchdog thread walks every
// worker's Monitor. skynet_start.c's thread_monitor sleeps 1 second
// five times (rather than one 5-second sleep) so quit is noticed
// within a second; here the context select gives the same shutdown
// responsiveness without slicing the interval.
const monitorInterval = 5 * time.Second

// SocketDriver is the external collaborator that owns real socket I/O
// on the scheduler's behalf: Poll is called in a loop on its own
// goroutine and should block until it has something to report. A
// return of (0, nil) requests shutdown, mirroring skynet_start.c's
// thread_socket loop where the poller returning the "exit" sentinel
// stops the node; a non-nil error also stops the driver's goroutine
// (logged, not retried). harbor.Harbor implements this over its TCP
// listener's accept loop (see Harbor.Poll); an embedder with no
// socket concern at all simply never calls SetSocketDriver.
type SocketDriver interface {
	Poll(ctx context.Context) (int, error)
}

// Scheduler owns the worker pool, the global queue, the timer wheel,
// and the per-worker watchdogs: the run-time heart of the whole
// package. It implements Sender so a Context can call back into it
// without a dependency cycle.
type Scheduler struct {
	registry *Registry
	global   *globalQueue
	wheel    *Wheel
	sessions sessionCounter

	log     definition.Logger
	metrics Metrics
	profile bool

	monitors []*Monitor
	socket   SocketDriver
	remote   func(Message) error

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// NewScheduler wires a Scheduler around an already-constructed
// Registry and Wheel. log/metrics may be the Noop variants. profile
// enables per-handler wall-clock accounting (Options.Profile), read
// back through Registry.Stats.
func NewScheduler(registry *Registry, wheel *Wheel, log definition.Logger, metrics Metrics, profile bool) *Scheduler {
	s := &Scheduler{
		registry: registry,
		global:   newGlobalQueue(),
		wheel:    wheel,
		log:      log,
		metrics:  metrics,
		profile:  profile,
	}
	wheel.Dispatch = s.fireTimer
	return s
}

// SetSocketDriver installs d as the goroutine Start launches alongside
// the worker pool, timer and watchdog. Must be called before Start;
// a nil d (the default) simply means no socket-driver goroutine runs.
func (s *Scheduler) SetSocketDriver(d SocketDriver) {
	s.mu.Lock()
	s.socket = d
	s.mu.Unlock()
}

// SetRemote installs the route for messages addressed to a foreign
// node: Deliver hands any message whose destination carries another
// node's id to fn instead of the local registry, the same fork
// skynet_send takes on skynet_harbor_message_isremote. Must be called
// before Start; a nil fn (the default) leaves foreign destinations to
// fail as unknown handles.
func (s *Scheduler) SetRemote(fn func(Message) error) {
	s.mu.Lock()
	s.remote = fn
	s.mu.Unlock()
}

// Deliver implements Sender: pushes msg onto its destination's queue,
// linking that queue into the global queue if it wasn't already
// scheduled. A message addressed to an unknown destination is
// dropped, and bounced back to its sender as a TypeError reply if it
// expected one (Session != 0), rather than left to silently vanish.
func (s *Scheduler) Deliver(msg Message) error {
	if s.remote != nil {
		if node := msg.Destination.Node(); node != 0 && node != s.registry.Node() {
			return s.remote(msg)
		}
	}
	q, _, ok := s.registry.Grab(msg.Destination)
	if !ok {
		if s.log != nil {
			s.log.Warnf("dropping message to unknown service :%08x", uint32(msg.Destination))
		}
		s.bounceError(msg.Destination, msg)
		return ErrServiceNotFound
	}
	if q.Push(msg) {
		s.global.Push(q)
	}
	return nil
}

// bounceError replies to msg's sender with a TypeError on the same
// session when msg itself could not be delivered to its destination,
// so a caller blocked on a Request-style reply is woken with a
// failure instead of waiting forever. Fire-and-forget sends (Session
// == 0), messages with no real sender (Source == NoHandle), and error
// replies themselves are never bounced, which rules out turning a
// missing destination into an infinite loop of error replies.
func (s *Scheduler) bounceError(destination Handle, msg Message) {
	if msg.Session == 0 || msg.Type == TypeError || msg.Source == NoHandle {
		return
	}
	_ = s.Deliver(Message{
		Source:      destination,
		Destination: msg.Source,
		Session:     msg.Session,
		Type:        TypeError,
	})
}

// NextSession implements Sender.
func (s *Scheduler) NextSession() uint64 {
	return s.sessions.allocate()
}

// Publish links a freshly registered service's queue so the
// scheduler starts dispatching to it. Registry.Register alone does
// not do this: a caller may want to finish setting up a service
// before it starts receiving messages.
func (s *Scheduler) Publish(h Handle) {
	q, _, ok := s.registry.Grab(h)
	if !ok {
		return
	}
	s.global.Push(q)
}

// Retire removes the service at h from outside a handler. Its queue
// is scheduled one final time so a worker drains it — bouncing a
// TypeError to every dropped sender that expected a reply — and runs
// the handler's Release. Reports whether h was live.
func (s *Scheduler) Retire(h Handle) bool {
	q, handler, ok := s.registry.Retire(h)
	if !ok {
		return false
	}
	if q.MarkRelease(handler) {
		s.global.Push(q)
	}
	return true
}

// After schedules a TypeResponse message carrying session back to
// self, delayTicks centiseconds from now (0 or negative delivers
// immediately), mirroring skynet_timeout.
func (s *Scheduler) After(self Handle, session uint64, delayTicks int) {
	if delayTicks <= 0 {
		_ = s.Deliver(Message{Destination: self, Session: session, Type: TypeResponse})
		return
	}
	s.wheel.Add(self, session, delayTicks)
}

func (s *Scheduler) fireTimer(ev timerEvent) {
	if s.metrics != nil {
		s.metrics.IncTimersFired()
	}
	_ = s.Deliver(Message{Destination: ev.handle, Session: ev.session, Type: TypeResponse})
}

// Start launches workerCount worker goroutines plus the timer and
// watchdog goroutines, and blocks until Stop is called or ctx is
// canceled, at which point every goroutine is joined before Start
// returns. It mirrors skynet_start.c's start(): bring up the fixed
// system threads first, bring up the worker pool with the static
// weight table, then join everything on shutdown.
func (s *Scheduler) Start(ctx context.Context, workerCount int) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	s.group = group
	socket := s.socket
	s.mu.Unlock()

	s.monitors = make([]*Monitor, workerCount)
	for i := range s.monitors {
		s.monitors[i] = NewMonitor(s.log, s.metrics, s.registry)
	}

	group.Go(func() error {
		s.runTimer(gctx)
		return nil
	})
	group.Go(func() error {
		s.runWatchdog(gctx)
		return nil
	})
	if socket != nil {
		group.Go(func() error {
			s.runSocket(gctx, socket)
			return nil
		})
	}
	for i := 0; i < workerCount; i++ {
		weight := WeightTable(i)
		mon := s.monitors[i]
		group.Go(func() error {
			s.runWorker(gctx, mon, weight)
			return nil
		})
	}

	return group.Wait()
}

// Stop cancels the run context and wakes every worker parked on the
// global queue's condition variable. It does not wait: Start returns
// once every goroutine has been joined.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.global.Stop()
}

func (s *Scheduler) runWorker(ctx context.Context, mon *Monitor, weight int) {
	var q *serviceQueue
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		next := s.dispatchOne(mon, q, weight)
		if next == nil {
			var ok bool
			next, ok = s.global.Pop()
			if !ok {
				return
			}
		}
		q = next
	}
}

func (s *Scheduler) runTimer(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.global.Stop()
			return
		case <-ticker.C:
			if _, backwards := s.wheel.Update(); backwards && s.log != nil {
				s.log.Warnf("system clock moved backwards; timer wheel resynced without firing")
			}
		}
	}
}

// runSocket drives driver.Poll on its own goroutine until ctx is
// canceled, driver reports shutdown (n == 0), or it errors.
func (s *Scheduler) runSocket(ctx context.Context, driver SocketDriver) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := driver.Poll(ctx)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("socket driver poll error: %v", err)
			}
			return
		}
		if n == 0 {
			s.Stop()
			return
		}
	}
}

func (s *Scheduler) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mon := range s.monitors {
				mon.Check()
			}
		}
	}
}
