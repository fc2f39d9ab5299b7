package actorcore

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/jabolina/actorcore/pkg/actorcore/core"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
	"github.com/jabolina/actorcore/pkg/actorcore/harbor"
)

// Runtime wires a Registry, a Scheduler, a Wheel and a Harbor into the
// single object an embedder starts and stops. It plays the role the
// teacher's Unity plays for a multicast group: construct every
// dependency up front, expose a run loop, and make Shutdown block
// until every goroutine has actually stopped.
type Runtime struct {
	node uint8

	registry  *core.Registry
	scheduler *core.Scheduler
	wheel     *core.Wheel
	harbor    *harbor.Harbor

	// harborService/harborHandle are set only when the node has a
	// harbor id: the router then runs as a service on the scheduler
	// and answers N/S/A control commands sent to it as messages.
	harborService *harbor.Service
	harborHandle  Handle

	log  definition.Logger
	opts Options

	mu       sync.Mutex
	started  bool
	shutdown bool
	done     chan struct{}
}

// New constructs a Runtime from opts without starting it; call Run to
// bring the scheduler and its goroutines up.
func New(opts Options) *Runtime {
	log := opts.logger()
	metrics := opts.metrics()

	registry := core.NewRegistry(opts.Harbor, log)
	wheel := core.NewWheel()
	scheduler := core.NewScheduler(registry, wheel, log, metrics, opts.Profile)

	r := &Runtime{
		node:      opts.Harbor,
		registry:  registry,
		scheduler: scheduler,
		wheel:     wheel,
		log:       log,
		opts:      opts,
		done:      make(chan struct{}),
	}
	r.harbor = harbor.NewHarbor(opts.Harbor, r.scheduler, harbor.NopHelper{}, log)
	if opts.Metrics != nil {
		r.harbor.SetMetrics(opts.Metrics)
	}

	if opts.Harbor != 0 {
		// A node with a harbor id runs the router as a distinguished
		// service under the well-known "harbor" name, and every message
		// the scheduler sees for a foreign node id detours through it,
		// the fork skynet_send takes on skynet_harbor_message_isremote.
		r.harborService = harbor.NewService(r.harbor)
		r.harborHandle = registry.Register(r.harborService)
		scheduler.Publish(r.harborHandle)
		_ = registry.NameHandle("harbor", r.harborHandle)
		scheduler.SetRemote(func(m core.Message) error {
			return r.harbor.SendByHandle(m.Source, m.Destination, m.Type, m.Session, m.Payload)
		})
	}
	return r
}

// HarborService returns the handle of the router service, or NoHandle
// when Options.Harbor was 0 and the node runs standalone. Control
// commands (N/S/A lines) are sent to this handle as TypeHarbor
// messages.
func (r *Runtime) HarborService() Handle {
	return r.harborHandle
}

// Spawn registers handler and publishes its queue so it starts
// receiving messages, returning its Handle.
func (r *Runtime) Spawn(handler Handler) Handle {
	h := r.registry.Register(handler)
	r.scheduler.Publish(h)
	return h
}

// Retire removes the service at h: no handler for h is ever invoked
// again, messages still queued are drained with TypeError replies for
// non-zero sessions, and the handler's Release runs after the drain.
// Reports whether h was live.
func (r *Runtime) Retire(h Handle) bool {
	return r.scheduler.Retire(h)
}

// Name binds name to h so Resolve(name) and remote Q lookups find it.
func (r *Runtime) Name(name string, h Handle) error {
	if err := r.registry.NameHandle(name, h); err != nil {
		return err
	}
	r.harbor.UpdateName(name, uint32(h))
	return nil
}

// Resolve looks up a locally-bound name.
func (r *Runtime) Resolve(name string) (Handle, bool) {
	return r.registry.FindName(name)
}

// Harbor exposes the cross-node router for callers that need to wire
// up Listen/Connect/Accept themselves (connection bring-up is driven
// by whatever cluster-membership mechanism the embedder uses; see
// harbor.Helper).
func (r *Runtime) Harbor() *harbor.Harbor {
	return r.harbor
}

// ListenHarbor starts accepting inbound peer connections on addr and
// wires the harbor's accept loop in as the scheduler's socket driver,
// so accepting peers runs on its own goroutine joined by the same
// shutdown path as the worker/timer/watchdog goroutines instead of a
// hand-rolled accept loop. onAccept is called with each accepted
// connection so the caller's own discovery layer can learn the peer's
// node id before calling Harbor().Accept(id, conn).
func (r *Runtime) ListenHarbor(addr string, onAccept func(net.Conn)) error {
	if err := r.harbor.Listen(addr); err != nil {
		return err
	}
	r.harbor.SetOnAccept(onAccept)
	r.scheduler.SetSocketDriver(r.harbor)
	return nil
}

// ParkConn stashes an accepted peer connection on the router service
// until an "A <token> <id>" control command claims it, returning the
// claim token. ok is false on a standalone node (Options.Harbor 0),
// which has no router service to park on. Typical wiring: the
// ListenHarbor callback parks each connection and hands the token to
// the discovery layer, which answers with the A command once it knows
// the peer's node id.
func (r *Runtime) ParkConn(conn net.Conn) (token string, ok bool) {
	if r.harborService == nil {
		return "", false
	}
	return r.harborService.Park(conn), true
}

// Stats reports per-service accounting for h: accumulated handler
// time (populated only when Options.Profile is set) and whether the
// watchdog currently considers it stuck. ok is false if h is not
// currently registered.
func (r *Runtime) Stats(h Handle) (ServiceStats, bool) {
	return r.registry.Stats(h)
}

// Send delivers payload to destination without expecting a reply.
func (r *Runtime) Send(source, destination Handle, msgType TypeTag, payload []byte) error {
	return r.scheduler.Deliver(Message{Source: source, Destination: destination, Type: msgType, Payload: payload})
}

// After schedules a TypeResponse message carrying session back to
// self, delayTicks centiseconds from now.
func (r *Runtime) After(self Handle, session uint64, delayTicks int) {
	r.scheduler.After(self, session, delayTicks)
}

// Run initializes the timing wheel's clock reference, writes the
// daemon pid file if configured, runs opts.Bootstrap if set, and then
// blocks running the scheduler's worker pool until ctx is canceled or
// Shutdown is called. This mirrors skynet_start's init order (harbor,
// handle, mq, timer all exist before the bootstrap service is
// created) followed by start()'s thread bring-up.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("actorcore: runtime already started")
	}
	r.started = true
	r.mu.Unlock()

	r.wheel.Init()

	if r.opts.Daemon != "" {
		if err := writePIDFile(r.opts.Daemon); err != nil {
			return fmt.Errorf("actorcore: writing pid file: %w", err)
		}
		defer os.Remove(r.opts.Daemon)
	}

	if r.opts.Bootstrap != nil {
		if err := r.opts.Bootstrap(r); err != nil {
			// A bootstrap failure is fatal, same as skynet_start's
			// bootstrap(): there is no service worth running without it.
			return fmt.Errorf("actorcore: bootstrap failed: %w", err)
		}
	}

	err := r.scheduler.Start(ctx, r.opts.Threads)
	close(r.done)
	return err
}

// Shutdown stops the scheduler and waits for Run to return.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	r.shutdown = true
	r.mu.Unlock()

	r.scheduler.Stop()
	<-r.done
	_ = r.harbor.Close()
}

// writePIDFile fails fast if path already names a pid that's still
// alive, mirroring skynet_daemon.c's check_pid guard, rather than
// silently overwriting another running instance's daemon file. A
// stale file left behind by a process that exited without cleaning up
// is simply overwritten.
func writePIDFile(path string) error {
	if existing, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(existing))); perr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("pid file %s already held by running process %d", path, pid)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// processAlive reports whether pid refers to a running process, using
// the POSIX convention of probing with signal 0 (delivery is checked,
// nothing is actually sent). On a GOOS where Signal doesn't support
// that probe, this conservatively reports false.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
