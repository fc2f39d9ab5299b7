package core

import (
	"sync/atomic"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// Monitor watches one worker goroutine for a handler stuck processing
// a single message: the worker bumps version before dispatch, and a
// periodic Check compares it against the last value it saw. No
// movement between two checks means the worker hasn't returned from
// Handler.Receive in at least one check interval, which is the same
// signal skynet_monitor.c uses (ATOM_FINC before push, compared
// against check_version on each monitor tick). The stuck latch itself
// lives on the destination service's Registry entry, not here: a
// Monitor is reused across many services over a worker's lifetime, so
// skynet_context_endless's target is the service, not the worker.
type Monitor struct {
	version      uint64
	checkVersion uint64

	// source/destination are stored atomically: workers write them on
	// every dispatch while the watchdog goroutine reads them on its
	// own schedule.
	source      uint32
	destination uint32

	registry *Registry

	log     definition.Logger
	metrics Metrics
}

// NewMonitor creates a Monitor that logs through log and marks stuck
// services on registry. metrics may be nil, in which case stuck
// detections are only logged.
func NewMonitor(log definition.Logger, metrics Metrics, registry *Registry) *Monitor {
	return &Monitor{log: log, metrics: metrics, registry: registry}
}

// Trigger records that a dispatch from source to destination is about
// to begin, bumping the version counter the watchdog polls.
func (m *Monitor) Trigger(source, destination Handle) {
	atomic.StoreUint32(&m.source, uint32(source))
	atomic.StoreUint32(&m.destination, uint32(destination))
	atomic.AddUint64(&m.version, 1)
}

// Check compares the current version against the last-seen value. If
// they're equal, the worker hasn't completed a dispatch since the
// last Check, so the destination service is flagged endless (via
// Registry.MarkEndless) and logged. Otherwise the last-seen value is
// simply advanced.
func (m *Monitor) Check() {
	v := atomic.LoadUint64(&m.version)
	if v == m.checkVersion {
		destination := Handle(atomic.LoadUint32(&m.destination))
		if destination != NoHandle {
			if m.registry != nil {
				m.registry.MarkEndless(destination)
			}
			if m.log != nil {
				m.log.Errorf("a message from [:%08x] to [:%08x] may be in an endless loop (version = %d)",
					atomic.LoadUint32(&m.source), uint32(destination), v)
			}
			if m.metrics != nil {
				m.metrics.IncStuck()
			}
		}
		return
	}
	m.checkVersion = v
}
