package definition

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the collectors the scheduler, message queues and
// watchdog register against. A caller that already runs a Prometheus
// registry passes it to NewMetrics; NewNoopMetrics is for tests and
// for embedders that don't want a /metrics endpoint at all.
type Metrics struct {
	QueueLength     prometheus.Gauge
	QueueOverloads  prometheus.Counter
	MessagesHandled prometheus.Counter
	HandlerStuck    prometheus.Counter
	TimersFired     prometheus.Counter
	HarborPeers     prometheus.Gauge
	HarborFrames    prometheus.Counter
}

// NewMetrics registers the collectors against reg and returns the
// handles used to update them. reg may be prometheus.NewRegistry() or
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "actorcore",
			Name:      "global_queue_length",
			Help:      "Number of service queues currently pending on the global queue.",
		}),
		QueueOverloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actorcore",
			Name:      "queue_overload_total",
			Help:      "Number of times a service queue crossed its overload threshold.",
		}),
		MessagesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actorcore",
			Name:      "messages_handled_total",
			Help:      "Number of messages dispatched to a Handler.",
		}),
		HandlerStuck: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actorcore",
			Name:      "handler_stuck_total",
			Help:      "Number of times the watchdog detected a handler stuck processing one message.",
		}),
		TimersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actorcore",
			Name:      "timers_fired_total",
			Help:      "Number of timer nodes executed by the timing wheel.",
		}),
		HarborPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "actorcore",
			Name:      "harbor_peers_connected",
			Help:      "Number of harbor peer links currently not DOWN.",
		}),
		HarborFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "actorcore",
			Name:      "harbor_frames_total",
			Help:      "Number of harbor wire frames sent or received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.QueueLength,
			m.QueueOverloads,
			m.MessagesHandled,
			m.HandlerStuck,
			m.TimersFired,
			m.HarborPeers,
			m.HarborFrames,
		)
	}
	return m
}

// NewNoopMetrics returns collectors that are never registered against
// any registry; updating them is safe but observes nothing.
func NewNoopMetrics() *Metrics {
	return NewMetrics(nil)
}
