package core

import "github.com/jabolina/actorcore/pkg/actorcore/definition"

// Metrics is the narrow view onto definition.Metrics that core needs,
// kept as an interface (rather than importing *definition.Metrics
// directly everywhere) so tests can supply a stub without wiring a
// real prometheus registry.
type Metrics interface {
	IncStuck()
	IncQueueOverload()
	IncMessagesHandled()
	IncTimersFired()
	SetQueueLength(n int)
}

// metricsAdapter wraps *definition.Metrics to satisfy Metrics.
type metricsAdapter struct {
	m *definition.Metrics
}

// NewMetricsAdapter wraps m as a core.Metrics. m must not be nil.
func NewMetricsAdapter(m *definition.Metrics) Metrics {
	return &metricsAdapter{m: m}
}

func (a *metricsAdapter) IncStuck()            { a.m.HandlerStuck.Inc() }
func (a *metricsAdapter) IncQueueOverload()    { a.m.QueueOverloads.Inc() }
func (a *metricsAdapter) IncMessagesHandled()  { a.m.MessagesHandled.Inc() }
func (a *metricsAdapter) IncTimersFired()      { a.m.TimersFired.Inc() }
func (a *metricsAdapter) SetQueueLength(n int) { a.m.QueueLength.Set(float64(n)) }
