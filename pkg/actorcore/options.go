package actorcore

import (
	"github.com/jabolina/actorcore/pkg/actorcore/core"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// Options configures a Runtime. The field names and defaults follow
// skynet_imp.h's skynet_config struct field-for-field (thread,
// harbor, profile, daemon, bootstrap, logger, logservice); a Lua
// module path and a scripting-engine bootstrap are out of scope, so
// there is no equivalent field here.
type Options struct {
	// Threads is the worker pool size. skynet's weight table only
	// assigns distinct weights up to index 31; larger values still
	// work; everything past 31 gets weight 0.
	Threads int

	// Harbor is this node's 8-bit id in the cluster. 0 means
	// standalone: the harbor router is constructed but every remote
	// link starts (and stays) DOWN.
	Harbor uint8

	// Bootstrap optionally runs once inside Run, before any worker
	// starts, to register the first services, mirroring skynet_start's
	// bootstrap(ctx, config->bootstrap). An error it returns aborts Run.
	// A Runtime with no Bootstrap set starts with no services at all.
	Bootstrap func(r *Runtime) error

	// Logger is the Logger every Context exposes via Context.Log().
	// Defaults to definition.NewLogger() if nil.
	Logger definition.Logger

	// Metrics backs the prometheus collectors the scheduler, queues
	// and watchdog update. Defaults to definition.NewNoopMetrics() if
	// nil.
	Metrics *definition.Metrics

	// Profile toggles per-handler wall-clock accounting (the Go
	// stand-in for skynet_thread_time's CLOCK_THREAD_CPUTIME_ID
	// reading, since Go has no per-goroutine CPU clock).
	Profile bool

	// Daemon, if non-empty, is a PID file path: Run writes its pid
	// there when it starts and removes it when it returns, mirroring
	// skynet_daemon.c's daemon_init/daemon_exit contract without
	// forking the process (Go's runtime does not support the
	// double-fork daemonize pattern safely once goroutines exist).
	// Run fails fast if the file already names a pid that's still
	// alive instead of silently overwriting it.
	Daemon string

	// LogService names the service a SIGHUP asks to reopen its log
	// output, mirroring skynet_start.c relaying SIGHUP to ".logger";
	// the relay is a TypeSystem message. Defaults to "logger"; a Runtime with no
	// service bound to this name just logs a warning on SIGHUP.
	LogService string
}

// DefaultOptions returns an Options with an 8-worker scheduler, no
// harbor id, and default logger/metrics. Most embedders only need to
// override Threads and Bootstrap.
func DefaultOptions() Options {
	return Options{
		Threads:    8,
		Harbor:     0,
		Logger:     definition.NewLogger(),
		Metrics:    definition.NewNoopMetrics(),
		LogService: "logger",
	}
}

func (o Options) logger() definition.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return definition.NewLogger()
}

func (o Options) metrics() core.Metrics {
	if o.Metrics != nil {
		return core.NewMetricsAdapter(o.Metrics)
	}
	return core.NewMetricsAdapter(definition.NewNoopMetrics())
}
