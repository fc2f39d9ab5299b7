// Package testkit holds test-helper constructors shared across this
// module's _test.go files: a runtime builder, a wait-with-timeout, and
// a stuck-goroutine stack dumper. It is not itself a _test.go file so
// it can be imported from any package's tests.
package testkit

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/jabolina/actorcore/pkg/actorcore"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// EchoHandler answers every request (a message with a non-zero Session
// that is not itself a response or an error) with the same payload it
// received, recording each message it saw for assertions.
type EchoHandler struct {
	Received chan *actorcore.Message
}

// NewEchoHandler creates an EchoHandler with a buffered channel large
// enough that a test sending a handful of messages never blocks on
// Receive.
func NewEchoHandler() *EchoHandler {
	return &EchoHandler{Received: make(chan *actorcore.Message, 64)}
}

func (e *EchoHandler) Receive(ctx *actorcore.Context, msg *actorcore.Message) actorcore.Directive {
	cp := *msg
	e.Received <- &cp
	if msg.Session != 0 && msg.Type != actorcore.TypeResponse && msg.Type != actorcore.TypeError {
		_ = ctx.Reply(msg, actorcore.TypeResponse, msg.Payload)
	}
	return actorcore.Continue
}

func (e *EchoHandler) Release() {}

// StuckHandler blocks in Receive until Unblock is called, for
// exercising the watchdog.
type StuckHandler struct {
	unblock chan struct{}
}

func NewStuckHandler() *StuckHandler {
	return &StuckHandler{unblock: make(chan struct{})}
}

func (s *StuckHandler) Receive(ctx *actorcore.Context, msg *actorcore.Message) actorcore.Directive {
	<-s.unblock
	return actorcore.Continue
}

func (s *StuckHandler) Release() {}

func (s *StuckHandler) Unblock() {
	close(s.unblock)
}

// NewTestRuntime builds a Runtime with a handful of worker goroutines
// and noop logging/metrics, started in the background; t.Cleanup
// handles shutdown.
func NewTestRuntime(t *testing.T, threads int) *actorcore.Runtime {
	t.Helper()
	opts := actorcore.DefaultOptions()
	opts.Threads = threads
	opts.Logger = definition.NewNoopLogger()
	opts.Metrics = definition.NewNoopMetrics()

	rt := actorcore.New(opts)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.Run(ctx)
	}()

	t.Cleanup(func() {
		rt.Shutdown()
		cancel()
		<-errCh
	})

	return rt
}

// WaitThisOrTimeout runs cb in a goroutine and reports whether it
// finished before duration elapses.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// PrintStackTrace dumps every goroutine's stack into t's log, for
// diagnosing a test that deadlocked instead of failing cleanly.
func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Logf("%s", buf[:n])
}
