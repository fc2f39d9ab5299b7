// Package stress runs higher-volume, higher-concurrency scenarios
// against a Runtime than the package-level unit tests do, in the
// style of the go-mcast project's fuzzy package: no failures are
// injected, the point is to confirm the system holds together under
// plain concurrent load and that every goroutine it spawns actually
// exits.
package stress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/actorcore/internal/testkit"
	"github.com/jabolina/actorcore/pkg/actorcore"
)

var alphabet = []string{
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j",
	"k", "l", "m", "n", "o", "p", "q", "r", "s", "t",
	"u", "v", "w", "x", "y", "z",
}

func TestStress_SequentialSends(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t, goleak.IgnoreCurrent()) })

	rt := testkit.NewTestRuntime(t, 4)
	handler := testkit.NewEchoHandler()
	target := rt.Spawn(handler)

	for _, letter := range alphabet {
		if err := rt.Send(actorcore.NoHandle, target, actorcore.TypeText, []byte(letter)); err != nil {
			t.Fatalf("failed sending %q: %v", letter, err)
		}
	}

	for i := 0; i < len(alphabet); i++ {
		if !testkit.WaitThisOrTimeout(func() { <-handler.Received }, 3*time.Second) {
			testkit.PrintStackTrace(t)
			t.Fatalf("timed out waiting for message %d/%d", i+1, len(alphabet))
		}
	}
}

func TestStress_ConcurrentSendsFromManyCallers(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t, goleak.IgnoreCurrent()) })

	rt := testkit.NewTestRuntime(t, 4)
	handler := testkit.NewEchoHandler()
	target := rt.Spawn(handler)

	var group sync.WaitGroup
	for i, letter := range alphabet {
		group.Add(1)
		go func(idx int, val string) {
			defer group.Done()
			if err := rt.Send(actorcore.NoHandle, target, actorcore.TypeText, []byte(val)); err != nil {
				t.Errorf("sender %d failed: %v", idx, err)
			}
		}(i, letter)
	}

	if !testkit.WaitThisOrTimeout(group.Wait, 10*time.Second) {
		t.Fatalf("not every concurrent sender finished within the deadline")
	}

	seen := 0
	for seen < len(alphabet) {
		if !testkit.WaitThisOrTimeout(func() { <-handler.Received }, 3*time.Second) {
			testkit.PrintStackTrace(t)
			t.Fatalf("only received %d/%d messages before timing out", seen, len(alphabet))
		}
		seen++
	}
}

func TestStress_ManyShortLivedServices(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t, goleak.IgnoreCurrent()) })

	rt := testkit.NewTestRuntime(t, 4)

	const count = 200
	var group sync.WaitGroup
	for i := 0; i < count; i++ {
		group.Add(1)
		go func(idx int) {
			defer group.Done()
			h := exitingHandler{done: make(chan struct{})}
			handle := rt.Spawn(&h)
			if err := rt.Send(actorcore.NoHandle, handle, actorcore.TypeText, []byte(fmt.Sprintf("msg-%d", idx))); err != nil {
				t.Errorf("service %d: send failed: %v", idx, err)
				return
			}
			select {
			case <-h.done:
			case <-time.After(3 * time.Second):
				t.Errorf("service %d never exited", idx)
			}
		}(i)
	}

	if !testkit.WaitThisOrTimeout(group.Wait, 15*time.Second) {
		testkit.PrintStackTrace(t)
		t.Fatalf("not every short-lived service finished within the deadline")
	}
}

// exitingHandler handles exactly one message and then retires itself,
// for exercising the registry's retire-and-reuse path under load.
type exitingHandler struct {
	done chan struct{}
}

func (e *exitingHandler) Receive(ctx *actorcore.Context, msg *actorcore.Message) actorcore.Directive {
	return actorcore.Exit
}

func (e *exitingHandler) Release() {
	close(e.done)
}
