package core

import (
	"testing"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

func TestMonitor_DetectsStuckWorker(t *testing.T) {
	reg := NewRegistry(0, definition.NewNoopLogger())
	dst := reg.Register(nopHandler{})
	m := NewMonitor(definition.NewNoopLogger(), nil, reg)

	src := NewHandle(0, 1)
	m.Trigger(src, dst)

	// First check just records the current version.
	m.Check()
	if reg.Endless(dst) {
		t.Fatalf("should not be flagged endless before a second, unchanged check")
	}

	// No Trigger happened between checks: version is unchanged, so the
	// service looks stuck.
	m.Check()
	if !reg.Endless(dst) {
		t.Fatalf("expected destination service to be flagged endless after an unchanged version")
	}
}

func TestMonitor_ClearsWhenProgressResumes(t *testing.T) {
	reg := NewRegistry(0, definition.NewNoopLogger())
	dst := reg.Register(nopHandler{})
	m := NewMonitor(definition.NewNoopLogger(), nil, reg)

	m.Trigger(NoHandle, dst)
	m.Check()
	m.Check()
	if !reg.Endless(dst) {
		t.Fatalf("expected endless to be set up")
	}

	reg.ClearEndless(dst)
	if reg.Endless(dst) {
		t.Fatalf("expected ClearEndless to reset the latch")
	}

	m.Trigger(NoHandle, dst)
	m.Check()
	if reg.Endless(dst) {
		t.Fatalf("expected a fresh Trigger before Check to not re-flag endless")
	}
}

func TestMonitor_IgnoresIdleWorker(t *testing.T) {
	reg := NewRegistry(0, definition.NewNoopLogger())
	dst := reg.Register(nopHandler{})
	m := NewMonitor(definition.NewNoopLogger(), nil, reg)
	// No Trigger ever called: destination stays NoHandle, so Check must
	// never flag any service as stuck.
	m.Check()
	m.Check()
	if reg.Endless(dst) {
		t.Fatalf("an idle worker (destination == NoHandle) must never flag a service endless")
	}
}
