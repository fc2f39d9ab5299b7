package core

import (
	"testing"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

type recordingHandler struct {
	received chan *Message
	exitOn   func(*Message) bool
	released chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		received: make(chan *Message, 16),
		released: make(chan struct{}, 1),
	}
}

func (h *recordingHandler) Receive(ctx *Context, msg *Message) Directive {
	cp := *msg
	h.received <- &cp
	// Answer requests only: echoing a response or an error back would
	// bounce between the two services forever.
	if msg.Session != 0 && msg.Type != TypeResponse && msg.Type != TypeError {
		_ = ctx.Reply(msg, TypeResponse, msg.Payload)
	}
	if h.exitOn != nil && h.exitOn(msg) {
		return Exit
	}
	return Continue
}

func (h *recordingHandler) Release() {
	h.released <- struct{}{}
}

func newTestScheduler() *Scheduler {
	registry := NewRegistry(0, definition.NewNoopLogger())
	wheel := NewWheel()
	return NewScheduler(registry, wheel, definition.NewNoopLogger(), nil, false)
}

func TestDispatchOne_DeliversSingleMessage(t *testing.T) {
	s := newTestScheduler()
	handler := newRecordingHandler()
	h := s.registry.Register(handler)
	s.Publish(h)

	if err := s.Deliver(Message{Destination: h, Type: TypeText, Payload: []byte("hi")}); err != nil {
		t.Fatalf("unexpected delivery error: %v", err)
	}

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, ok := s.global.Pop()
	if !ok {
		t.Fatalf("expected the published service to be linked into the global queue")
	}
	s.dispatchOne(mon, q, WeightTable(0))

	select {
	case msg := <-handler.received:
		if string(msg.Payload) != "hi" {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	default:
		t.Fatalf("expected handler to have received the message")
	}
}

func TestDispatchOne_ExitRetiresAndReleases(t *testing.T) {
	s := newTestScheduler()
	handler := newRecordingHandler()
	handler.exitOn = func(*Message) bool { return true }
	h := s.registry.Register(handler)
	s.Publish(h)

	s.Deliver(Message{Destination: h, Type: TypeText})

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, _ := s.global.Pop()
	s.dispatchOne(mon, q, WeightTable(0))

	select {
	case <-handler.released:
	default:
		t.Fatalf("expected Release to run once the queue drained after Exit")
	}

	if _, _, ok := s.registry.Grab(h); ok {
		t.Fatalf("expected handle to be retired after Exit")
	}
}

func TestDispatchOne_RequestReplyRoundTrip(t *testing.T) {
	s := newTestScheduler()
	echo := newRecordingHandler()
	target := s.registry.Register(echo)
	s.Publish(target)

	caller := newRecordingHandler()
	callerHandle := s.registry.Register(caller)
	s.Publish(callerHandle)

	session := s.NextSession()
	s.Deliver(Message{Source: callerHandle, Destination: target, Session: session, Type: TypeText, Payload: []byte("ping")})

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, _ := s.global.Pop()
	// dispatchOne's return value is already the next popped queue (it
	// pops internally to decide whether to re-link the one it just
	// drained); using it directly avoids racing a second, independent
	// global.Pop() against dispatchOne's own.
	next := s.dispatchOne(mon, q, WeightTable(0))
	if next == nil {
		var ok bool
		next, ok = s.global.Pop()
		if !ok {
			t.Fatalf("expected a reply to link the caller's queue back into the global queue")
		}
	}
	s.dispatchOne(mon, next, WeightTable(0))

	select {
	case msg := <-caller.received:
		if msg.Session != session || string(msg.Payload) != "ping" {
			t.Fatalf("unexpected reply message: %+v", msg)
		}
	default:
		t.Fatalf("expected caller to receive the echoed reply")
	}
}

func TestDispatchOne_UnknownDestinationErrors(t *testing.T) {
	s := newTestScheduler()
	err := s.Deliver(Message{Destination: NewHandle(0, 999)})
	if err != ErrServiceNotFound {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestDeliver_UnknownDestinationBouncesErrorToSender(t *testing.T) {
	s := newTestScheduler()
	caller := newRecordingHandler()
	callerHandle := s.registry.Register(caller)
	s.Publish(callerHandle)

	session := s.NextSession()
	err := s.Deliver(Message{Source: callerHandle, Destination: NewHandle(0, 999), Session: session, Type: TypeText})
	if err != ErrServiceNotFound {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, ok := s.global.Pop()
	if !ok {
		t.Fatalf("expected the bounced error reply to link the caller's queue into the global queue")
	}
	s.dispatchOne(mon, q, WeightTable(0))

	select {
	case msg := <-caller.received:
		if msg.Session != session || msg.Type != TypeError {
			t.Fatalf("expected a TypeError reply carrying session %d, got %+v", session, msg)
		}
	default:
		t.Fatalf("expected caller to receive a TypeError bounce")
	}
}

func TestScheduler_RetireDrainsBouncesAndReleases(t *testing.T) {
	s := newTestScheduler()
	handler := newRecordingHandler()
	h := s.registry.Register(handler)
	s.Publish(h)

	caller := newRecordingHandler()
	callerHandle := s.registry.Register(caller)
	s.Publish(callerHandle)

	session := s.NextSession()
	s.Deliver(Message{Source: callerHandle, Destination: h, Session: session, Type: TypeText})

	if !s.Retire(h) {
		t.Fatalf("expected Retire of a live handle to succeed")
	}
	if s.Retire(h) {
		t.Fatalf("expected a second Retire of the same handle to report not-live")
	}

	// The next worker visit finds the registry entry gone: the queued
	// message is bounced, never dispatched, and Release runs.
	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, _ := s.global.Pop()
	next := s.dispatchOne(mon, q, WeightTable(0))

	if len(handler.received) != 0 {
		t.Fatalf("a retired service's handler must never see another message")
	}
	select {
	case <-handler.released:
	default:
		t.Fatalf("expected Release to run after the retired queue drained")
	}

	if next == nil {
		var ok bool
		next, ok = s.global.Pop()
		if !ok {
			t.Fatalf("expected the bounced error reply to link the caller's queue into the global queue")
		}
	}
	s.dispatchOne(mon, next, WeightTable(0))
	select {
	case msg := <-caller.received:
		if msg.Session != session || msg.Type != TypeError {
			t.Fatalf("expected a TypeError reply carrying session %d, got %+v", session, msg)
		}
	default:
		t.Fatalf("expected caller to receive a TypeError for the message dropped by Retire")
	}
}

type panickyHandler struct {
	calls    int
	received chan *Message
}

func (h *panickyHandler) Receive(ctx *Context, msg *Message) Directive {
	h.calls++
	if h.calls == 1 {
		panic("boom")
	}
	cp := *msg
	h.received <- &cp
	return Continue
}

func (h *panickyHandler) Release() {}

func TestDispatchOne_PanickingHandlerIsIsolated(t *testing.T) {
	s := newTestScheduler()
	handler := &panickyHandler{received: make(chan *Message, 1)}
	h := s.registry.Register(handler)
	s.Publish(h)

	caller := newRecordingHandler()
	callerHandle := s.registry.Register(caller)
	s.Publish(callerHandle)

	session := s.NextSession()
	s.Deliver(Message{Source: callerHandle, Destination: h, Session: session, Type: TypeText})

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, _ := s.global.Pop()
	next := s.dispatchOne(mon, q, WeightTable(0))

	if _, _, ok := s.registry.Grab(h); !ok {
		t.Fatalf("a panicking handler must stay registered, not take its service down")
	}

	// The sender expected a reply, so the recovered panic surfaces as a
	// TypeError on its session; dispatchOne already popped the caller's
	// queue as its own next visit.
	if next == nil {
		var ok bool
		next, ok = s.global.Pop()
		if !ok {
			t.Fatalf("expected the panic's error reply to link the caller's queue into the global queue")
		}
	}
	next = s.dispatchOne(mon, next, WeightTable(0))
	select {
	case msg := <-caller.received:
		if msg.Session != session || msg.Type != TypeError {
			t.Fatalf("expected a TypeError reply carrying session %d, got %+v", session, msg)
		}
	default:
		t.Fatalf("expected caller to receive a TypeError for the panicked dispatch")
	}

	// The service keeps processing messages after the panic. Its queue
	// is the one the caller's dispatch handed back as the next visit.
	s.Deliver(Message{Destination: h, Type: TypeText, Payload: []byte("again")})
	s.dispatchOne(mon, next, WeightTable(0))
	select {
	case msg := <-handler.received:
		if string(msg.Payload) != "again" {
			t.Fatalf("unexpected payload after recovery: %q", msg.Payload)
		}
	default:
		t.Fatalf("expected the service to handle the message following the panic")
	}
}

func TestDispatchOne_ExitStopsBatchAndBouncesRemainingMessages(t *testing.T) {
	s := newTestScheduler()
	handler := newRecordingHandler()
	handler.exitOn = func(*Message) bool { return true }
	h := s.registry.Register(handler)
	s.Publish(h)

	caller := newRecordingHandler()
	callerHandle := s.registry.Register(caller)
	s.Publish(callerHandle)

	// Queue two messages before the handler ever runs, so a single
	// worker visit (weight 0 drains the whole queue) would otherwise
	// dispatch both; the first message triggers Exit and the second
	// must never reach Receive, only get bounced.
	s.Deliver(Message{Destination: h, Type: TypeText, Payload: []byte("first")})
	session := s.NextSession()
	s.Deliver(Message{Source: callerHandle, Destination: h, Session: session, Type: TypeText, Payload: []byte("second")})

	mon := NewMonitor(definition.NewNoopLogger(), nil, s.registry)
	q, _ := s.global.Pop()
	// Weight 0 (WeightTable(4)) would drain the whole queue in one
	// visit absent the Exit-stops-the-batch fix.
	next := s.dispatchOne(mon, q, WeightTable(4))

	if len(handler.received) != 1 {
		t.Fatalf("expected exactly one message to reach Receive, got %d", len(handler.received))
	}

	if next == nil {
		var ok bool
		next, ok = s.global.Pop()
		if !ok {
			t.Fatalf("expected the bounced error reply to link the caller's queue into the global queue")
		}
	}
	s.dispatchOne(mon, next, WeightTable(0))

	select {
	case msg := <-caller.received:
		if msg.Session != session || msg.Type != TypeError {
			t.Fatalf("expected a TypeError reply carrying session %d, got %+v", session, msg)
		}
	default:
		t.Fatalf("expected caller to receive a TypeError bounce for the message dropped after Exit")
	}
}
