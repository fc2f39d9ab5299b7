package core

import (
	"sync/atomic"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// Directive tells the dispatch loop what to do after a Handler
// returns from Receive.
type Directive int

const (
	// Continue leaves the service registered; this is the common case.
	Continue Directive = iota
	// Exit retires the service: no further messages are delivered to
	// it and its handle becomes eligible for reuse after the cooldown
	// window.
	Exit
)

// Handler is the unit of application behavior a service implements:
// an interface a caller supplies rather than a concrete struct the
// runtime constructs, so a service can be a thin actor, a bridge to
// an external system, or anything else that can answer one message at
// a time.
type Handler interface {
	// Receive is called once per message, on at most one goroutine at
	// a time for a given service. ctx exposes Reply/Send/Self to let
	// the handler talk back to the runtime.
	Receive(ctx *Context, msg *Message) Directive

	// Release is called exactly once, after the last message has been
	// drained from a retired service's queue. A Handler that holds no
	// resources can implement this as a no-op.
	Release()
}

// Sender is the narrow surface Context.Send needs from the runtime:
// enough to deliver a message without Context depending on the whole
// Scheduler/Registry wiring.
type Sender interface {
	Deliver(msg Message) error
	NextSession() uint64
}

// Context is handed to a Handler's Receive call. It is valid only for
// the duration of that call; a Handler that needs to act later must
// capture Self() and go through Send again, not retain the Context.
type Context struct {
	self    Handle
	sender  Sender
	log     definition.Logger
	session uint64
}

func newContext(self Handle, sender Sender, log definition.Logger) *Context {
	return &Context{self: self, sender: sender, log: log}
}

// Self returns the handle of the service currently dispatching.
func (c *Context) Self() Handle {
	return c.self
}

// Log returns the runtime-wide Logger, so a Handler doesn't need to
// carry its own.
func (c *Context) Log() definition.Logger {
	return c.log
}

// Send delivers a message with Source set to Self() and Session 0 (no
// reply expected) to destination. It does not block on the destination's queue filling
// up; the ring buffer grows to absorb bursts.
func (c *Context) Send(destination Handle, msgType TypeTag, payload []byte) error {
	m := Message{
		Source:      c.self,
		Destination: destination,
		Type:        msgType,
		Payload:     payload,
	}
	return c.sender.Deliver(m)
}

// Request delivers msg with a freshly allocated Session, for a caller
// that expects a reply to be correlated back by the timer wheel or by
// the destination explicitly echoing Session. It returns the session
// id assigned.
func (c *Context) Request(destination Handle, msgType TypeTag, payload []byte) (uint64, error) {
	session := c.sender.NextSession()
	m := Message{
		Source:      c.self,
		Destination: destination,
		Session:     session,
		Type:        msgType,
		Payload:     payload,
	}
	return session, c.sender.Deliver(m)
}

// Reply answers msg, reusing its Session and swapping Source/Destination.
func (c *Context) Reply(msg *Message, msgType TypeTag, payload []byte) error {
	if msg.Session == 0 {
		return nil
	}
	reply := Message{
		Source:      c.self,
		Destination: msg.Source,
		Session:     msg.Session,
		Type:        msgType,
		Payload:     payload,
	}
	return c.sender.Deliver(reply)
}

// sessionCounter is shared across every Context produced by one
// Registry/Scheduler pair, handed out via Sender.NextSession.
type sessionCounter struct {
	next uint64
}

func (s *sessionCounter) allocate() uint64 {
	return atomic.AddUint64(&s.next, 1)
}
