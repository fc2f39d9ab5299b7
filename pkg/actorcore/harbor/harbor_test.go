package harbor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jabolina/actorcore/pkg/actorcore/core"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

type fakeRouter struct {
	delivered chan core.Message
	reject    func(core.Message) bool
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{delivered: make(chan core.Message, 16)}
}

func (f *fakeRouter) Deliver(msg core.Message) error {
	if f.reject != nil && f.reject(msg) {
		return core.ErrServiceNotFound
	}
	f.delivered <- msg
	return nil
}

func TestHarbor_LocalFastPath(t *testing.T) {
	router := newFakeRouter()
	h := NewHarbor(1, router, nil, definition.NewNoopLogger())

	dest := core.NewHandle(1, 5)
	if err := h.SendByHandle(core.NewHandle(1, 1), dest, core.TypeText, 0, []byte("hi")); err != nil {
		t.Fatalf("unexpected error on local delivery: %v", err)
	}

	select {
	case msg := <-router.delivered:
		if msg.Destination != dest {
			t.Fatalf("expected destination %v, got %v", dest, msg.Destination)
		}
	default:
		t.Fatalf("expected the router to receive a locally destined message")
	}
}

func TestHarbor_DownPeerErrorsAndRepliesWithTypeError(t *testing.T) {
	router := newFakeRouter()
	h := NewHarbor(1, router, nil, definition.NewNoopLogger())
	// A fresh peer sits in Wait and would queue; only Down bounces.
	h.Down(2)

	dest := core.NewHandle(2, 5)
	err := h.SendByHandle(core.NewHandle(1, 1), dest, core.TypeText, 7, []byte("hi"))
	if err != core.ErrPeerUnreachable {
		t.Fatalf("expected ErrPeerUnreachable for a down peer, got %v", err)
	}

	select {
	case msg := <-router.delivered:
		if msg.Type != core.TypeError || msg.Session != 7 {
			t.Fatalf("expected a TypeError reply carrying session 7, got %+v", msg)
		}
	default:
		t.Fatalf("expected an error reply to be delivered locally")
	}
}

func TestHarbor_SendByNameQueuesUntilResolved(t *testing.T) {
	router := newFakeRouter()
	resolved := make(chan string, 1)
	helper := helperFunc{resolveName: func(name string) { resolved <- name }}
	h := NewHarbor(1, router, helper, definition.NewNoopLogger())

	if err := h.SendByName(core.NewHandle(1, 1), "echo", core.TypeText, 0, []byte("hi")); err != nil {
		t.Fatalf("unexpected error queuing an unresolved name: %v", err)
	}

	select {
	case name := <-resolved:
		if name != "echo" {
			t.Fatalf("expected resolve notification for 'echo', got %q", name)
		}
	default:
		t.Fatalf("expected SendByName to trigger a ResolveName notification")
	}

	h.UpdateName("echo", uint32(core.NewHandle(1, 9)))

	select {
	case msg := <-router.delivered:
		if msg.Destination != core.NewHandle(1, 9) {
			t.Fatalf("expected the queued message to flush to the newly bound handle, got %v", msg.Destination)
		}
	default:
		t.Fatalf("expected UpdateName to flush the queued message")
	}
}

type helperFunc struct {
	resolveName func(string)
	peerDown    func(int)
}

func (h helperFunc) PeerDown(id int) {
	if h.peerDown != nil {
		h.peerDown(id)
	}
}

func (h helperFunc) ResolveName(name string) {
	if h.resolveName != nil {
		h.resolveName(name)
	}
}

func TestHarbor_ConnectAndAcceptExchangeFrames(t *testing.T) {
	// A real loopback TCP socket is used rather than net.Pipe: the
	// handshake has both sides write before either reads, which relies
	// on kernel send-buffering that net.Pipe's fully synchronous
	// rendezvous semantics don't provide.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected listen error: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		serverConnCh <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	serverConn := <-serverConnCh

	serverRouter := newFakeRouter()
	server := NewHarbor(2, serverRouter, nil, definition.NewNoopLogger())
	clientRouter := newFakeRouter()
	client := NewHarbor(1, clientRouter, nil, definition.NewNoopLogger())

	dest := core.NewHandle(2, 11)

	// Sent while peer 2 is still in Wait: held on the peer's send
	// queue until the handshake completes, then flushed.
	if err := client.SendByHandle(core.NewHandle(1, 1), dest, core.TypeText, 2, []byte("queued early")); err != nil {
		t.Fatalf("unexpected error queuing on a Wait peer: %v", err)
	}

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- server.Accept(1, serverConn) }()

	if err := client.Connect(2, clientConn); err != nil {
		t.Fatalf("unexpected Connect error: %v", err)
	}
	if err := <-acceptErr; err != nil {
		t.Fatalf("unexpected Accept error: %v", err)
	}

	if err := client.SendByHandle(core.NewHandle(1, 1), dest, core.TypeText, 3, []byte("over the wire")); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	for _, want := range []struct {
		session uint64
		payload string
	}{
		{2, "queued early"},
		{3, "over the wire"},
	} {
		select {
		case msg := <-serverRouter.delivered:
			if string(msg.Payload) != want.payload || msg.Session != want.session {
				t.Fatalf("unexpected message delivered on server side: %+v (want session %d payload %q)", msg, want.session, want.payload)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for session %d to cross the wire", want.session)
		}
	}
}

func TestHarbor_PollHandsAcceptedConnectionsToCallback(t *testing.T) {
	router := newFakeRouter()
	h := NewHarbor(1, router, nil, definition.NewNoopLogger())
	if err := h.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("unexpected listen error: %v", err)
	}
	defer h.Close()

	accepted := make(chan net.Conn, 1)
	h.SetOnAccept(func(conn net.Conn) { accepted <- conn })

	pollErr := make(chan error, 1)
	go func() {
		_, err := h.Poll(context.Background())
		pollErr <- err
	}()

	clientConn, err := net.Dial("tcp", h.listener.Addr().String())
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer clientConn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Poll to hand the accepted connection to onAccept")
	}
	if err := <-pollErr; err != nil {
		t.Fatalf("unexpected Poll error: %v", err)
	}
}

func TestHarbor_PollStopsOnContextCancel(t *testing.T) {
	router := newFakeRouter()
	h := NewHarbor(1, router, nil, definition.NewNoopLogger())
	if err := h.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("unexpected listen error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pollErr := make(chan error, 1)
	pollN := make(chan int, 1)
	go func() {
		n, err := h.Poll(ctx)
		pollN <- n
		pollErr <- err
	}()

	cancel()
	h.Close()

	select {
	case n := <-pollN:
		if n != 0 {
			t.Fatalf("expected Poll to report 0 (shutdown requested) once canceled, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Poll to return once the listener closed under a canceled context")
	}
}
