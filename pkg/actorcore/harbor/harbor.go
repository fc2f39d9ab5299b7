package harbor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/jabolina/actorcore/pkg/actorcore/core"
	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// LocalRouter is the narrow slice of the scheduler a Harbor needs:
// enough to hand a decoded remote message to a local service, without
// Harbor depending on the whole Scheduler/Registry wiring. Grounded
// on core.Sender, the same narrowing Context uses.
type LocalRouter interface {
	Deliver(msg core.Message) error
}

// Helper receives the two notifications service_harbor.c used to
// forward to the Lua ".cslave" service over PTYPE_TEXT: a peer going
// down, and a name this node doesn't know yet. A caller that runs its
// own cluster-membership/name-resolution process implements this;
// embedders that don't need cross-node naming can pass NopHelper{}.
type Helper interface {
	PeerDown(id int)
	ResolveName(name string)
}

// NopHelper discards both notifications.
type NopHelper struct{}

func (NopHelper) PeerDown(id int)        {}
func (NopHelper) ResolveName(name string) {}

// Harbor is the cross-node router. One Harbor owns a
// fixed-size peer table, a name table, and a listener for inbound
// connections from other nodes.
type Harbor struct {
	id     uint8
	router LocalRouter
	helper Helper
	log    definition.Logger

	names *NameTable

	metrics *definition.Metrics

	mu    sync.Mutex
	peers [remoteMax]*Peer

	listener net.Listener
	onAccept func(net.Conn)
}

// NewHarbor creates a Harbor for this node's id. id 0 means this node
// runs standalone, with every remote link closed, matching
// harbor_init's `if (harbor_id == 0) close_all_remotes(h)`.
func NewHarbor(id uint8, router LocalRouter, helper Helper, log definition.Logger) *Harbor {
	if helper == nil {
		helper = NopHelper{}
	}
	h := &Harbor{id: id, router: router, helper: helper, log: log, names: NewNameTable()}
	for i := range h.peers {
		h.peers[i] = newPeer(i, log)
	}
	if id == 0 {
		for i := 1; i < remoteMax; i++ {
			h.peers[i].down()
		}
	}
	return h
}

// SetMetrics installs the collectors the harbor updates: the
// connected-peers gauge and the frames counter. Nil (the default)
// disables both.
func (h *Harbor) SetMetrics(m *definition.Metrics) {
	h.metrics = m
}

// Listen starts accepting inbound peer connections on addr. Each
// accepted connection is handled by Accept once the caller learns its
// node id (in skynet this comes from the cluster master via the 'A'
// control command; here an embedder either calls Accept directly or
// parks the connection with Service.Park and lets an 'A' command
// claim it).
func (h *Harbor) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = ln
	return nil
}

// Accepted returns the listener's accept channel equivalent: it
// blocks for the next inbound connection. Callers loop calling this
// and pass the result to Accept once they've learned which node id it
// belongs to.
func (h *Harbor) Accepted() (net.Conn, error) {
	if h.listener == nil {
		return nil, fmt.Errorf("harbor: not listening")
	}
	return h.listener.Accept()
}

// SetOnAccept registers the callback Poll hands each accepted
// connection to, typically a closure running the embedder's node-id
// discovery before calling Accept. Must be set before Poll runs; a
// connection accepted with no callback set is closed immediately.
func (h *Harbor) SetOnAccept(fn func(net.Conn)) {
	h.onAccept = fn
}

// Poll implements core.SocketDriver over this Harbor's listener: it
// accepts the next inbound connection and hands it to the callback
// registered with SetOnAccept, so Listen+Poll can be wired straight
// into Scheduler.SetSocketDriver instead of a hand-rolled accept loop.
// It returns (1, nil) per accepted connection; it returns (0, nil)
// only once ctx is done, which the socket-driver goroutine treats as a
// shutdown request, and (0, err) if the listener itself fails, on
// which the driver logs the error and stops polling without stopping
// the scheduler.
func (h *Harbor) Poll(ctx context.Context) (int, error) {
	if h.listener == nil {
		return 0, fmt.Errorf("harbor: not listening")
	}
	conn, err := h.listener.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return 0, nil
		default:
		}
		if h.log != nil {
			h.log.Errorf("harbor: accept failed: %v", err)
		}
		return 0, err
	}
	if h.onAccept != nil {
		h.onAccept(conn)
	} else {
		conn.Close()
	}
	return 1, nil
}

// Close stops accepting new connections and tears down every peer
// link, mirroring harbor_release's close_all_remotes.
func (h *Harbor) Close() error {
	h.mu.Lock()
	for i := 1; i < remoteMax; i++ {
		if h.peers[i].down() && h.metrics != nil {
			h.metrics.HarborPeers.Dec()
		}
	}
	h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Close()
	}
	return nil
}

// Down marks peer id unreachable and notifies the helper, the same
// transition a broken socket triggers from the read loop. Subsequent
// sends to id get TypeError replies until a new S/A brings it back up.
func (h *Harbor) Down(id int) {
	if id <= 0 || id >= remoteMax {
		return
	}
	h.mu.Lock()
	peer := h.peers[id]
	h.mu.Unlock()
	if peer.down() {
		if h.metrics != nil {
			h.metrics.HarborPeers.Dec()
		}
		h.helper.PeerDown(id)
	}
}

// Connect establishes an outbound link to remote node id over conn:
// the 'S' control command. It sends this node's handshake byte first,
// then expects the peer's, then moves to StatusReady and flushes
// anything that queued while the link was coming up.
func (h *Harbor) Connect(id int, conn net.Conn) error {
	return h.bringUp(id, conn)
}

// Accept installs conn as remote node id's inbound link: the 'A'
// control command. The peer is known by the time Accept is called
// (the caller's discovery layer already identified it), but the
// connecting side still writes its handshake byte first (Connect
// always does), so this side reads and validates it the same way
// Connect does rather than leaving it to corrupt the first frame.
func (h *Harbor) Accept(id int, conn net.Conn) error {
	return h.bringUp(id, conn)
}

func (h *Harbor) bringUp(id int, conn net.Conn) error {
	if id <= 0 || id >= remoteMax {
		return fmt.Errorf("harbor: invalid peer id %d", id)
	}
	h.mu.Lock()
	peer := h.peers[id]
	h.mu.Unlock()

	peer.attach(conn)
	if err := sendHandshake(conn, h.id); err != nil {
		peer.down()
		return err
	}

	r := bufio.NewReader(conn)
	if err := readHandshake(r, id); err != nil {
		peer.down()
		if h.log != nil {
			h.log.Errorf("harbor: handshake with peer %d failed: %v", id, err)
		}
		return err
	}

	queued := peer.ready()
	if h.metrics != nil {
		h.metrics.HarborPeers.Inc()
	}
	for _, m := range queued {
		if err := peer.Send(m.header, m.payload); err == nil && h.metrics != nil {
			h.metrics.HarborFrames.Inc()
		}
	}

	go h.readLoop(id, peer, r, conn)
	return nil
}

// readLoop pulls frames off a peer's connection until it closes or a
// malformed frame arrives, forwarding each to forwardLocal. This
// replaces push_socket_data's incremental byte-accounting state
// machine with one goroutine blocked on bufio reads per connection,
// the idiomatic Go shape for a socket reader.
func (h *Harbor) readLoop(id int, peer *Peer, r *bufio.Reader, conn net.Conn) {
	defer func() {
		if peer.down() {
			if h.metrics != nil {
				h.metrics.HarborPeers.Dec()
			}
			h.helper.PeerDown(id)
		}
	}()
	for {
		payload, wire, err := readFrame(r)
		if err != nil {
			return
		}
		if h.metrics != nil {
			h.metrics.HarborFrames.Inc()
		}
		h.forwardLocal(payload, wire)
	}
}

// forwardLocal turns a decoded remote frame into a local Message and
// hands it to the router, restoring the full handle by splicing this
// node's id into the high byte, exactly like forward_local_messsage.
func (h *Harbor) forwardLocal(payload []byte, wire Header) {
	msgType, local := SplitDestination(wire.Destination)
	destination := core.NewHandle(h.id, local)
	msg := core.Message{
		Source:      core.Handle(wire.Source),
		Destination: destination,
		Session:     uint64(wire.Session),
		Type:        core.TypeTag(msgType),
		Payload:     payload,
		DontCopy:    true,
	}
	if err := h.router.Deliver(msg); err != nil {
		if msg.Session != 0 && msg.Type != core.TypeError {
			_ = h.router.Deliver(core.Message{
				Source:      destination,
				Destination: msg.Source,
				Session:     msg.Session,
				Type:        core.TypeError,
			})
		}
		if h.log != nil {
			h.log.Errorf("harbor: unknown destination :%08x from :%08x type(%d)", uint32(destination), wire.Source, msgType)
		}
	}
}

// UpdateName binds name to handle: the 'N' control command. Any
// messages that were queued waiting for this name are flushed
// immediately through SendByHandle, matching update_name's call into
// dispatch_name_queue.
func (h *Harbor) UpdateName(name string, handle uint32) {
	queued := h.names.Bind(name, handle)
	for _, m := range queued {
		msgType, _ := SplitDestination(m.header.Destination)
		_ = h.SendByHandle(core.Handle(m.header.Source), core.Handle(handle), core.TypeTag(msgType), uint64(m.header.Session), m.payload)
	}
}

// SendByHandle routes a message to destination: remote_send_handle.
// A destination on this node is handed straight to the router. A
// destination on a DOWN peer gets an immediate TypeError reply
// (unless it's already an error). A destination on a peer still
// coming up is queued. A destination on a ready peer is framed and
// sent now.
func (h *Harbor) SendByHandle(source, destination core.Handle, msgType core.TypeTag, session uint64, payload []byte) error {
	nodeID := destination.Node()
	if nodeID == h.id {
		return h.router.Deliver(core.Message{
			Source: source, Destination: destination, Session: session, Type: msgType, Payload: payload, DontCopy: true,
		})
	}

	h.mu.Lock()
	peer := h.peers[nodeID]
	h.mu.Unlock()

	switch peer.Status() {
	case StatusDown:
		if session != 0 && msgType != core.TypeError {
			_ = h.router.Deliver(core.Message{
				Source: destination, Destination: source, Session: session, Type: core.TypeError,
			})
		}
		if h.log != nil {
			h.log.Errorf("harbor: dropping message to harbor %d from :%08x to :%08x (session=%d)",
				nodeID, uint32(source), uint32(destination), session)
		}
		return core.ErrPeerUnreachable
	case StatusReady:
		wire := Header{Source: uint32(source), Destination: JoinDestination(uint8(msgType), destination.Local()), Session: uint32(session)}
		err := peer.Send(wire, payload)
		if err == nil && h.metrics != nil {
			h.metrics.HarborFrames.Inc()
		}
		return err
	default:
		wire := Header{Source: uint32(source), Destination: JoinDestination(uint8(msgType), destination.Local()), Session: uint32(session)}
		peer.Enqueue(wire, payload)
		return nil
	}
}

// SendByName routes a message addressed by name: remote_send_name. An
// unresolved name is queued and triggers a ResolveName notification
// to the Helper.
func (h *Harbor) SendByName(source core.Handle, name string, msgType core.TypeTag, session uint64, payload []byte) error {
	handle, ok := h.names.Resolve(name)
	if !ok {
		wire := Header{Source: uint32(source), Destination: uint32(msgType) << 24, Session: uint32(session)}
		h.names.Enqueue(name, wire, payload)
		h.helper.ResolveName(name)
		return nil
	}
	return h.SendByHandle(source, core.Handle(handle), msgType, session, payload)
}
