package harbor

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jabolina/actorcore/pkg/actorcore/definition"
)

// remoteMax mirrors REMOTE_MAX: node ids run 1..255, 0 means "not a
// remote link" (this node itself).
const remoteMax = 256

// sendQueueWarning is the pending-message count at which Enqueue
// starts warning that a link stuck in bring-up is accumulating
// backlog, playing the role of SKYNET_SOCKET_TYPE_WARNING for a
// connection the I/O layer hasn't even opened yet.
const sendQueueWarning = 1024

// Status is a peer link's position in the handshake/connect state
// machine service_harbor.c encodes as STATUS_WAIT/HANDSHAKE/HEADER/
// CONTENT/DOWN. Go's blocking-read-per-connection goroutine collapses
// HEADER and CONTENT into a single Ready state (there is no event
// loop here deciding how many bytes are available yet), but Wait,
// Handshake and Down are observed externally the same way.
type Status int

const (
	StatusWait Status = iota
	StatusHandshake
	StatusReady
	StatusDown
)

// Peer is one remote node's link: a TCP connection, its handshake
// state, and a queue of messages waiting for the link to come up,
// corresponding to service_harbor.c's struct slave plus its
// harbor_msg_queue.
type Peer struct {
	id int

	mu     sync.Mutex
	conn   net.Conn
	status Status
	queue  []pendingMessage

	breaker *gobreaker.CircuitBreaker

	log definition.Logger
}

// newPeer creates a Peer for remote node id, not yet connected.
func newPeer(id int, log definition.Logger) *Peer {
	p := &Peer{id: id, status: StatusWait, log: log}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("harbor-peer-%d", id),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return p
}

// Status reports the peer's current state.
func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// attach installs conn as this peer's link and moves it to
// StatusHandshake, expecting the remote side's single identity byte
// next (service_harbor.c's handshake()/STATUS_HANDSHAKE).
func (p *Peer) attach(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.status = StatusHandshake
}

// ready transitions the peer to StatusReady and returns any messages
// that were queued while the link was coming up, so the caller can
// flush them (dispatch_queue).
func (p *Peer) ready() []pendingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
	queued := p.queue
	p.queue = nil
	return queued
}

// down marks the peer unreachable and drops its pending queue,
// reporting whether it had previously been connected (so the caller
// only emits a single D notification per transition).
func (p *Peer) down() (wasConnected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wasConnected = p.status != StatusWait && p.status != StatusDown
	p.status = StatusDown
	p.queue = nil
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return wasConnected
}

// Enqueue appends a message to send once the link is ready.
func (p *Peer) Enqueue(header Header, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, pendingMessage{header: header, payload: payload})
	if n := len(p.queue); n%sendQueueWarning == 0 && p.log != nil {
		p.log.Warnf("harbor: %d messages pending for harbor %d, link still coming up", n, p.id)
	}
}

// Send writes a single framed message to the peer's connection,
// through the circuit breaker so a link already failing writes (a
// half-closed TCP connection the read side hasn't noticed yet) fails
// fast instead of blocking every subsequent Send behind a syscall
// timeout.
func (p *Peer) Send(header Header, payload []byte) error {
	p.mu.Lock()
	conn := p.conn
	status := p.status
	p.mu.Unlock()

	if status != StatusReady || conn == nil {
		return fmt.Errorf("harbor: peer %d is not ready (status=%v)", p.id, status)
	}

	frame, err := EncodeFrame(payload, header)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return conn.Write(frame)
	})
	return err
}

// sendHandshake writes the single identity byte skynet's handshake()
// sends: this node's harbor id.
func sendHandshake(conn net.Conn, selfID uint8) error {
	_, err := conn.Write([]byte{selfID})
	return err
}

// readHandshake reads the single identity byte the remote side sends
// and checks it against expected, mirroring push_socket_data's
// STATUS_HANDSHAKE branch.
func readHandshake(r *bufio.Reader, expected int) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if int(b) != expected {
		return fmt.Errorf("harbor: handshake mismatch, peer advertised %d, expected %d", b, expected)
	}
	return nil
}

// readFrame blocks for one complete length-prefixed frame off r,
// returning its payload and header. It replaces the incremental
// STATUS_HEADER/STATUS_CONTENT byte accounting with a single
// goroutine's blocking reads, the natural Go shape for a
// per-connection reader loop.
func readFrame(r *bufio.Reader) ([]byte, Header, error) {
	var prefix [4]byte
	if _, err := readFull(r, prefix[:]); err != nil {
		return nil, Header{}, err
	}
	n, err := DecodeLength(prefix)
	if err != nil {
		return nil, Header{}, err
	}
	body := make([]byte, n)
	if _, err := readFull(r, body); err != nil {
		return nil, Header{}, err
	}
	return DecodeBody(body)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
