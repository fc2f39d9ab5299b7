package harbor

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jabolina/actorcore/pkg/actorcore/core"
)

// globalNameLength caps a globally registered service name,
// GLOBALNAME_LENGTH in service_harbor.c.
const globalNameLength = 16

// Service adapts a Harbor into a core.Handler so the router runs as a
// distinguished service on the scheduler like any other, the way
// service_harbor.c registers mainloop as an ordinary message callback.
// Control commands arrive as text payloads on TypeHarbor (or TypeText)
// messages:
//
//	N <name> <handle>   bind a global name, flushing its pending queue
//	S <addr> <id>       dial addr and bring the link to node id up
//	A <token> <id>      adopt the parked inbound connection for node id
//
// The C original's S/A commands carry a raw fd owned by the external
// socket poller; here an outbound link is dialed by the service itself
// and an inbound one is parked by the accept path under a claim token
// until the embedder's discovery layer learns which node it belongs to.
type Service struct {
	harbor *Harbor

	mu     sync.Mutex
	parked map[string]net.Conn
}

// NewService wraps h as a Handler ready to be registered on a
// scheduler.
func NewService(h *Harbor) *Service {
	return &Service{harbor: h, parked: make(map[string]net.Conn)}
}

// Park stashes an accepted connection until an A command claims it,
// returning the claim token to hand to the discovery layer.
func (s *Service) Park(conn net.Conn) string {
	token := uuid.New().String()
	s.mu.Lock()
	s.parked[token] = conn
	s.mu.Unlock()
	return token
}

func (s *Service) claim(token string) (net.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.parked[token]
	if ok {
		delete(s.parked, token)
	}
	return conn, ok
}

// Receive dispatches one message to the router, mirroring mainloop's
// type switch: TypeHarbor (and TypeText, which the helper service uses
// for the same lines) carries a control command; anything else is
// invalid here and is answered with a TypeError when the sender
// expects a reply at all.
func (s *Service) Receive(ctx *core.Context, msg *core.Message) core.Directive {
	switch msg.Type {
	case core.TypeHarbor, core.TypeText:
		s.command(string(msg.Payload))
	default:
		if s.harbor.log != nil {
			s.harbor.log.Errorf("harbor: recv invalid message from :%08x, type = %s", uint32(msg.Source), msg.Type)
		}
		if msg.Session != 0 && msg.Type != core.TypeError && msg.Source != core.NoHandle {
			_ = s.harbor.router.Deliver(core.Message{
				Source:      msg.Destination,
				Destination: msg.Source,
				Session:     msg.Session,
				Type:        core.TypeError,
			})
		}
	}
	return core.Continue
}

// Release tears the router down once the service's queue has drained.
func (s *Service) Release() {
	_ = s.harbor.Close()
}

// command parses and runs one control line, harbor_command's switch.
func (s *Service) command(line string) {
	log := s.harbor.log
	fields := strings.Fields(line)
	if len(fields) != 3 {
		if log != nil {
			log.Errorf("harbor: unknown command %q", line)
		}
		return
	}
	switch fields[0] {
	case "N":
		name := fields[1]
		if len(name) >= globalNameLength {
			if log != nil {
				log.Errorf("harbor: invalid global name %q", name)
			}
			return
		}
		handle, err := strconv.ParseUint(fields[2], 0, 32)
		if err != nil {
			if log != nil {
				log.Errorf("harbor: invalid handle in command %q: %v", line, err)
			}
			return
		}
		s.harbor.UpdateName(name, uint32(handle))
	case "S", "A":
		id, err := strconv.Atoi(fields[2])
		if err != nil || id <= 0 || id >= remoteMax {
			if log != nil {
				log.Errorf("harbor: invalid command %q", line)
			}
			return
		}
		if fields[0] == "S" {
			// Dial and handshake off the worker goroutine: the link
			// stays in Wait until the connection is attached, so sends
			// issued meanwhile queue on the peer rather than block here.
			addr := fields[1]
			go func() {
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					if log != nil {
						log.Errorf("harbor: connect to peer %d at %s failed: %v", id, addr, err)
					}
					s.harbor.Down(id)
					return
				}
				if err := s.harbor.Connect(id, conn); err != nil && log != nil {
					log.Errorf("harbor: bringing up peer %d failed: %v", id, err)
				}
			}()
		} else {
			conn, ok := s.claim(fields[1])
			if !ok {
				if log != nil {
					log.Errorf("harbor: no parked connection for token %q", fields[1])
				}
				return
			}
			go func() {
				if err := s.harbor.Accept(id, conn); err != nil && log != nil {
					log.Errorf("harbor: accepting peer %d failed: %v", id, err)
				}
			}()
		}
	default:
		if log != nil {
			log.Errorf("harbor: unknown command %q", line)
		}
	}
}
