// Package actorcore wires together the handle registry, message-queue
// scheduler, timing wheel and harbor router into a single embeddable
// Runtime. The individual subsystems live in pkg/actorcore/core and
// pkg/actorcore/harbor; this package is the public surface a caller
// imports.
package actorcore

import (
	"github.com/jabolina/actorcore/pkg/actorcore/core"
)

// Handle, Message, TypeTag and Directive are defined in core (the
// lowest-level package, shared by the scheduler, the registry and the
// harbor router) and re-exported here under their natural names so a
// caller of this package never needs to import core directly.
type (
	Handle       = core.Handle
	Message      = core.Message
	TypeTag      = core.TypeTag
	Directive    = core.Directive
	Handler      = core.Handler
	Context      = core.Context
	ServiceStats = core.ServiceStats
)

const (
	NoHandle = core.NoHandle

	TypeText     = core.TypeText
	TypeResponse = core.TypeResponse
	TypeError    = core.TypeError
	TypeSystem   = core.TypeSystem
	TypeSocket   = core.TypeSocket
	TypeHarbor   = core.TypeHarbor

	Continue = core.Continue
	Exit     = core.Exit
)

// NewHandle packs a node id and local id into a Handle; see core.NewHandle.
func NewHandle(node uint8, local uint32) Handle {
	return core.NewHandle(node, local)
}
