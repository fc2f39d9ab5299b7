package actorcore

import "github.com/jabolina/actorcore/pkg/actorcore/core"

// Kind and Error are defined in core (dispatch, queue and registry
// code all need to construct and inspect them) and re-exported here
// for callers of this package, following the same alias pattern as
// Message and TypeTag in types.go.
type (
	Kind  = core.Kind
	Error = core.Error
)

const (
	KindServiceNotFound    = core.KindServiceNotFound
	KindPeerUnreachable    = core.KindPeerUnreachable
	KindFrameTooLarge      = core.KindFrameTooLarge
	KindHandshakeMismatch  = core.KindHandshakeMismatch
	KindQueueOverload      = core.KindQueueOverload
	KindHandlerStuck       = core.KindHandlerStuck
	KindOverflow           = core.KindOverflow
	KindResourceExhaustion = core.KindResourceExhaustion
)

var (
	ErrServiceNotFound    = core.ErrServiceNotFound
	ErrPeerUnreachable    = core.ErrPeerUnreachable
	ErrFrameTooLarge      = core.ErrFrameTooLarge
	ErrHandshakeMismatch  = core.ErrHandshakeMismatch
	ErrOverflow           = core.ErrOverflow
	ErrResourceExhaustion = core.ErrResourceExhaustion
	ErrNameExists         = core.ErrNameExists
)

// KindOf extracts the Kind from err, if any.
func KindOf(err error) (Kind, bool) {
	return core.KindOf(err)
}
