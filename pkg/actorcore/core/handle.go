package core

import "fmt"

// localMask and remoteShift implement the 8/24 bit split described in
// skynet_handle.h: the high 8 bits identify the owning node (a
// "harbor" in the original terminology), the low 24 bits are the
// locally-unique id. A local id of 0 is never valid.
const (
	localMask   = 0xffffff
	remoteShift = 24
)

// Handle addresses a single service for its lifetime. It is never
// constructed from a raw shift outside this file; callers use Node,
// Local and NewHandle.
type Handle uint32

// NoHandle is the zero value: never a valid destination or source for
// a live service.
const NoHandle Handle = 0

// NewHandle packs a node id and a local id into a Handle.
func NewHandle(node uint8, local uint32) Handle {
	return Handle(uint32(node)<<remoteShift | (local & localMask))
}

// Node returns the 8-bit node id that owns this handle. Zero means
// "unset / local-only".
func (h Handle) Node() uint8 {
	return uint8(h >> remoteShift)
}

// Local returns the 24-bit local id.
func (h Handle) Local() uint32 {
	return uint32(h) & localMask
}

// IsLocal reports whether the handle was minted with node id localNode,
// or with no node id at all (node 0, meaning "local-only").
func (h Handle) IsLocal(localNode uint8) bool {
	n := h.Node()
	return n == 0 || n == localNode
}

// Valid reports whether the handle carries a nonzero local id; a zero
// local id is never assigned to a live service.
func (h Handle) Valid() bool {
	return h.Local() != 0
}

func (h Handle) String() string {
	return fmt.Sprintf(":%08x", uint32(h))
}
