package harbor

import "sync"

// pendingMessage is one frame waiting for a name to resolve to a
// handle, or for a peer link to come up, same payload shape as
// service_harbor.c's struct harbor_msg.
type pendingMessage struct {
	header  Header
	payload []byte
}

// NameTable maps a name to the handle most recently bound to it via
// an 'N' control command, queuing messages addressed to not-yet-known
// names until the bind arrives. It is the Go-native equivalent of
// service_harbor.c's chained hash map (hash_search/hash_insert): a
// single mutex-guarded map does the same job without a custom hash
// function, since Go's map already amortizes growth the way that
// table's fixed HASH_SIZE bucket array was hand-rolled to do.
type NameTable struct {
	mu      sync.Mutex
	handles map[string]uint32
	pending map[string][]pendingMessage
}

// NewNameTable creates an empty NameTable.
func NewNameTable() *NameTable {
	return &NameTable{
		handles: make(map[string]uint32),
		pending: make(map[string][]pendingMessage),
	}
}

// Bind records that name now resolves to handle, returning any
// messages that were queued waiting for this resolution so the caller
// can send them immediately (update_name's call into
// dispatch_name_queue).
func (t *NameTable) Bind(name string, handle uint32) []pendingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[name] = handle
	queued := t.pending[name]
	delete(t.pending, name)
	return queued
}

// Resolve looks up name, reporting ok=false if it has never been
// bound.
func (t *NameTable) Resolve(name string) (handle uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok = t.handles[name]
	return handle, ok
}

// Enqueue appends a message to wait for name to resolve.
func (t *NameTable) Enqueue(name string, header Header, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[name] = append(t.pending[name], pendingMessage{header: header, payload: payload})
}
