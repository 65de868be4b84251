// Package registry maps peer ids to the outbound queue of the connection that
// currently owns the id.
package registry

import (
	"slices"
	"sync"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/queue"
)

// SignalKind distinguishes deliveries from the poison instruction.
type SignalKind int

const (
	// SignalMessage carries a serialized envelope for the connection's peer.
	SignalMessage SignalKind = iota
	// SignalClosed tells the connection it has been superseded and must stop.
	SignalClosed
)

// Signal is what a connection's write loop receives.
type Signal struct {
	Kind    SignalKind
	Payload []byte
}

func Message(payload []byte) Signal { return Signal{Kind: SignalMessage, Payload: payload} }

func Closed() Signal { return Signal{Kind: SignalClosed} }

// Outbox is the per-connection outbound queue. Its pointer identity is the
// registration handle.
type Outbox = queue.Queue[Signal]

func NewOutbox() *Outbox {
	return queue.New[Signal]()
}

// Registry holds at most one outbox per peer id.
type Registry struct {
	mu    sync.RWMutex
	peers map[models.PeerID]*Outbox
}

func New() *Registry {
	return &Registry{peers: make(map[models.PeerID]*Outbox)}
}

// Register installs outbox as the owner of id. A previous owner is sent
// Closed before the lock is released; displaced reports whether there was
// one.
func (r *Registry) Register(id models.PeerID, outbox *Outbox) (displaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.peers[id]
	r.peers[id] = outbox
	if exists && prev != outbox {
		prev.Push(Closed())
		return true
	}
	return false
}

// Unregister removes id only while outbox still owns it, so a displaced
// connection tearing down never removes its successor.
func (r *Registry) Unregister(id models.PeerID, outbox *Outbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[id]; ok && cur == outbox {
		delete(r.peers, id)
		return true
	}
	return false
}

// Evict removes the registration for id regardless of owner and tells the
// owner to close.
func (r *Registry) Evict(id models.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.peers[id]
	if !ok {
		return false
	}
	delete(r.peers, id)
	cur.Push(Closed())
	return true
}

// Send enqueues payload for id. It reports whether the payload was queued;
// an unknown id or a queue that has already been closed drops the payload
// without affecting the caller.
func (r *Registry) Send(id models.PeerID, payload []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	outbox, ok := r.peers[id]
	if !ok {
		return false
	}
	return outbox.Push(Message(payload))
}

func (r *Registry) Lookup(id models.PeerID) (*Outbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	outbox, ok := r.peers[id]
	return outbox, ok
}

// Peers returns the registered ids in sorted order.
func (r *Registry) Peers() []models.PeerID {
	r.mu.RLock()
	ids := make([]models.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
