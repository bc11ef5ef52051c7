package relay

import (
	"sync"
	"time"

	"github.com/rulesmarket/relay/internal/models"
)

// Peer is one connected client as the hub sees it. The websocket Conn is the
// production implementation; tests substitute their own.
type Peer interface {
	ID() string
	ConnectedAt() time.Time
	// TrySend attempts a non-blocking delivery. Returns false if the peer's
	// queue is full or the peer is gone; the envelope is then dropped.
	TrySend(env models.Envelope) bool
	Close()
}

// Registry tracks live connections and admin-room membership. It is owned by
// the server startup routine and passed by handle into every handler; nothing
// outside the relay mutates it.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	admins map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		peers:  make(map[string]Peer),
		admins: make(map[string]struct{}),
	}
}

func (r *Registry) Add(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = p
}

// Remove drops the connection and its room membership. It reports whether the
// peer was registered and whether it was an admin-room member, so the caller
// can emit admin-offline exactly once.
func (r *Registry) Remove(id string) (existed, wasAdmin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed = r.peers[id]
	delete(r.peers, id)
	_, wasAdmin = r.admins[id]
	delete(r.admins, id)
	return existed, wasAdmin
}

// JoinAdmin adds the connection to the admin room. Joins are idempotent:
// first is true only on the call that created the membership, member is true
// whenever the connection is registered and in the room afterwards. An
// unregistered id (disconnect raced the join) yields (false, false).
func (r *Registry) JoinAdmin(id string) (first, member bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false, false
	}
	if _, ok := r.admins[id]; ok {
		return false, true
	}
	r.admins[id] = struct{}{}
	return true, true
}

func (r *Registry) IsAdmin(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[id]
	return ok
}

func (r *Registry) Counts() (total, admins int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers), len(r.admins)
}

// Admins returns a snapshot of the current admin-room members.
func (r *Registry) Admins() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Peer, 0, len(r.admins))
	for id := range r.admins {
		if p, ok := r.peers[id]; ok {
			members = append(members, p)
		}
	}
	return members
}

// Peers returns a snapshot of every live connection.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		all = append(all, p)
	}
	return all
}
