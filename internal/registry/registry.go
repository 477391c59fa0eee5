// Package registry is the shared store of peer records, one per remote
// IP observed during the run.
package registry

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// ErrDuplicatePeer is returned when an IP is registered twice. Creation
// happens once per IP per run; a second Add is a programming error on
// the caller's side.
type ErrDuplicatePeer struct {
	IP string
}

func (e *ErrDuplicatePeer) Error() string {
	return fmt.Sprintf("registry: peer with IP %q already exists", e.IP)
}

// Registry maps IPs to peer records. Records are never deleted;
// disconnected peers stay queryable for the rest of the run.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
	order []*Peer // insertion order, backs Snapshot
}

func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Add registers a new peer for ip, seen first on the given port at time t.
func (r *Registry) Add(ip string, addr netip.Addr, port uint16, t time.Time) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[ip]; exists {
		return nil, &ErrDuplicatePeer{IP: ip}
	}
	p := newPeer(ip, addr, port, t)
	r.peers[ip] = p
	r.order = append(r.order, p)
	return p, nil
}

// Get returns the peer for ip, or nil.
func (r *Registry) Get(ip string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[ip]
}

// Snapshot returns a point-in-time copy of the record list, safe to
// iterate while other workers keep registering peers. The records
// themselves are shared; field ownership rules apply.
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of distinct IPs seen this run.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
