// Package sessionhost implements the best-effort heuristic that decides
// which connected peer is hosting the session.
package sessionhost

import (
	"sort"
	"time"

	"github.com/blikh/session-sniffer/internal/registry"
)

// minRejoinGap is the smallest gap between the two earliest rejoin times
// that still lets the earlier peer be called the host; near-simultaneous
// joins leave host identity ambiguous.
const minRejoinGap = 200 * time.Millisecond

// minPackets is how many packets a candidate must have accumulated since
// its last rejoin before being confirmed. Lower values risk flagging a
// peer that is not actually part of the new session; higher values risk
// the host having already left.
const minPackets = 50

// Detector holds the host search state. It is mutated only by the
// presentation feed cycle and needs no locking of its own.
type Detector struct {
	host      *registry.Peer
	searching bool

	// pending is the connected set captured when every peer's rate hit
	// zero, a sign the previous session is tearing down. The search does
	// not resume until all of them have disconnected.
	pending []*registry.Peer
}

func New() *Detector {
	return &Detector{searching: true}
}

// Current returns the detected host, or nil while searching.
func (d *Detector) Current() *registry.Peer {
	return d.host
}

// Update runs one detection cycle over the currently-connected peers.
func (d *Detector) Update(connected []*registry.Peer) {
	if d.host != nil && !d.host.Connected() {
		d.host = nil
	}

	if len(d.pending) > 0 && allDisconnected(d.pending) {
		d.host = nil
		d.searching = true
		d.pending = nil
	}

	switch {
	case len(connected) == 0:
		d.host = nil
		d.searching = true
		d.pending = nil
	case allRatesZero(connected):
		d.pending = append([]*registry.Peer(nil), connected...)
	default:
		if d.searching {
			d.search(connected)
		}
	}
}

// search picks the candidate among the two earliest-rejoined connected
// peers and confirms it once it has proven itself part of the session.
func (d *Detector) search(connected []*registry.Peer) {
	earliest := append([]*registry.Peer(nil), connected...)
	sort.SliceStable(earliest, func(i, j int) bool {
		return earliest[i].Times.LastRejoin.Before(earliest[j].Times.LastRejoin)
	})
	if len(earliest) > 2 {
		earliest = earliest[:2]
	}

	var candidate *registry.Peer
	switch len(earliest) {
	case 1:
		candidate = earliest[0]
	case 2:
		if earliest[1].Times.LastRejoin.Sub(earliest[0].Times.LastRejoin) >= minRejoinGap {
			candidate = earliest[0]
		}
	}

	if candidate == nil || d.isPending(candidate) || candidate.Packets < minPackets {
		return
	}

	d.host = candidate
	d.searching = false
}

func (d *Detector) isPending(p *registry.Peer) bool {
	for _, pending := range d.pending {
		if pending == p {
			return true
		}
	}
	return false
}

func allDisconnected(peers []*registry.Peer) bool {
	for _, p := range peers {
		if p.Connected() {
			return false
		}
	}
	return true
}

// allRatesZero reports whether every peer's computed rate has dropped to
// zero. Peers that never completed a rate window don't count: their zero
// is meaningless.
func allRatesZero(peers []*registry.Peer) bool {
	for _, p := range peers {
		if p.Rate.FirstCalculation || p.Rate.Value != 0 {
			return false
		}
	}
	return true
}
