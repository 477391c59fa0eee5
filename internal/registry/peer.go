package registry

import (
	"net/netip"
	"time"

	"github.com/blikh/session-sniffer/internal/ipapi"
	"github.com/blikh/session-sniffer/internal/userip"
)

// Ports records the port history of a peer within its current active
// period. List is append-only and duplicate-free until a configured
// rejoin reset.
type Ports struct {
	First uint16
	Last  uint16
	List  []uint16
}

func newPorts(port uint16) Ports {
	return Ports{First: port, Last: port, List: []uint16{port}}
}

// Reset restarts the history at a single port, used on rejoin when port
// resets are configured.
func (p *Ports) Reset(port uint16) {
	*p = newPorts(port)
}

// Record appends port to the history if it is new and marks it as the
// most recent one.
func (p *Ports) Record(port uint16) {
	seen := false
	for _, known := range p.List {
		if known == port {
			seen = true
			break
		}
	}
	if !seen {
		p.List = append(p.List, port)
	}
	p.Last = port
}

// Intermediate returns the ports between First and Last, most recent
// first.
func (p *Ports) Intermediate() []uint16 {
	var out []uint16
	for i := len(p.List) - 1; i >= 0; i-- {
		if port := p.List[i]; port != p.First && port != p.Last {
			out = append(out, port)
		}
	}
	return out
}

// Rate computes a sliding one-second packet rate from a counter and the
// time of the last computation.
type Rate struct {
	Counter  int
	LastCalc time.Time
	Value    int

	// FirstCalculation stays true until a full window has been computed
	// once; a zero Value before that point is meaningless.
	FirstCalculation bool
}

func newRate(t time.Time) Rate {
	return Rate{LastCalc: t, FirstCalculation: true}
}

// Tick recomputes Value if at least one second has elapsed since the
// last computation.
func (r *Rate) Tick(now time.Time) {
	elapsed := now.Sub(r.LastCalc)
	if elapsed < time.Second {
		return
	}
	r.Value = int(float64(r.Counter)/elapsed.Seconds() + 0.5)
	r.Counter = 0
	r.LastCalc = now
	r.FirstCalculation = false
}

// Times holds the lifecycle timestamps of a peer. A zero Left means the
// peer is connected.
type Times struct {
	FirstSeen  time.Time
	LastRejoin time.Time
	LastSeen   time.Time
	Left       time.Time
}

// Detection is the one-shot lifecycle-edge event state for a UserIP
// match. Processed is set when the "connected" hand-off fires and
// cleared at the next lifecycle transition.
type Detection struct {
	Processed bool
	Type      string
	Time      time.Time
}

// UserIPState mirrors the matched trust-list association onto the peer.
// Present (non-empty DatabaseName) only while the IP currently matches.
type UserIPState struct {
	DatabaseName string
	Settings     *userip.Settings
	Usernames    []string
	Detection    Detection
}

// Clear drops the association but keeps the detection state; the
// detection flag is owned by the lifecycle edges, not by list membership.
func (u *UserIPState) Clear() {
	u.DatabaseName = ""
	u.Settings = nil
	u.Usernames = nil
}

// LocalGeo is the synchronous local-database enrichment slot. Empty
// strings mean "not found"; display goes through the feed projection.
type LocalGeo struct {
	Initialized bool
	Country     string
	CountryCode string
	City        string
	ASN         string
}

// Peer is one record per remote IP observed this run.
//
// Field ownership replaces a per-record lock: the ingestion worker writes
// the packet, port, and lifecycle-detection fields; the presentation feed
// writes the enrichment, timeout, and username fields; the lookup worker
// writes Remote. No two workers write the same field.
type Peer struct {
	IP   string
	Addr netip.Addr

	// JustRegistered suppresses lifecycle side-effects on the very first
	// packet so registration is not counted as a rejoin.
	JustRegistered bool

	Rejoins      int
	Packets      int // since the last rejoin
	TotalPackets int

	Usernames        []string // merged view, rebuilt by the feed
	ModMenuUsernames []string

	Rate  Rate
	Ports Ports
	Times Times

	Local  LocalGeo
	Remote ipapi.Result

	UserIP UserIPState
}

func newPeer(ip string, addr netip.Addr, port uint16, t time.Time) *Peer {
	return &Peer{
		IP:             ip,
		Addr:           addr,
		JustRegistered: true,
		Packets:        1,
		TotalPackets:   1,
		Rate:           newRate(t),
		Ports:          newPorts(port),
		Times:          Times{FirstSeen: t, LastRejoin: t, LastSeen: t},
	}
}

// Connected reports whether the peer has not been promoted to
// disconnected.
func (p *Peer) Connected() bool {
	return p.Times.Left.IsZero()
}

// Rejoin transitions a disconnected peer back to connected at time t.
func (p *Peer) Rejoin(t time.Time) {
	p.Times.Left = time.Time{}
	p.Times.LastRejoin = t
	p.Rejoins++
	p.Packets = 1
}
