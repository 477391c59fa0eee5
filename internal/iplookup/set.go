// Package iplookup batches unresolved peer IPs against the remote
// geolocation service under its rate limits.
package iplookup

import (
	"fmt"
	"sync"

	"github.com/blikh/session-sniffer/internal/ipapi"
)

// State is the membership kind of an IP in the lookup set.
type State int

const (
	StateAbsent State = iota
	StatePending
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return "absent"
	}
}

// Set tracks IPs queued for remote resolution and the results that came
// back. Pending and resolved are guarded independently; the outer lock
// serializes the pending-to-resolved move so an IP is never visible in
// both at once.
type Set struct {
	mu sync.Mutex

	pendingMu sync.Mutex
	pending   []string

	resultsMu sync.Mutex
	results   map[string]*ipapi.Result
}

func NewSet() *Set {
	return &Set{results: make(map[string]*ipapi.Result)}
}

// AddPending queues ip for resolution. Queueing an IP that is already
// pending is a programming error and reported as such.
func (s *Set) AddPending(ip string) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, pending := range s.pending {
		if pending == ip {
			return fmt.Errorf("iplookup: IP %q is already pending", ip)
		}
	}
	s.pending = append(s.pending, ip)
	return nil
}

// PendingSlice returns up to n pending IPs, oldest first.
func (s *Set) PendingSlice(n int) []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if n > len(s.pending) {
		n = len(s.pending)
	}
	out := make([]string, n)
	copy(out, s.pending[:n])
	return out
}

// MarkResolved records the result for ip and removes it from pending in
// one atomic step.
func (s *Set) MarkResolved(ip string, result *ipapi.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingMu.Lock()
	for i, pending := range s.pending {
		if pending == ip {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.pendingMu.Unlock()

	s.resultsMu.Lock()
	s.results[ip] = result
	s.resultsMu.Unlock()
}

// Result returns the resolved record for ip, or nil.
func (s *Set) Result(ip string) *ipapi.Result {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	return s.results[ip]
}

// Lookup reports which side of the set ip is on.
func (s *Set) Lookup(ip string) State {
	s.pendingMu.Lock()
	for _, pending := range s.pending {
		if pending == ip {
			s.pendingMu.Unlock()
			return StatePending
		}
	}
	s.pendingMu.Unlock()

	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	if _, ok := s.results[ip]; ok {
		return StateResolved
	}
	return StateAbsent
}
