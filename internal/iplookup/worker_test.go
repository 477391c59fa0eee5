package iplookup

import (
	"fmt"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/blikh/session-sniffer/internal/ipapi"
	"github.com/blikh/session-sniffer/internal/registry"
)

func addPeer(t *testing.T, reg *registry.Registry, ip string, connected bool) *registry.Peer {
	t.Helper()
	p, err := reg.Add(ip, netip.MustParseAddr(ip), 6672, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !connected {
		p.Times.Left = time.Now()
	}
	return p
}

func newTestWorker(reg *registry.Registry, set *Set) *Worker {
	return NewWorker(reg, set, ipapi.NewClient(), slog.New(slog.DiscardHandler))
}

func TestBuildBatchNeverExceedsCapOrDuplicates(t *testing.T) {
	reg := registry.New()
	set := NewSet()
	for i := 0; i < 150; i++ {
		addPeer(t, reg, fmt.Sprintf("198.51.%d.%d", i/250, i%250+1), true)
	}

	batch := newTestWorker(reg, set).buildBatch()

	if len(batch) != ipapi.BatchMax {
		t.Fatalf("expected a full batch of %d, got %d", ipapi.BatchMax, len(batch))
	}
	seen := make(map[string]struct{}, len(batch))
	for _, ip := range batch {
		if _, dup := seen[ip]; dup {
			t.Fatalf("duplicate IP in batch: %s", ip)
		}
		seen[ip] = struct{}{}
	}
}

func TestBuildBatchPrefersConnectedPeers(t *testing.T) {
	reg := registry.New()
	set := NewSet()
	// 99 connected plus 2 disconnected: the cap forces one disconnected
	// candidate out, and with exactly one slot left the dropped one is
	// re-admitted.
	for i := 1; i <= 99; i++ {
		addPeer(t, reg, fmt.Sprintf("198.51.100.%d", i), true)
	}
	addPeer(t, reg, "203.0.113.1", false)
	addPeer(t, reg, "203.0.113.2", false)

	batch := newTestWorker(reg, set).buildBatch()

	if len(batch) != ipapi.BatchMax {
		t.Fatalf("expected %d IPs, got %d", ipapi.BatchMax, len(batch))
	}
	connectedInBatch := 0
	for _, ip := range batch {
		if ip[:7] == "198.51." {
			connectedInBatch++
		}
	}
	if connectedInBatch != 99 {
		t.Fatalf("expected every connected peer in the batch, got %d", connectedInBatch)
	}
}

func TestBuildBatchSkipsResolvedPeers(t *testing.T) {
	reg := registry.New()
	set := NewSet()
	resolved := addPeer(t, reg, "198.51.100.1", true)
	resolved.Remote = ipapi.Result{Initialized: true, Query: resolved.IP}
	addPeer(t, reg, "198.51.100.2", true)

	batch := newTestWorker(reg, set).buildBatch()

	if len(batch) != 1 || batch[0] != "198.51.100.2" {
		t.Fatalf("expected only the unresolved peer, got %v", batch)
	}
}

func TestBuildBatchBackfillsFromPendingWithoutDuplicates(t *testing.T) {
	reg := registry.New()
	set := NewSet()
	addPeer(t, reg, "198.51.100.1", true)
	if err := set.AddPending("198.51.100.1"); err != nil { // also a registry peer
		t.Fatal(err)
	}
	if err := set.AddPending("203.0.113.9"); err != nil {
		t.Fatal(err)
	}

	batch := newTestWorker(reg, set).buildBatch()

	if len(batch) != 2 {
		t.Fatalf("expected 2 IPs, got %v", batch)
	}
	if batch[0] != "198.51.100.1" || batch[1] != "203.0.113.9" {
		t.Fatalf("unexpected batch contents: %v", batch)
	}
}

func TestBuildBatchEmptyWhenNothingDue(t *testing.T) {
	reg := registry.New()
	set := NewSet()
	p := addPeer(t, reg, "198.51.100.1", true)
	p.Remote = ipapi.Result{Initialized: true, Query: p.IP}

	if batch := newTestWorker(reg, set).buildBatch(); len(batch) != 0 {
		t.Fatalf("expected empty batch, got %v", batch)
	}
}
