package monitor

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/blikh/session-sniffer/internal/capture"
	"github.com/blikh/session-sniffer/internal/config"
	"github.com/blikh/session-sniffer/internal/feed"
	"github.com/blikh/session-sniffer/internal/notify"
)

// scriptedSource replays a fixed packet sequence, then parks until the
// context is cancelled so the ingestion worker does not restart it.
type scriptedSource struct {
	packets []capture.Packet

	once      sync.Once
	delivered chan struct{}
}

func newScriptedSource(packets ...capture.Packet) *scriptedSource {
	return &scriptedSource{packets: packets, delivered: make(chan struct{})}
}

func (s *scriptedSource) Capture(ctx context.Context, fn func(capture.Packet) error) error {
	for _, p := range s.packets {
		if err := fn(p); err != nil {
			return err
		}
	}
	s.once.Do(func() { close(s.delivered) })
	<-ctx.Done()
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Capture: config.CaptureConfig{
			Interface:     "test0",
			OverflowTimer: 60,
		},
		Presentation: config.PresentationConfig{
			RefreshIntervalMS:    10,
			DisconnectedTimer:    1,
			ConnectedSortedBy:    feed.SortLastRejoin,
			DisconnectedSortedBy: feed.SortLastSeen,
		},
	}
}

func packetAt(t time.Time, dstPort uint16) capture.Packet {
	return capture.Packet{
		Timestamp: t,
		SrcIP:     netip.MustParseAddr("192.168.1.10"),
		DstIP:     netip.MustParseAddr("203.0.113.7"),
		SrcPort:   50000,
		DstPort:   dstPort,
	}
}

func TestPeerLifecycleEndToEnd(t *testing.T) {
	now := time.Now()
	source := newScriptedSource(
		packetAt(now, 100), // registration
		packetAt(now.Add(time.Millisecond), 100),
		packetAt(now.Add(2*time.Millisecond), 101),
	)

	m, err := New(testConfig(), source, notify.Nop{}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	select {
	case <-source.delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("packets were not delivered")
	}

	// The peer shows up connected first, then gets promoted to
	// disconnected once the idle timeout elapses.
	deadline := time.After(5 * time.Second)
	for {
		snap := m.Feed().Latest()
		if len(snap.Disconnected) == 1 {
			view := snap.Disconnected[0]
			if view.IP != "203.0.113.7" {
				t.Fatalf("unexpected disconnected peer %s", view.IP)
			}
			if view.FirstPort != 100 || view.LastPort != 101 {
				t.Fatalf("expected ports 100..101, got %d..%d", view.FirstPort, view.LastPort)
			}
			if view.TotalPackets != 3 {
				t.Fatalf("expected 3 total packets, got %d", view.TotalPackets)
			}
			if view.Left.IsZero() {
				t.Fatal("disconnected view should carry a left time")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("peer never reached the disconnected snapshot: %+v", snap)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestNewRejectsUnknownSortField(t *testing.T) {
	cfg := testConfig()
	cfg.Presentation.ConnectedSortedBy = "bogus"

	if _, err := New(cfg, newScriptedSource(), notify.Nop{}, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected an unknown sort field to be rejected")
	}
}
