package feed

import (
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/blikh/session-sniffer/internal/capture"
	"github.com/blikh/session-sniffer/internal/modmenu"
	"github.com/blikh/session-sniffer/internal/notify"
	"github.com/blikh/session-sniffer/internal/registry"
	"github.com/blikh/session-sniffer/internal/sessionhost"
	"github.com/blikh/session-sniffer/internal/userip"
)

type stubStats struct {
	restarts int64
	packets  int64
}

func (s *stubStats) Restarts() int64        { return s.restarts }
func (s *stubStats) SwapPacketCount() int64 { return s.packets }

type stubDatabases struct {
	databases []userip.Database
}

func (s *stubDatabases) Load() ([]userip.Database, error) {
	return s.databases, nil
}

type edgeNotifier struct {
	detected chan notify.Edge
}

func (n *edgeNotifier) PeerDetected(p *registry.Peer, edge notify.Edge) {
	n.detected <- edge
}

type testFeed struct {
	feed     *Feed
	registry *registry.Registry
	source   *stubDatabases
	stats    *stubStats
	notifier *edgeNotifier
}

func newTestFeed(t *testing.T, cfg Config) *testFeed {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := registry.New()
	source := &stubDatabases{}
	stats := &stubStats{}
	notifier := &edgeNotifier{detected: make(chan notify.Edge, 1)}
	f := New(cfg, reg,
		userip.NewStore(source, logger),
		nil,
		sessionhost.New(),
		modmenu.NewMerger(nil, logger),
		notifier, stats,
		capture.NewLatencyTracker(),
		logger,
	)
	return &testFeed{feed: f, registry: reg, source: source, stats: stats, notifier: notifier}
}

func (tf *testFeed) addPeer(t *testing.T, ip string, at time.Time) *registry.Peer {
	t.Helper()
	p, err := tf.registry.Add(ip, netip.MustParseAddr(ip), 6672, at)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCyclePublishesSnapshot(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second})
	now := time.Now()
	tf.addPeer(t, "203.0.113.1", now)
	tf.stats.restarts = 3

	tf.feed.cycle(now)

	snap := tf.feed.Latest()
	if !snap.Ready {
		t.Fatal("expected a ready snapshot after one cycle")
	}
	if len(snap.Connected) != 1 || snap.Connected[0].IP != "203.0.113.1" {
		t.Fatalf("unexpected connected set: %+v", snap.Connected)
	}
	if snap.CaptureRestarts != 3 {
		t.Errorf("expected 3 capture restarts, got %d", snap.CaptureRestarts)
	}
}

func TestCycleMarksIdlePeerDisconnected(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second})
	now := time.Now()
	p := tf.addPeer(t, "203.0.113.1", now.Add(-time.Minute))

	tf.feed.cycle(now)

	if p.Connected() {
		t.Fatal("idle peer should be marked disconnected")
	}
	if !p.Times.Left.Equal(p.Times.LastSeen) {
		t.Errorf("left time should be the last packet time, got %v vs %v", p.Times.Left, p.Times.LastSeen)
	}
	snap := tf.feed.Latest()
	if len(snap.Connected) != 0 || len(snap.Disconnected) != 1 {
		t.Fatalf("expected the peer in the disconnected set, got %d/%d",
			len(snap.Connected), len(snap.Disconnected))
	}
}

func TestCyclePortProjection(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second})
	now := time.Now()
	p := tf.addPeer(t, "203.0.113.1", now)
	p.Ports.Record(6673)
	p.Ports.Record(6674)

	tf.feed.cycle(now)

	view := tf.feed.Latest().Connected[0]
	if view.FirstPort != 6672 || view.LastPort != 6674 {
		t.Errorf("expected ports 6672..6674, got %d..%d", view.FirstPort, view.LastPort)
	}
	if len(view.IntermediatePorts) != 1 || view.IntermediatePorts[0] != 6673 {
		t.Errorf("expected intermediate [6673], got %v", view.IntermediatePorts)
	}
}

func TestCycleCapsDisconnectedList(t *testing.T) {
	tf := newTestFeed(t, Config{
		DisconnectTimeout:  10 * time.Second,
		DisconnectedCap:    2,
		SortDisconnectedBy: SortIPAddress,
	})
	now := time.Now()
	for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		tf.addPeer(t, ip, now.Add(-time.Minute))
	}

	tf.feed.cycle(now)

	snap := tf.feed.Latest()
	if len(snap.Disconnected) != 2 {
		t.Fatalf("expected the disconnected list capped at 2, got %d", len(snap.Disconnected))
	}
	if snap.Disconnected[0].IP != "203.0.113.1" || snap.Disconnected[1].IP != "203.0.113.2" {
		t.Errorf("cap should keep the sort winners, got %s, %s",
			snap.Disconnected[0].IP, snap.Disconnected[1].IP)
	}
	if tf.registry.Len() != 3 {
		t.Error("the cap is presentational, the registry keeps every peer")
	}
}

func TestCycleDisconnectNotification(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second, UserIPEnabled: true})
	now := time.Now()
	p := tf.addPeer(t, "203.0.113.1", now.Add(-time.Minute))
	tf.source.databases = []userip.Database{{
		Name:     "friends",
		Settings: userip.Settings{Enabled: true},
		Users:    []userip.User{{Username: "alice", IPs: []string{"203.0.113.1"}}},
	}}
	p.UserIP.Detection = registry.Detection{
		Processed: true,
		Type:      "Static IP",
		Time:      now.Add(-time.Minute),
	}

	tf.feed.cycle(now)

	if p.UserIP.Detection.Processed {
		t.Error("disconnect should re-arm the detection for the next session")
	}
	select {
	case edge := <-tf.notifier.detected:
		if edge != notify.EdgeDisconnected {
			t.Errorf("expected disconnected edge, got %s", edge)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a disconnect hand-off")
	}
}

func TestCycleIdleTimeoutWithoutDetectionIsSilent(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second, UserIPEnabled: true})
	now := time.Now()
	tf.addPeer(t, "203.0.113.1", now.Add(-time.Minute))

	tf.feed.cycle(now)

	select {
	case edge := <-tf.notifier.detected:
		t.Fatalf("undetected peer must not notify on disconnect, got %s", edge)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCycleClearsRemovedAssociation(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: time.Hour, UserIPEnabled: true})
	t0 := time.Now()
	p := tf.addPeer(t, "203.0.113.1", t0)
	tf.source.databases = []userip.Database{{
		Name:     "friends",
		Settings: userip.Settings{Enabled: true},
		Users:    []userip.User{{Username: "alice", IPs: []string{"203.0.113.1"}}},
	}}

	tf.feed.cycle(t0)
	p.Times.LastSeen = t0.Add(2 * time.Second)
	if p.UserIP.DatabaseName != "friends" {
		t.Fatal("expected the association to be applied")
	}
	p.UserIP.Detection = registry.Detection{Processed: true, Type: "Static IP", Time: t0}

	// The entry disappears from the trust lists; the association clears
	// but the detection state survives until the peer leaves.
	tf.source.databases = nil
	tf.feed.cycle(t0.Add(2 * time.Second))

	if p.UserIP.DatabaseName != "" || len(p.UserIP.Usernames) != 0 {
		t.Errorf("expected the association cleared, got %q %v", p.UserIP.DatabaseName, p.UserIP.Usernames)
	}
	if !p.UserIP.Detection.Processed {
		t.Error("clearing the association must not reset the detection")
	}
}

func TestCycleHostPublication(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second, HostDetection: true})
	now := time.Now()
	p := tf.addPeer(t, "203.0.113.1", now)
	p.Packets = 60

	tf.feed.cycle(now)

	snap := tf.feed.Latest()
	if snap.HostIP != "203.0.113.1" {
		t.Fatalf("expected 203.0.113.1 as host, got %q", snap.HostIP)
	}
	if len(snap.Connected) != 1 || !snap.Connected[0].IsHost {
		t.Error("the host's view should be flagged")
	}
}

func TestCycleGlobalPacketRate(t *testing.T) {
	tf := newTestFeed(t, Config{DisconnectTimeout: 10 * time.Second})
	now := time.Now()
	tf.feed.rateWindowStart = now.Add(-2 * time.Second)
	tf.stats.packets = 100

	tf.feed.cycle(now)

	if got := tf.feed.Latest().PacketRate; got != 50 {
		t.Fatalf("expected 50 pps over a 2s window, got %d", got)
	}
}

func TestMergeUsernames(t *testing.T) {
	got := mergeUsernames([]string{"alice", "bob"}, []string{"bob", "carol"})
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
