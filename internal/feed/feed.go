// Package feed runs the presentation cycle: it reconciles peer state,
// applies enrichment, and publishes immutable snapshots for rendering
// collaborators.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blikh/session-sniffer/internal/capture"
	"github.com/blikh/session-sniffer/internal/geoip"
	"github.com/blikh/session-sniffer/internal/metrics"
	"github.com/blikh/session-sniffer/internal/modmenu"
	"github.com/blikh/session-sniffer/internal/notify"
	"github.com/blikh/session-sniffer/internal/registry"
	"github.com/blikh/session-sniffer/internal/sessionhost"
	"github.com/blikh/session-sniffer/internal/userip"
)

// reloadInterval caps how often the trust lists and mod-menu logs are
// re-read.
const reloadInterval = time.Second

// CaptureStats is what the feed needs from the ingestion worker for the
// header summary.
type CaptureStats interface {
	Restarts() int64
	SwapPacketCount() int64
}

// Config tunes the presentation cycle.
type Config struct {
	Interval          time.Duration // cycle cadence, ~100ms
	DisconnectTimeout time.Duration // idle time before a peer is marked left
	DisconnectedCap   int           // 0 = unlimited
	SortConnectedBy   string
	SortDisconnectedBy string
	HostDetection     bool
	UserIPEnabled     bool
}

// Snapshot is one published view of the session.
type Snapshot struct {
	Ready       bool
	GeneratedAt time.Time

	Connected    []PeerView
	Disconnected []PeerView
	HostIP       string

	PacketRate      int
	AvgLatency      time.Duration
	CaptureRestarts int64
}

// Feed owns the presentation worker.
type Feed struct {
	cfg      Config
	registry *registry.Registry
	userips  *userip.Store
	geo      *geoip.Resolver
	detector *sessionhost.Detector
	modmenus *modmenu.Merger
	notifier notify.Notifier
	stats    CaptureStats
	latency  *capture.LatencyTracker
	logger   *slog.Logger

	lastUserIPReload time.Time
	lastModMenuParse time.Time
	rateWindowStart  time.Time
	packetRate       int

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, reg *registry.Registry, userips *userip.Store, geo *geoip.Resolver, detector *sessionhost.Detector, modmenus *modmenu.Merger, notifier notify.Notifier, stats CaptureStats, latency *capture.LatencyTracker, logger *slog.Logger) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	return &Feed{
		cfg:      cfg,
		registry: reg,
		userips:  userips,
		geo:      geo,
		detector: detector,
		modmenus: modmenus,
		notifier: notifier,
		stats:    stats,
		latency:  latency,
		logger:   logger,
	}
}

// Latest returns the most recently published snapshot.
func (f *Feed) Latest() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Run executes the presentation cycle until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	f.rateWindowStart = time.Now()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.cycle(time.Now())
		}
	}
}

func (f *Feed) cycle(now time.Time) {
	if f.cfg.UserIPEnabled && now.Sub(f.lastUserIPReload) >= reloadInterval {
		f.lastUserIPReload = now
		if err := f.userips.Reload(); err != nil {
			f.logger.Warn("feed: reloading userip databases", "err", err)
		}
		metrics.UserIPConflicts.Set(float64(len(f.userips.Conflicts())))
	}
	if now.Sub(f.lastModMenuParse) >= reloadInterval {
		f.lastModMenuParse = now
		f.modmenus.Reparse()
	}

	var connected, disconnected []*registry.Peer
	for _, p := range f.registry.Snapshot() {
		f.reconcile(p, now)
		if p.Connected() {
			p.Rate.Tick(now)
			connected = append(connected, p)
		} else {
			disconnected = append(disconnected, p)
		}
	}

	if f.cfg.HostDetection {
		f.detector.Update(connected)
	}

	sortPeers(connected, f.cfg.SortConnectedBy)
	sortPeers(disconnected, f.cfg.SortDisconnectedBy)
	if f.cfg.DisconnectedCap > 0 && len(disconnected) > f.cfg.DisconnectedCap {
		disconnected = disconnected[:f.cfg.DisconnectedCap]
	}

	if elapsed := now.Sub(f.rateWindowStart); elapsed >= time.Second {
		f.packetRate = int(float64(f.stats.SwapPacketCount())/elapsed.Seconds() + 0.5)
		f.rateWindowStart = now
	}
	avgLatency, _ := f.latency.Average(now)

	metrics.PeersConnected.Set(float64(len(connected)))
	metrics.PeersDisconnected.Set(float64(f.registry.Len() - len(connected)))
	metrics.PacketRate.Set(float64(f.packetRate))
	metrics.CaptureLatencySeconds.Set(avgLatency.Seconds())

	f.publish(now, connected, disconnected, avgLatency)
}

// reconcile applies the per-peer enrichment and lifecycle-timeout pass.
func (f *Feed) reconcile(p *registry.Peer, now time.Time) {
	if f.cfg.UserIPEnabled {
		if entry, ok := f.userips.Lookup(p.IP); ok {
			p.UserIP.DatabaseName = entry.DatabaseName
			p.UserIP.Settings = entry.Settings
			p.UserIP.Usernames = entry.Usernames
		} else if p.UserIP.DatabaseName != "" {
			p.UserIP.Clear()
		}
	}

	for _, username := range f.modmenus.Usernames(p.IP) {
		if !containsString(p.ModMenuUsernames, username) {
			p.ModMenuUsernames = append(p.ModMenuUsernames, username)
		}
	}
	p.Usernames = mergeUsernames(p.ModMenuUsernames, p.UserIP.Usernames)

	if p.Connected() && now.Sub(p.Times.LastSeen) >= f.cfg.DisconnectTimeout {
		p.Times.Left = p.Times.LastSeen
		if f.cfg.UserIPEnabled && !p.UserIP.Detection.Time.IsZero() {
			p.UserIP.Detection.Processed = false
			metrics.UserIPDetectionsTotal.WithLabelValues(string(notify.EdgeDisconnected)).Inc()
			go f.notifier.PeerDetected(p, notify.EdgeDisconnected)
		}
	}

	if !p.Local.Initialized {
		rec := f.geo.Lookup(p.Addr)
		p.Local = registry.LocalGeo{
			Initialized: true,
			Country:     rec.Country,
			CountryCode: rec.CountryCode,
			City:        rec.City,
			ASN:         rec.ASN,
		}
	}
}

func (f *Feed) publish(now time.Time, connected, disconnected []*registry.Peer, avgLatency time.Duration) {
	host := f.detector.Current()

	snap := Snapshot{
		Ready:           true,
		GeneratedAt:     now,
		Connected:       make([]PeerView, 0, len(connected)),
		Disconnected:    make([]PeerView, 0, len(disconnected)),
		PacketRate:      f.packetRate,
		AvgLatency:      avgLatency,
		CaptureRestarts: f.stats.Restarts(),
	}
	if host != nil {
		snap.HostIP = host.IP
	}
	for _, p := range connected {
		snap.Connected = append(snap.Connected, makeView(p, host))
	}
	for _, p := range disconnected {
		snap.Disconnected = append(snap.Disconnected, makeView(p, host))
	}

	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

// mergeUsernames unions the two sources preserving order and dropping
// duplicates.
func mergeUsernames(modMenu, userIP []string) []string {
	out := make([]string, 0, len(modMenu)+len(userIP))
	for _, name := range modMenu {
		if !containsString(out, name) {
			out = append(out, name)
		}
	}
	for _, name := range userIP {
		if !containsString(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
