package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/blikh/session-sniffer/internal/metrics"
	"github.com/blikh/session-sniffer/internal/notify"
	"github.com/blikh/session-sniffer/internal/registry"
	"github.com/blikh/session-sniffer/internal/userip"
)

// Contract violations. Each of these means upstream filtering let
// through a packet the design assumes impossible; the worker fails the
// whole process rather than skipping silently.
var (
	ErrEndpointMismatch   = errors.New("capture: neither endpoint matches the configured local IP")
	ErrAmbiguousEndpoints = errors.New("capture: neither endpoint is a private address")
	ErrMissingPort        = errors.New("capture: no port could be determined for the peer endpoint")
)

// IngestConfig tunes the ingestion worker.
type IngestConfig struct {
	// LocalIP pins the local side of the session. When unset the peer is
	// inferred by private-address classification.
	LocalIP netip.Addr

	// OverflowLimit is the per-packet latency ceiling beyond which the
	// capture source is considered backed up and restarted.
	OverflowLimit time.Duration

	ResetPortsOnRejoin bool
	UserIPEnabled      bool
}

// Ingestor consumes the packet stream and drives peer lifecycle
// transitions in the registry.
type Ingestor struct {
	cfg      IngestConfig
	source   Source
	registry *registry.Registry
	userips  *userip.Store
	notifier notify.Notifier
	latency  *LatencyTracker
	logger   *slog.Logger

	packetCount atomic.Int64
	restarts    atomic.Int64
}

func NewIngestor(cfg IngestConfig, source Source, reg *registry.Registry, userips *userip.Store, notifier notify.Notifier, latency *LatencyTracker, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		source:   source,
		registry: reg,
		userips:  userips,
		notifier: notifier,
		latency:  latency,
		logger:   logger,
	}
}

// Restarts returns how many times the capture source was restarted
// after an overflow.
func (in *Ingestor) Restarts() int64 {
	return in.restarts.Load()
}

// SwapPacketCount returns the packets ingested since the last call and
// resets the counter; the feed uses it for the global rate.
func (in *Ingestor) SwapPacketCount() int64 {
	return in.packetCount.Swap(0)
}

// Run consumes the source until the context is cancelled. Overflow is
// recoverable and restarts the source; contract violations are returned
// as fatal errors.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		err := in.source.Capture(ctx, in.handlePacket)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrOverflow) {
			in.restarts.Add(1)
			metrics.CaptureRestartsTotal.Inc()
			in.logger.Warn("capture: overflow, restarting source", "restarts", in.restarts.Load())
			continue
		}
		if err != nil {
			return err
		}
		// Source ended cleanly; start it again.
		in.logger.Debug("capture: source ended, restarting")
	}
}

func (in *Ingestor) handlePacket(pkt Packet) error {
	now := time.Now()
	latency := now.Sub(pkt.Timestamp)
	in.latency.Observe(pkt.Timestamp, latency)
	if latency >= in.cfg.OverflowLimit {
		return ErrOverflow
	}

	peerAddr, peerPort, err := in.classify(pkt)
	if err != nil {
		return err
	}
	if !peerAddr.IsValid() {
		// Both endpoints private: local chatter, not session traffic.
		return nil
	}
	if peerPort == 0 {
		return fmt.Errorf("%w: ip=%s", ErrMissingPort, peerAddr)
	}

	in.packetCount.Add(1)
	metrics.PacketsTotal.Inc()

	ip := peerAddr.String()
	peer := in.registry.Get(ip)
	if peer == nil {
		peer, err = in.registry.Add(ip, peerAddr, peerPort, pkt.Timestamp)
		if err != nil {
			return err
		}
	}

	if in.cfg.UserIPEnabled && in.userips.Contains(ip) && !peer.UserIP.Detection.Processed {
		peer.UserIP.Detection = registry.Detection{
			Processed: true,
			Type:      "Static IP",
			Time:      pkt.Timestamp,
		}
		if entry, ok := in.userips.Lookup(ip); ok {
			peer.UserIP.DatabaseName = entry.DatabaseName
			peer.UserIP.Settings = entry.Settings
			peer.UserIP.Usernames = entry.Usernames
			metrics.UserIPDetectionsTotal.WithLabelValues(string(notify.EdgeConnected)).Inc()
			go in.notifier.PeerDetected(peer, notify.EdgeConnected)
		}
	}

	if peer.JustRegistered {
		peer.JustRegistered = false
		return nil
	}

	peer.Times.LastSeen = pkt.Timestamp
	peer.TotalPackets++
	peer.Rate.Counter++

	if !peer.Connected() {
		peer.Rejoin(pkt.Timestamp)
		if in.cfg.ResetPortsOnRejoin {
			peer.Ports.Reset(peerPort)
			return nil
		}
	} else {
		peer.Packets++
	}

	peer.Ports.Record(peerPort)
	return nil
}

// classify determines which endpoint of the packet is the remote peer.
// An invalid returned address means the packet should be skipped.
func (in *Ingestor) classify(pkt Packet) (netip.Addr, uint16, error) {
	if in.cfg.LocalIP.IsValid() {
		switch in.cfg.LocalIP {
		case pkt.SrcIP:
			return pkt.DstIP, pkt.DstPort, nil
		case pkt.DstIP:
			return pkt.SrcIP, pkt.SrcPort, nil
		default:
			return netip.Addr{}, 0, fmt.Errorf("%w: local=%s src=%s dst=%s",
				ErrEndpointMismatch, in.cfg.LocalIP, pkt.SrcIP, pkt.DstIP)
		}
	}

	srcPrivate := isPrivate(pkt.SrcIP)
	dstPrivate := isPrivate(pkt.DstIP)
	switch {
	case srcPrivate && dstPrivate:
		return netip.Addr{}, 0, nil
	case srcPrivate:
		return pkt.DstIP, pkt.DstPort, nil
	case dstPrivate:
		return pkt.SrcIP, pkt.SrcPort, nil
	default:
		return netip.Addr{}, 0, fmt.Errorf("%w: src=%s dst=%s",
			ErrAmbiguousEndpoints, pkt.SrcIP, pkt.DstIP)
	}
}

func isPrivate(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}
