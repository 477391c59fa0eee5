// Package monitor wires the session-tracking engine together and
// supervises its three long-running workers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blikh/session-sniffer/internal/capture"
	"github.com/blikh/session-sniffer/internal/config"
	"github.com/blikh/session-sniffer/internal/feed"
	"github.com/blikh/session-sniffer/internal/geoip"
	"github.com/blikh/session-sniffer/internal/ipapi"
	"github.com/blikh/session-sniffer/internal/iplookup"
	"github.com/blikh/session-sniffer/internal/modmenu"
	"github.com/blikh/session-sniffer/internal/notify"
	"github.com/blikh/session-sniffer/internal/registry"
	"github.com/blikh/session-sniffer/internal/sessionhost"
	"github.com/blikh/session-sniffer/internal/userip"
)

// shutdownGrace bounds how long workers get to exit after the first
// fatal error or a cancellation before Run gives up on them.
const shutdownGrace = 10 * time.Second

// ErrForcedShutdown is returned when a worker did not exit within the
// grace period; the process should terminate instead of waiting forever.
var ErrForcedShutdown = errors.New("monitor: workers did not exit within the shutdown grace period")

// hostDetectionPreset names the capture preset for which the
// session-host heuristic is meaningful.
const hostDetectionPreset = "GTA5"

// Monitor owns the shared structures and the three workers.
type Monitor struct {
	runID  string
	cfg    *config.Config
	logger *slog.Logger

	registry *registry.Registry
	lookups  *iplookup.Set
	userips  *userip.Store
	geo      *geoip.Resolver

	ingestor *capture.Ingestor
	lookupW  *iplookup.Worker
	feed     *feed.Feed
}

// New builds the full engine around the given capture source and
// notifier. The source and notifier stay injectable so tests and
// alternative transports can replace them.
func New(cfg *config.Config, source capture.Source, notifier notify.Notifier, logger *slog.Logger) (*Monitor, error) {
	for _, key := range []string{cfg.Presentation.ConnectedSortedBy, cfg.Presentation.DisconnectedSortedBy} {
		if !feed.ValidSortField(key) {
			return nil, fmt.Errorf("monitor: unknown sort field %q", key)
		}
	}

	geo, err := geoip.Open(geoip.Config{
		CountryPath: cfg.GeoIP.CountryPath,
		CityPath:    cfg.GeoIP.CityPath,
		ASNPath:     cfg.GeoIP.ASNPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		runID:    uuid.NewString(),
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(),
		lookups:  iplookup.NewSet(),
		geo:      geo,
	}

	m.userips = userip.NewStore(userip.NewFileSource(cfg.UserIP.DatabasesDir, logger), logger)
	latency := capture.NewLatencyTracker()

	m.ingestor = capture.NewIngestor(capture.IngestConfig{
		LocalIP:            cfg.LocalIP(),
		OverflowLimit:      cfg.OverflowLimit(),
		ResetPortsOnRejoin: cfg.Presentation.ResetPortsOnRejoins,
		UserIPEnabled:      cfg.UserIP.Enabled,
	}, source, m.registry, m.userips, notifier, latency, logger)

	m.lookupW = iplookup.NewWorker(m.registry, m.lookups, ipapi.NewClient(), logger)

	m.feed = feed.New(feed.Config{
		Interval:           cfg.RefreshInterval(),
		DisconnectTimeout:  cfg.DisconnectTimeout(),
		DisconnectedCap:    cfg.Presentation.DisconnectedCounter,
		SortConnectedBy:    cfg.Presentation.ConnectedSortedBy,
		SortDisconnectedBy: cfg.Presentation.DisconnectedSortedBy,
		HostDetection:      cfg.Capture.ProgramPreset == hostDetectionPreset,
		UserIPEnabled:      cfg.UserIP.Enabled,
	}, m.registry, m.userips, geo, sessionhost.New(), modmenu.NewMerger(cfg.ModMenuLogs, logger), notifier, m.ingestor, latency, logger)

	return m, nil
}

// RunID identifies this process run in logs and the header summary.
func (m *Monitor) RunID() string {
	return m.runID
}

// Feed exposes the snapshot publisher for rendering collaborators.
func (m *Monitor) Feed() *feed.Feed {
	return m.feed
}

type workerError struct {
	name string
	err  error
}

// Run starts the three workers and blocks until the context is
// cancelled or one of them fails. The first failure cancels the others;
// a consolidated crash summary is logged before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.geo.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.cfg.UserIP.Enabled {
		if err := m.userips.Reload(); err != nil {
			m.logger.Warn("monitor: initial userip load failed", "err", err)
		}
	}

	workers := []struct {
		name string
		run  func(context.Context) error
	}{
		{"ingestion", m.ingestor.Run},
		{"iplookup", m.lookupW.Run},
		{"presentation", m.feed.Run},
	}
	if !m.cfg.Lookup.Enabled {
		workers = append(workers[:1], workers[2])
		m.logger.Info("monitor: remote IP lookup disabled")
	}

	m.logger.Info("monitor: starting workers", "run_id", m.runID, "workers", len(workers))

	done := make(chan workerError, len(workers))
	for _, w := range workers {
		go func() {
			done <- workerError{name: w.name, err: w.run(ctx)}
		}()
	}

	var crashes []workerError
	remaining := len(workers)

	// Wait for the first exit; an error here is the crash that brings
	// the engine down.
	first := <-done
	remaining--
	if first.err != nil {
		crashes = append(crashes, first)
		m.logger.Error("monitor: worker crashed, shutting down", "worker", first.name, "err", first.err)
	}
	cancel()

	grace := time.NewTimer(shutdownGrace)
	defer grace.Stop()
	for remaining > 0 {
		select {
		case we := <-done:
			remaining--
			if we.err != nil {
				crashes = append(crashes, we)
			}
		case <-grace.C:
			m.logCrashSummary(crashes)
			return ErrForcedShutdown
		}
	}

	if len(crashes) > 0 {
		m.logCrashSummary(crashes)
		return fmt.Errorf("monitor: worker %s: %w", crashes[0].name, crashes[0].err)
	}

	m.logger.Info("monitor: all workers stopped", "run_id", m.runID)
	return nil
}

func (m *Monitor) logCrashSummary(crashes []workerError) {
	for _, we := range crashes {
		m.logger.Error("monitor: crash summary", "worker", we.name, "err", we.err)
	}
}
