package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blikh/session-sniffer/internal/capture"
	"github.com/blikh/session-sniffer/internal/config"
	"github.com/blikh/session-sniffer/internal/feed"
	"github.com/blikh/session-sniffer/internal/monitor"
	"github.com/blikh/session-sniffer/internal/notify"
)

const logo = `
                     _                        _  __  __
  ___  ___  ___ ___ (_) ___  _ __        ___ | |/ _|/ _| ___ _ __
 / __|/ _ \/ __/ __|| |/ _ \| '_ \  ___ / __|| | |_| |_ / _ \ '__|
 \__ \  __/\__ \__ \| | (_) | | | ||___|\__ \| |  _|  _|  __/ |
 |___/\___||___/___/|_|\___/|_| |_|     |___/|_|_| |_|  \___|_|
            ~~ session-sniffer ~~`

func main() {
	configPath := flag.String("config", "configs/sniffer.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Optional .env overlay for deployment-specific overrides.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env overlay")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))

	fmt.Println(logo)
	if bi, ok := debug.ReadBuildInfo(); ok {
		var buildAttrs []any
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs", "vcs.revision", "vcs.time", "vcs.modified":
				buildAttrs = append(buildAttrs, s.Key, s.Value)
			}
		}
		if len(buildAttrs) > 0 {
			logger.Info("build info", buildAttrs...)
		}
	}

	if obs := cfg.ObservabilityHTTP; obs.Addr != "" {
		mux := http.NewServeMux()
		if obs.Pprof {
			// Re-register pprof handlers on our mux (net/http/pprof init registers on DefaultServeMux).
			mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		}
		if obs.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
			if err := http.ListenAndServe(obs.Addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	source := capture.NewTSharkSource(
		cfg.Capture.TSharkPath,
		cfg.Capture.Interface,
		cfg.Capture.CaptureFilter,
		cfg.Capture.DisplayFilter,
		logger,
	)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.UserIP.Enabled {
		notifier = notify.NewLogger(cfg.UserIP.DetectionLog, logger)
	}

	m, err := monitor.New(cfg, source, notifier, logger)
	if err != nil {
		logger.Error("failed to build monitor", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go summaryLoop(ctx, m.Feed(), logger)

	logger.Info("starting session-sniffer", "run_id", m.RunID(), "interface", cfg.Capture.Interface)
	if err := m.Run(ctx); err != nil {
		logger.Error("sniffer error", "err", err)
		os.Exit(1)
	}
}

// summaryLoop periodically logs the header summary. Full table rendering
// belongs to external renderers consuming Feed snapshots.
func summaryLoop(ctx context.Context, f *feed.Feed, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := f.Latest()
			if !snap.Ready {
				continue
			}
			logger.Info("session summary",
				"connected", len(snap.Connected),
				"disconnected", len(snap.Disconnected),
				"host", snap.HostIP,
				"pps", snap.PacketRate,
				"avg_latency", snap.AvgLatency,
				"capture_restarts", snap.CaptureRestarts,
			)
		}
	}
}
