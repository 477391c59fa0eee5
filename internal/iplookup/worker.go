package iplookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blikh/session-sniffer/internal/ipapi"
	"github.com/blikh/session-sniffer/internal/metrics"
	"github.com/blikh/session-sniffer/internal/registry"
)

// idleDelay is slept when no IPs are due, to avoid busy-spinning.
const idleDelay = time.Second

// Worker is the long-running lookup orchestrator. Each cycle it builds a
// batch of unresolved IPs, issues one request, and publishes the results
// back into the registry, respecting the service's rate-limit hints.
type Worker struct {
	registry *registry.Registry
	set      *Set
	client   *ipapi.Client
	logger   *slog.Logger
}

func NewWorker(reg *registry.Registry, set *Set, client *ipapi.Client, logger *slog.Logger) *Worker {
	return &Worker{
		registry: reg,
		set:      set,
		client:   client,
		logger:   logger,
	}
}

// Run loops until the context is cancelled. A malformed remote payload
// is a contract violation and returned as a fatal error; transport and
// status failures are retried.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		batch := w.buildBatch()
		if len(batch) == 0 {
			if !sleep(ctx, idleDelay) {
				return nil
			}
			continue
		}

		metrics.LookupBatchesTotal.Inc()
		results, hints, err := w.client.Batch(ctx, batch)
		if err != nil {
			var statusErr *ipapi.StatusError
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ipapi.ErrMalformed):
				return fmt.Errorf("iplookup: %w", err)
			case errors.As(err, &statusErr):
				metrics.LookupFailuresTotal.WithLabelValues("status").Inc()
				w.logger.Warn("iplookup: batch rejected, backing off",
					"status", statusErr.Code,
					"backoff", hints.Backoff())
				if !sleep(ctx, hints.Backoff()) {
					return nil
				}
				continue
			default:
				// Transport failure: retry next cycle without touching
				// pending state.
				metrics.LookupFailuresTotal.WithLabelValues("transport").Inc()
				w.logger.Debug("iplookup: batch request failed", "err", err)
				if !sleep(ctx, idleDelay) {
					return nil
				}
				continue
			}
		}

		for i := range results {
			result := &results[i]
			w.set.MarkResolved(result.Query, result)
			if p := w.registry.Get(result.Query); p != nil {
				p.Remote = *result
			}
			metrics.LookupResolvedTotal.Inc()
		}

		if !sleep(ctx, hints.Backoff()) {
			return nil
		}
	}
}

// buildBatch assembles up to ipapi.BatchMax unresolved IPs, preferring
// currently-connected peers. When connected and disconnected candidates
// together hit the cap, the most recently-added disconnected one is
// dropped to make room; remaining space is backfilled from the pending
// queue.
func (w *Worker) buildBatch() []string {
	var connected, disconnected []string
	var removedDisconnected string

	for _, p := range w.registry.Snapshot() {
		if p.Remote.Initialized {
			continue
		}
		if p.Connected() {
			connected = append(connected, p.IP)
		} else {
			disconnected = append(disconnected, p.IP)
		}
		if len(connected)+len(disconnected) == ipapi.BatchMax {
			if len(disconnected) > 0 {
				removedDisconnected = disconnected[len(disconnected)-1]
				disconnected = disconnected[:len(disconnected)-1]
			} else {
				break
			}
		}
	}

	ips := append(connected, disconnected...)
	if len(ips) < ipapi.BatchMax {
		if len(ips) == ipapi.BatchMax-1 && removedDisconnected != "" {
			ips = append(ips, removedDisconnected)
		} else {
			seen := make(map[string]struct{}, len(ips))
			for _, ip := range ips {
				seen[ip] = struct{}{}
			}
			for _, ip := range w.set.PendingSlice(ipapi.BatchMax - len(ips)) {
				if _, dup := seen[ip]; dup {
					continue
				}
				ips = append(ips, ip)
			}
		}
	}

	if len(ips) > ipapi.BatchMax {
		ips = ips[:ipapi.BatchMax]
	}
	return ips
}

// sleep waits for d or until the context is cancelled, reporting whether
// the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
