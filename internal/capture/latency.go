package capture

import (
	"sync"
	"time"
)

type latencySample struct {
	at    time.Time
	delay time.Duration
}

// LatencyTracker keeps per-packet capture latencies and summarizes the
// last second of them. Written by the ingestion worker, read by the
// presentation feed.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []latencySample
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{}
}

func (t *LatencyTracker) Observe(at time.Time, delay time.Duration) {
	t.mu.Lock()
	t.samples = append(t.samples, latencySample{at: at, delay: delay})
	t.mu.Unlock()
}

// Average returns the mean latency of packets captured within the last
// second before now, pruning older samples.
func (t *LatencyTracker) Average(now time.Time) (time.Duration, int) {
	cutoff := now.Add(-time.Second)

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.samples[:0]
	for _, s := range t.samples {
		if !s.at.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	t.samples = recent

	if len(recent) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, s := range recent {
		total += s.delay
	}
	return total / time.Duration(len(recent)), len(recent)
}
