// Package capture defines the decoded packet stream and the ingestion
// worker that turns it into peer lifecycle state.
package capture

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// Packet is one decoded UDP packet from the capture source.
type Packet struct {
	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
}

// ErrOverflow signals that packets are queueing faster than they are
// processed. The ingestion worker handles it by restarting the source.
var ErrOverflow = errors.New("capture: packet backlog exceeded the overflow limit")

// Source is a blocking packet stream. Capture delivers packets to fn
// until the stream ends, fn returns an error, or the context is
// cancelled; the returned error is fn's error when fn aborted the
// stream.
type Source interface {
	Capture(ctx context.Context, fn func(Packet) error) error
}
