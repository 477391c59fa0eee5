// Package notify defines the hand-off contract to the notification and
// protection collaborators for trust-listed peers.
package notify

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/blikh/session-sniffer/internal/registry"
)

// Edge is the lifecycle transition a detection fires on.
type Edge string

const (
	EdgeConnected    Edge = "connected"
	EdgeDisconnected Edge = "disconnected"
)

// Notifier receives one asynchronous hand-off per lifecycle edge per
// matched peer. Callers guarantee the exactly-once property via the
// peer's detection flag; implementations only need to be safe for
// concurrent calls.
type Notifier interface {
	PeerDetected(p *registry.Peer, edge Edge)
}

// Nop discards all hand-offs.
type Nop struct{}

func (Nop) PeerDetected(*registry.Peer, Edge) {}

// Logger appends detections to a log file and mirrors them to slog.
// The file is the only state that outlives the process.
type Logger struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func NewLogger(path string, logger *slog.Logger) *Logger {
	return &Logger{path: path, logger: logger}
}

func (l *Logger) PeerDetected(p *registry.Peer, edge Edge) {
	usernames := "N/A"
	if len(p.UserIP.Usernames) > 0 {
		usernames = strings.Join(p.UserIP.Usernames, ", ")
	}

	l.logger.Info("userip: peer detected",
		"edge", string(edge),
		"ip", p.IP,
		"usernames", usernames,
		"database", p.UserIP.DatabaseName,
		"detection_type", p.UserIP.Detection.Type,
	)

	if l.path == "" || p.UserIP.Settings == nil || !p.UserIP.Settings.Log {
		return
	}

	ports := make([]string, 0, len(p.Ports.List))
	for i := len(p.Ports.List) - 1; i >= 0; i-- {
		ports = append(ports, fmt.Sprintf("%d", p.Ports.List[i]))
	}

	line := fmt.Sprintf("Users:%s | IP:%s | Ports:%s | Time:%s | Edge:%s | Detection Type:%s | Database:%s\n",
		usernames,
		p.IP,
		strings.Join(ports, ", "),
		p.UserIP.Detection.Time.Format("2006-01-02 15:04:05"),
		edge,
		p.UserIP.Detection.Type,
		p.UserIP.DatabaseName,
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error("userip: opening detection log", "path", l.path, "err", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		l.logger.Error("userip: writing detection log", "path", l.path, "err", err)
	}
}
