// Package modmenu extracts username/IP attributions from external
// mod-menu log files.
package modmenu

import (
	"bufio"
	"log/slog"
	"os"
	"regexp"
)

var userLine = regexp.MustCompile(`^user:(?P<username>[\w._-]{1,32}), ip:(?P<ip>[\d.]{7,15})$`)

// Merger accumulates the IP-to-usernames attributions found in the
// configured log files. Only the presentation feed touches it.
type Merger struct {
	paths  []string
	logger *slog.Logger

	byIP map[string][]string
}

func NewMerger(paths []string, logger *slog.Logger) *Merger {
	return &Merger{
		paths:  paths,
		logger: logger,
		byIP:   make(map[string][]string),
	}
}

// Reparse re-reads every configured log file and folds new attributions
// into the accumulated map. Missing files are fine; the menus create
// them lazily.
func (m *Merger) Reparse() {
	for _, path := range m.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			match := userLine.FindStringSubmatch(scanner.Text())
			if match == nil {
				continue
			}
			username, ip := match[1], match[2]
			if !contains(m.byIP[ip], username) {
				m.byIP[ip] = append(m.byIP[ip], username)
			}
		}
		if err := scanner.Err(); err != nil {
			m.logger.Warn("modmenu: reading log file", "path", path, "err", err)
		}
		f.Close()
	}
}

// Usernames returns the attributions recorded for ip.
func (m *Merger) Usernames(ip string) []string {
	return m.byIP[ip]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
