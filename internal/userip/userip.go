// Package userip maintains the user-curated trust/watch lists and the
// IP association index built from them.
package userip

import (
	"log/slog"
	"net/netip"
	"sort"
	"sync"
)

// Protection is the action taken when a listed IP joins the session.
// Executing the action is the job of an external collaborator.
type Protection string

const (
	ProtectionNone           Protection = ""
	ProtectionSuspendProcess Protection = "suspend_process"
	ProtectionExitProcess    Protection = "exit_process"
	ProtectionRestartProcess Protection = "restart_process"
	ProtectionShutdownPC     Protection = "shutdown_pc"
	ProtectionRestartPC      Protection = "restart_pc"
)

// Settings holds the per-database behavior toggles.
type Settings struct {
	Enabled            bool       `yaml:"enabled"`
	Color              string     `yaml:"color"`
	Log                bool       `yaml:"log"`
	Notifications      bool       `yaml:"notifications"`
	VoiceNotifications string     `yaml:"voice_notifications"`
	Protection         Protection `yaml:"protection"`
	ProcessPath        string     `yaml:"process_path"`
	RestartProcessPath string     `yaml:"restart_process_path"`
	SuspendMode        string     `yaml:"suspend_mode"`
}

// User is one username with the IPs attributed to it.
type User struct {
	Username string   `yaml:"username"`
	IPs      []string `yaml:"ips"`
}

// Database is the parsed form of a single trust-list file.
type Database struct {
	Name     string
	Settings Settings
	Users    []User
}

// Entry is the association the index keeps for one IP.
type Entry struct {
	IP           string
	DatabaseName string
	Settings     *Settings
	Usernames    []string
}

// Source supplies the parsed databases on each rebuild.
type Source interface {
	Load() ([]Database, error)
}

// Store folds the loaded databases into an IP association index.
// Rebuilt wholesale on each Reload; the conflict and invalid-entry sets
// are diffed against the previous build so resolved issues are cleared
// and new ones reported exactly once.
type Store struct {
	source Source
	logger *slog.Logger

	// mu guards the index maps. Loading from the source happens outside
	// the lock; only the fold into the new index is guarded. Entries are
	// immutable once published.
	mu        sync.RWMutex
	byIP      map[string]*Entry
	ips       map[string]struct{}
	conflicts map[string]struct{}
	invalid   map[string]struct{}
}

func NewStore(source Source, logger *slog.Logger) *Store {
	return &Store{
		source:    source,
		logger:    logger,
		byIP:      make(map[string]*Entry),
		ips:       make(map[string]struct{}),
		conflicts: make(map[string]struct{}),
		invalid:   make(map[string]struct{}),
	}
}

// Reload fetches the databases from the source and rebuilds the index.
// Load failures leave the previous index in place.
func (s *Store) Reload() error {
	databases, err := s.source.Load()
	if err != nil {
		return err
	}
	s.rebuild(databases)
	return nil
}

func (s *Store) rebuild(databases []Database) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIP := make(map[string]*Entry)
	ips := make(map[string]struct{})
	unresolvedConflicts := make(map[string]struct{})
	unresolvedInvalid := make(map[string]struct{})

	for i := range databases {
		db := &databases[i]
		if !db.Settings.Enabled {
			continue
		}
		for _, user := range db.Users {
			for _, ip := range user.IPs {
				if _, err := netip.ParseAddr(ip); err != nil {
					unresolvedInvalid[ip] = struct{}{}
					if _, seen := s.invalid[ip]; !seen {
						s.invalid[ip] = struct{}{}
						s.logger.Warn("userip: invalid IP entry excluded",
							"database", db.Name, "username", user.Username, "ip", ip)
					}
					continue
				}

				entry, ok := byIP[ip]
				if !ok {
					byIP[ip] = &Entry{
						IP:           ip,
						DatabaseName: db.Name,
						Settings:     &db.Settings,
						Usernames:    []string{user.Username},
					}
					ips[ip] = struct{}{}
					continue
				}

				// The same IP under two database names: first-seen wins,
				// the conflicting username is not merged.
				if entry.DatabaseName != db.Name {
					unresolvedConflicts[ip] = struct{}{}
					if _, seen := s.conflicts[ip]; !seen {
						s.conflicts[ip] = struct{}{}
						s.logger.Warn("userip: IP assigned to multiple databases, keeping first association",
							"ip", ip,
							"database", entry.DatabaseName,
							"conflicting_database", db.Name,
							"conflicting_username", user.Username)
					}
					continue
				}

				if !containsString(entry.Usernames, user.Username) {
					entry.Usernames = append(entry.Usernames, user.Username)
				}
			}
		}
	}

	for ip := range s.conflicts {
		if _, still := unresolvedConflicts[ip]; !still {
			delete(s.conflicts, ip)
			s.logger.Info("userip: IP conflict resolved", "ip", ip)
		}
	}
	for ip := range s.invalid {
		if _, still := unresolvedInvalid[ip]; !still {
			delete(s.invalid, ip)
		}
	}

	s.byIP = byIP
	s.ips = ips
}

// Lookup returns the association for ip, if any.
func (s *Store) Lookup(ip string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byIP[ip]
	return entry, ok
}

// Contains reports whether ip belongs to any loaded database.
func (s *Store) Contains(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ips[ip]
	return ok
}

// Conflicts returns the IPs currently excluded because of cross-database
// conflicts, sorted for stable reporting.
func (s *Store) Conflicts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conflicts))
	for ip := range s.conflicts {
		out = append(out, ip)
	}
	sort.Strings(out)
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
