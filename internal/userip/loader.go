package userip

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// databaseFile is the on-disk YAML shape of a single trust-list database.
type databaseFile struct {
	Settings Settings `yaml:"settings"`
	Users    []User   `yaml:"users"`
}

// FileSource loads one database per *.yaml file in a directory. The file
// name (without extension) is the database name. Corrupted files are
// skipped and reported once until they change back to a loadable state.
type FileSource struct {
	dir    string
	logger *slog.Logger

	corrupted map[string]struct{}
}

func NewFileSource(dir string, logger *slog.Logger) *FileSource {
	return &FileSource{
		dir:       dir,
		logger:    logger,
		corrupted: make(map[string]struct{}),
	}
}

// Load parses every database file in the directory. A missing directory
// yields an empty set rather than an error, so the watch list can be
// created while the sniffer is running.
func (s *FileSource) Load() ([]Database, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("userip: reading databases directory %q: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			names = append(names, name)
		}
	}
	// Directory order decides which database wins an IP conflict, so the
	// order has to be stable across reloads.
	sort.Strings(names)

	var databases []Database
	stillCorrupted := make(map[string]struct{})
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		db, err := s.loadFile(path)
		if err != nil {
			stillCorrupted[path] = struct{}{}
			if _, seen := s.corrupted[path]; !seen {
				s.corrupted[path] = struct{}{}
				s.logger.Warn("userip: skipping corrupted database file", "path", path, "err", err)
			}
			continue
		}
		databases = append(databases, db)
	}

	for path := range s.corrupted {
		if _, still := stillCorrupted[path]; !still {
			delete(s.corrupted, path)
			s.logger.Info("userip: database file loadable again", "path", path)
		}
	}

	return databases, nil
}

func (s *FileSource) loadFile(path string) (Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Database{}, err
	}

	var file databaseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Database{}, err
	}

	name := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	return Database{
		Name:     name,
		Settings: file.Settings,
		Users:    file.Users,
	}, nil
}
