// Package geoip provides synchronous lookups against local MaxMind
// databases (country, city, ASN).
package geoip

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang/v2"
)

// Minimal record structs for fast MMDB decoding.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
		Names   struct {
			En string `maxminddb:"en"`
		} `maxminddb:"names"`
	} `maxminddb:"country"`
}

type cityRecord struct {
	City struct {
		Names struct {
			En string `maxminddb:"en"`
		} `maxminddb:"names"`
	} `maxminddb:"city"`
}

type asnRecord struct {
	Organization string `maxminddb:"autonomous_system_organization"`
}

// Record is one best-effort local lookup result. Empty fields mean the
// address was not found in the corresponding database.
type Record struct {
	Country     string
	CountryCode string
	City        string
	ASN         string
}

// Config points at the local database files. Empty paths disable the
// corresponding lookup.
type Config struct {
	CountryPath string
	CityPath    string
	ASNPath     string
}

// Resolver wraps the three MMDB readers with thread-safe reload support.
type Resolver struct {
	logger *slog.Logger

	mu      sync.RWMutex
	country *maxminddb.Reader
	city    *maxminddb.Reader
	asn     *maxminddb.Reader
}

// Open loads the configured databases. Databases that are not configured
// are skipped; a configured path that fails to open is an error.
func Open(cfg Config, logger *slog.Logger) (*Resolver, error) {
	r := &Resolver{logger: logger}

	open := func(name, path string) (*maxminddb.Reader, error) {
		if path == "" {
			return nil, nil
		}
		reader, err := maxminddb.Open(path)
		if err != nil {
			return nil, fmt.Errorf("geoip: opening %s database %q: %w", name, path, err)
		}
		logger.Info("geoip: database loaded", "name", name, "path", path, "type", reader.Metadata.DatabaseType)
		return reader, nil
	}

	var err error
	if r.country, err = open("country", cfg.CountryPath); err != nil {
		return nil, err
	}
	if r.city, err = open("city", cfg.CityPath); err != nil {
		r.Close()
		return nil, err
	}
	if r.asn, err = open("asn", cfg.ASNPath); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Enabled reports whether at least one database is loaded.
func (r *Resolver) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.country != nil || r.city != nil || r.asn != nil
}

// Lookup resolves addr against every loaded database. Absent databases
// and not-found addresses leave the corresponding fields empty.
func (r *Resolver) Lookup(addr netip.Addr) Record {
	if r == nil {
		return Record{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rec Record
	if r.country != nil {
		var c countryRecord
		if err := r.country.Lookup(addr).Decode(&c); err == nil {
			rec.Country = c.Country.Names.En
			rec.CountryCode = c.Country.ISOCode
		}
	}
	if r.city != nil {
		var c cityRecord
		if err := r.city.Lookup(addr).Decode(&c); err == nil {
			rec.City = c.City.Names.En
		}
	}
	if r.asn != nil {
		var a asnRecord
		if err := r.asn.Lookup(addr).Decode(&a); err == nil {
			rec.ASN = a.Organization
		}
	}
	return rec
}

// Close releases all database resources.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, reader := range []*maxminddb.Reader{r.country, r.city, r.asn} {
		if reader == nil {
			continue
		}
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.country, r.city, r.asn = nil, nil, nil
	return firstErr
}
