package analytics

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// CountryResolver maps a client IP to an ISO 3166 country code, or "" when unknown
type CountryResolver interface {
	Country(ip string) string
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// GeoIP resolves countries from a MaxMind GeoLite2/GeoIP2 country database.
// The database can be swapped at runtime with Reload.
type GeoIP struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
	path   string
}

// OpenGeoIP opens the database at path
func OpenGeoIP(path string) (*GeoIP, error) {
	g := &GeoIP{path: path}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload reopens the database file and swaps it in
func (g *GeoIP) Reload() error {
	reader, err := maxminddb.Open(g.path)
	if err != nil {
		return fmt.Errorf("open geoip database %s: %w", g.path, err)
	}
	g.mu.Lock()
	old := g.reader
	g.reader = reader
	g.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Country implements CountryResolver
func (g *GeoIP) Country(ip string) string {
	if g == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return ""
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.reader == nil {
		return ""
	}
	var rec countryRecord
	if err := g.reader.Lookup(parsed, &rec); err != nil {
		return ""
	}
	if rec.Country.ISOCode != "" {
		return rec.Country.ISOCode
	}
	return rec.RegisteredCountry.ISOCode
}

// Close releases the database
func (g *GeoIP) Close() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}
