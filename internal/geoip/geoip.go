package geoip

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves client IPs to a country and region. It reads a MaxMind
// GeoIP2 database, or a JSON list of CIDR ranges for local runs and tests.
// A nil *GeoIP is valid and resolves nothing.
type GeoIP struct {
	db     *geoip2.Reader
	ranges []cidrRange
}

type cidrRange struct {
	net     *net.IPNet
	country string
	region  string
}

// Location is the geo data resolved for one IP. Empty fields are unknown.
type Location struct {
	Country string
	Region  string
}

// CIDREntry is one row of the JSON range format accepted by Open.
type CIDREntry struct {
	Net     string `json:"net"`
	Country string `json:"country"`
	Region  string `json:"region"`
}

// Open loads the database at path. MaxMind files are tried first, then the
// JSON range format.
func Open(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	var entries []CIDREntry
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	return FromEntries(entries), nil
}

// FromEntries builds an in-memory lookup from CIDR ranges. Malformed ranges
// are skipped.
func FromEntries(entries []CIDREntry) *GeoIP {
	g := &GeoIP{}
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e.Net); err == nil {
			g.ranges = append(g.ranges, cidrRange{net: n, country: e.Country, region: e.Region})
		}
	}
	return g
}

// Lookup parses ipString and resolves it. Unparseable addresses resolve to
// an empty Location.
func (g *GeoIP) Lookup(ipString string) Location {
	if g == nil {
		return Location{}
	}
	ip := net.ParseIP(ipString)
	if ip == nil {
		return Location{}
	}
	return Location{Country: g.Country(ip), Region: g.Region(ip)}
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(ip); err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.ranges {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Region returns the first subdivision code for ip, or "" when unknown.
func (g *GeoIP) Region(ip net.IP) string {
	if g == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.City(ip); err == nil && len(rec.Subdivisions) > 0 {
			return rec.Subdivisions[0].IsoCode
		}
	}
	for _, r := range g.ranges {
		if r.net.Contains(ip) {
			return r.region
		}
	}
	return ""
}

// Close releases the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
