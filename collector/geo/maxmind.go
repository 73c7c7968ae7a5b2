package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider answers from a local GeoIP2/GeoLite2 Country database.
type MaxMindProvider struct {
	db *geoip2.Reader
}

// OpenMaxMind opens the .mmdb file at path.
func OpenMaxMind(path string) (*MaxMindProvider, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MaxMindProvider{db: db}, nil
}

func (p *MaxMindProvider) Name() string {
	return "maxmind"
}

func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("maxmind: invalid ip %q", ip)
	}
	record, err := p.db.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("maxmind: %w", err)
	}
	if record.Country.IsoCode == "" {
		return "", fmt.Errorf("maxmind: %w", ErrNoRegion)
	}
	return record.Country.IsoCode, nil
}

func (p *MaxMindProvider) Close() error {
	return p.db.Close()
}
