package lpgeo

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/oschwald/geoip2-golang/v2"
)

// MaxMind lit une base GeoLite2/GeoIP2 City locale
type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ouverture base maxmind %s: %w", path, err)
	}
	return &MaxMind{reader: reader}, nil
}

func (m *MaxMind) Name() string { return "maxmind" }

func (m *MaxMind) Lookup(_ context.Context, ip netip.Addr) (Location, error) {
	record, err := m.reader.City(ip)
	if err != nil {
		return Location{}, err
	}
	if !record.HasData() {
		return Location{}, ErrNoData
	}

	loc := Location{
		City:    record.City.Names.English,
		Country: record.Country.Names.English,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names.English
	}
	return loc, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}
