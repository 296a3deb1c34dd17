// Package geoip resolves network addresses to coordinates with a MaxMind City database
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Locator looks up the coordinates of an address
type Locator struct {
	reader cityReader
}

// Open loads the City database at path
func Open(path string) (*Locator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open geoip city database: %w", err)
	}
	return &Locator{reader: reader}, nil
}

// Locate returns the coordinates recorded for address. ok is false for
// unparseable, private or unknown addresses.
func (l *Locator) Locate(address string) (latitude, longitude float64, ok bool) {
	ip := net.ParseIP(address)
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() {
		return 0, 0, false
	}

	record, err := l.reader.City(ip)
	if err != nil || record == nil {
		return 0, 0, false
	}

	// MaxMind reports 0,0 when it has no location
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return 0, 0, false
	}

	return record.Location.Latitude, record.Location.Longitude, true
}

// Close releases the database
func (l *Locator) Close() error {
	return l.reader.Close()
}
