// VisitorPulse - Real-time Visitor Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/visitorpulse

// Package enrich derives a models.VisitorContext from the tracking request:
// browser, OS and device class from the User-Agent, and an optional GeoIP
// lookup of the client address for the live map.
package enrich

import (
	"fmt"
	"net"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"

	"github.com/tomtom215/visitorpulse/internal/logging"
	"github.com/tomtom215/visitorpulse/internal/models"
)

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
)

// GeoLookup resolves an IP to a location. *geoip2.Reader satisfies it via
// geoReader.
type GeoLookup interface {
	Lookup(ip net.IP) (*Location, error)
	Close() error
}

// Location is the subset of a GeoIP record the pipeline uses.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
}

// Enricher is safe for concurrent use.
type Enricher struct {
	geo GeoLookup
}

// New creates an Enricher. An empty geoIPPath disables GeoIP; a path that
// cannot be opened is an error so a misconfigured deployment fails fast.
func New(geoIPPath string) (*Enricher, error) {
	if geoIPPath == "" {
		return &Enricher{}, nil
	}
	reader, err := geoip2.Open(geoIPPath)
	if err != nil {
		return nil, fmt.Errorf("open GeoIP database: %w", err)
	}
	logging.Info().Str("path", geoIPPath).Msg("GeoIP database loaded")
	return &Enricher{geo: &geoReader{reader: reader}}, nil
}

// NewWithLookup is used by tests to plug in a fake GeoLookup.
func NewWithLookup(geo GeoLookup) *Enricher {
	return &Enricher{geo: geo}
}

// Visitor builds the visitor context for a request.
func (e *Enricher) Visitor(userAgent, clientIP string) models.VisitorContext {
	var v models.VisitorContext

	if userAgent != "" {
		ua := useragent.New(userAgent)
		v.Browser, v.BrowserVersion = ua.Browser()
		v.OS = ua.OS()
		v.DeviceType = deviceType(ua)
	}

	if e.geo != nil && clientIP != "" {
		if ip := net.ParseIP(clientIP); ip != nil {
			loc, err := e.geo.Lookup(ip)
			if err != nil {
				logging.Debug().Err(err).Str("ip", clientIP).Msg("GeoIP lookup failed")
			} else if loc != nil {
				v.Country = loc.Country
				v.City = loc.City
				v.Latitude = loc.Latitude
				v.Longitude = loc.Longitude
			}
		}
	}
	return v
}

// Close releases the GeoIP database.
func (e *Enricher) Close() error {
	if e.geo == nil {
		return nil
	}
	return e.geo.Close()
}

func deviceType(ua *useragent.UserAgent) string {
	if ua.Bot() {
		return DeviceBot
	}
	if ua.Mobile() {
		return DeviceMobile
	}
	return DeviceDesktop
}

type geoReader struct {
	reader *geoip2.Reader
}

func (g *geoReader) Lookup(ip net.IP) (*Location, error) {
	record, err := g.reader.City(ip)
	if err != nil {
		return nil, err
	}
	return &Location{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

func (g *geoReader) Close() error {
	return g.reader.Close()
}
