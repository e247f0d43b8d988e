// Package dispatch parses CAD dispatch text into a structured Event.
package dispatch

import (
	"math"
	"strconv"
	"strings"

	"github.com/linnemanlabs/prealert/internal/faults"
)

const (
	segmentSep  = "|"
	locationSep = ":"
	coordSep    = ","
)

// Event is a parsed dispatch message.
type Event struct {
	Nature    string  `json:"nature"`
	Address   string  `json:"address"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Parse reads a dispatch payload of the form
//
//	<nature> | <address>:<city> | <latitude>,<longitude>
//
// Every segment between the first and the last is part of the location, so a
// stray "|" inside an address clarifier does not shift the coordinates. The
// location is split at its last ":" which keeps any ":" in the address.
// On failure Parse returns a *faults.ValidationError and no Event.
func Parse(text string) (*Event, error) {
	segments := strings.Split(text, segmentSep)
	if len(segments) < 3 {
		return nil, faults.Validation("text", "expected at least 3 %q separated segments, got %d", segmentSep, len(segments))
	}

	nature := strings.TrimSpace(segments[0])
	location := strings.Join(segments[1:len(segments)-1], segmentSep)
	coords := segments[len(segments)-1]

	i := strings.LastIndex(location, locationSep)
	if i < 0 {
		return nil, faults.Validation("location", "missing %q between address and city", locationSep)
	}
	address := strings.TrimSpace(location[:i])
	city := strings.TrimSpace(location[i+1:])

	lat, lon, err := parseCoords(coords)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		Nature:    nature,
		Address:   address,
		City:      city,
		Latitude:  lat,
		Longitude: lon,
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate checks that textual fields are present and coordinates are in range.
func (e *Event) Validate() error {
	switch {
	case e.Nature == "":
		return faults.Validation("nature", "empty")
	case e.Address == "":
		return faults.Validation("address", "empty")
	case e.City == "":
		return faults.Validation("city", "empty")
	case e.Latitude < -90 || e.Latitude > 90:
		return faults.Validation("latitude", "%v out of range", e.Latitude)
	case e.Longitude < -180 || e.Longitude > 180:
		return faults.Validation("longitude", "%v out of range", e.Longitude)
	}
	return nil
}

func parseCoords(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, coordSep)
	if len(parts) != 2 {
		return 0, 0, faults.Validation("coordinates", "expected <latitude>%s<longitude>, got %q", coordSep, strings.TrimSpace(s))
	}
	if lat, err = parseFloat("latitude", parts[0]); err != nil {
		return 0, 0, err
	}
	if lon, err = parseFloat("longitude", parts[1]); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func parseFloat(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, faults.Validation(field, "not a number: %q", s)
	}
	return v, nil
}
