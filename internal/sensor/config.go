package sensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Config identifies one sensor. It is immutable once loaded.
type Config struct {
	Name    string
	Type    string
	Address string
	// TxChar is the characteristic commands are written to.
	TxChar string
	// RxChar is the characteristic responses are read from.
	RxChar   string
	Table    string
	Location Location
}

// ParseLocation parses a "latitude,longitude" pair.
func ParseLocation(s string) (Location, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return Location{}, fmt.Errorf("location %q: want \"latitude,longitude\"", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return Location{}, fmt.Errorf("location %q: latitude: %w", s, err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return Location{}, fmt.Errorf("location %q: longitude: %w", s, err)
	}
	if la < -90 || la > 90 {
		return Location{}, fmt.Errorf("location %q: latitude out of range", s)
	}
	if lo < -180 || lo > 180 {
		return Location{}, fmt.Errorf("location %q: longitude out of range", s)
	}
	return Location{Latitude: la, Longitude: lo}, nil
}
