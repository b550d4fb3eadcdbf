package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	dayLayout       = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Reading is one decoded data point, shaped the way downstream tables expect.
type Reading struct {
	Day       string      `json:"day"`
	Timestamp string      `json:"timestamp"`
	Data      ReadingData `json:"data"`
}

type ReadingData struct {
	MAC         uint64  `json:"mac"`
	HomeID      string  `json:"home_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	// Location is a GeoJSON Point geometry, serialized.
	Location string `json:"location"`
}

// NewReading stamps a reading with t in UTC and rounds values to 3 decimals.
func NewReading(t time.Time, mac uint64, homeID string, temperature, humidity float64, loc Location) (Reading, error) {
	point, err := PointGeoJSON(loc)
	if err != nil {
		return Reading{}, err
	}
	t = t.UTC()
	return Reading{
		Day:       t.Format(dayLayout),
		Timestamp: t.Format(timestampLayout),
		Data: ReadingData{
			MAC:         mac,
			HomeID:      homeID,
			Temperature: round3(temperature),
			Humidity:    round3(humidity),
			Location:    point,
		},
	}, nil
}

// PointGeoJSON encodes loc as a GeoJSON Point, longitude first.
func PointGeoJSON(loc Location) (string, error) {
	g := geojson.NewGeometry(orb.Point{loc.Longitude, loc.Latitude})
	b, err := g.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode location: %w", err)
	}
	return string(b), nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
