package heatmap

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/banshee-data/trackheat/internal/db"
)

// earthRadiusMeters is the IUGG mean Earth radius.
const earthRadiusMeters = 6371008.8

// Bounds is a latitude/longitude bounding box in degrees.
type Bounds struct {
	MinLatitude  float64 `json:"min_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// RegionBounds returns the box around all region centres. ok is false when
// regions is empty.
func RegionBounds(regions []Region) (b Bounds, ok bool) {
	if len(regions) == 0 {
		return Bounds{}, false
	}
	b = Bounds{
		MinLatitude: math.Inf(1), MinLongitude: math.Inf(1),
		MaxLatitude: math.Inf(-1), MaxLongitude: math.Inf(-1),
	}
	for _, r := range regions {
		b.MinLatitude = math.Min(b.MinLatitude, r.CenterLatitude)
		b.MaxLatitude = math.Max(b.MaxLatitude, r.CenterLatitude)
		b.MinLongitude = math.Min(b.MinLongitude, r.CenterLongitude)
		b.MaxLongitude = math.Max(b.MaxLongitude, r.CenterLongitude)
	}
	return b, true
}

// TrackLength sums the great-circle distance between consecutive points, in
// metres. Points are expected in recording order.
func TrackLength(points []db.TrackPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		a := s2.LatLngFromDegrees(points[i-1].Latitude, points[i-1].Longitude)
		b := s2.LatLngFromDegrees(points[i].Latitude, points[i].Longitude)
		total += a.Distance(b).Radians() * earthRadiusMeters
	}
	return total
}

// Summary describes one aggregation pass over a track.
type Summary struct {
	Points       int     `json:"points"`
	Regions      int     `json:"regions"`
	LengthMeters float64 `json:"length_meters"`
	Bounds       *Bounds `json:"bounds,omitempty"`
}

// Summarize builds the per-pass summary served next to the regions.
func Summarize(points []db.TrackPoint, regions []Region) Summary {
	s := Summary{
		Points:       len(points),
		Regions:      len(regions),
		LengthMeters: TrackLength(points),
	}
	if b, ok := RegionBounds(regions); ok {
		s.Bounds = &b
	}
	return s
}
