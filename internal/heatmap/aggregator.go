// Package heatmap turns a recorded track into density regions for display:
// points are bucketed into ~111 m cells, each cell's share of the densest
// cell becomes its intensity, and intensity drives radius and colour.
package heatmap

import (
	"iter"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackheat/internal/db"
)

const (
	// cellScale rounds coordinates to 3 decimal places.
	cellScale = 1000

	// MinIntensity keeps sparsely visited cells visible.
	MinIntensity = 0.15
	MaxIntensity = 1.0

	baseRadiusMeters   = 100.0
	radiusPerIntensity = 180.0
)

// Region is one aggregated cell. Regions are derived on every pass and never
// stored.
type Region struct {
	CenterLatitude  float64 `json:"center_latitude"`
	CenterLongitude float64 `json:"center_longitude"`
	RadiusMeters    float64 `json:"radius_meters"`
	Color           Color   `json:"color"`
	Intensity       float64 `json:"intensity"`
	Count           int     `json:"count"`
}

type cellKey struct {
	lat, lon int64
}

// keyFor rounds half to even, matching the rounding the recorded data has
// always been bucketed with.
func keyFor(p db.TrackPoint) cellKey {
	return cellKey{
		lat: int64(math.RoundToEven(p.Latitude * cellScale)),
		lon: int64(math.RoundToEven(p.Longitude * cellScale)),
	}
}

type cell struct {
	lats []float64
	lons []float64
}

// Build groups points into cells and yields one Region per non-empty cell.
// Work happens when the sequence is ranged over; ranging again recomputes
// from points. Regions come out in order of each cell's first point.
func Build(points []db.TrackPoint) iter.Seq[Region] {
	return func(yield func(Region) bool) {
		if len(points) == 0 {
			return
		}

		cells := make(map[cellKey]*cell)
		var order []cellKey
		maxCount := 0
		for _, p := range points {
			k := keyFor(p)
			c, ok := cells[k]
			if !ok {
				c = &cell{}
				cells[k] = c
				order = append(order, k)
			}
			c.lats = append(c.lats, p.Latitude)
			c.lons = append(c.lons, p.Longitude)
			if n := len(c.lats); n > maxCount {
				maxCount = n
			}
		}

		for _, k := range order {
			c := cells[k]
			intensity := clamp(float64(len(c.lats))/float64(maxCount), MinIntensity, MaxIntensity)
			r := Region{
				CenterLatitude:  stat.Mean(c.lats, nil),
				CenterLongitude: stat.Mean(c.lons, nil),
				RadiusMeters:    RadiusFor(intensity),
				Color:           Evaluate(intensity),
				Intensity:       intensity,
				Count:           len(c.lats),
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Collect drains Build into a slice. The result is never nil.
func Collect(points []db.TrackPoint) []Region {
	regions := []Region{}
	for r := range Build(points) {
		regions = append(regions, r)
	}
	return regions
}

// RadiusFor returns the display radius in metres for an intensity.
func RadiusFor(intensity float64) float64 {
	return baseRadiusMeters + radiusPerIntensity*intensity
}
