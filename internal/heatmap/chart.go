package heatmap

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// boundsPadDegrees keeps edge regions off the chart border.
const boundsPadDegrees = 0.002

// RenderChart writes a standalone HTML scatter chart of regions: longitude
// on x, latitude on y, symbol size from the radius and colour from the
// intensity through the same stops Evaluate uses.
func RenderChart(w io.Writer, regions []Region, title string) error {
	data := make([]opts.ScatterData, 0, len(regions))
	for _, r := range regions {
		data = append(data, opts.ScatterData{
			Value:      []interface{}{r.CenterLongitude, r.CenterLatitude, r.Intensity, r.Count},
			SymbolSize: symbolSize(r.RadiusMeters),
		})
	}

	subtitle := fmt.Sprintf("regions=%d", len(regions))
	xAxis := opts.XAxis{Name: "Longitude", NameLocation: "middle", NameGap: 25}
	yAxis := opts.YAxis{Name: "Latitude", NameLocation: "middle", NameGap: 40}
	if b, ok := RegionBounds(regions); ok {
		xAxis.Min, xAxis.Max = b.MinLongitude-boundsPadDegrees, b.MaxLongitude+boundsPadDegrees
		yAxis.Min, yAxis.Max = b.MinLatitude-boundsPadDegrees, b.MaxLatitude+boundsPadDegrees
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(xAxis),
		charts.WithYAxisOpts(yAxis),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: StopColors()},
		}),
	)
	scatter.AddSeries("heat", data)

	return scatter.Render(w)
}

// symbolSize maps a region radius (127-280 m) onto a 12-28 px marker.
func symbolSize(radiusMeters float64) int {
	return int(radiusMeters / 10)
}
