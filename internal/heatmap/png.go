package heatmap

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// RenderPNG draws regions as filled circles on a longitude/latitude plot and
// encodes the result as PNG. width and height are in pixels at 96 dpi.
func RenderPNG(w io.Writer, regions []Region, title string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", width, height)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	if b, ok := RegionBounds(regions); ok {
		p.X.Min, p.X.Max = b.MinLongitude-boundsPadDegrees, b.MaxLongitude+boundsPadDegrees
		p.Y.Min, p.Y.Max = b.MinLatitude-boundsPadDegrees, b.MaxLatitude+boundsPadDegrees

		pts := make(plotter.XYs, len(regions))
		for i, r := range regions {
			pts[i] = plotter.XY{X: r.CenterLongitude, Y: r.CenterLatitude}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to build scatter: %w", err)
		}
		scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{
				Color:  regions[i].Color.NRGBA(),
				Radius: vg.Points(float64(symbolSize(regions[i].RadiusMeters)) / 2),
				Shape:  draw.CircleGlyph{},
			}
		}
		p.Add(scatter)
	}

	// vg lengths are points; 96 px = 72 pt.
	wt, err := p.WriterTo(vg.Length(width)*0.75, vg.Length(height)*0.75, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
