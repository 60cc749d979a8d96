package heatmap

import (
	"fmt"
	"image/color"
	"math"
)

// Color is an RGBA colour with each channel in [0, 1].
type Color struct {
	R, G, B, A float64
}

// Hex formats c as #RRGGBBAA.
func (c Color) Hex() string {
	n := c.NRGBA()
	return fmt.Sprintf("#%02X%02X%02X%02X", n.R, n.G, n.B, n.A)
}

// HexRGB formats c as #RRGGBB, dropping alpha.
func (c Color) HexRGB() string {
	n := c.NRGBA()
	return fmt.Sprintf("#%02X%02X%02X", n.R, n.G, n.B)
}

// NRGBA converts c to an 8-bit non-premultiplied colour.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: channel8(c.R), G: channel8(c.G), B: channel8(c.B), A: channel8(c.A)}
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func channel8(v float64) uint8 {
	return uint8(math.Round(clamp(v, 0, 1) * 255))
}

func rgb(r, g, b uint8) Color {
	return Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255, A: 1}
}

type colorStop struct {
	offset float64
	color  Color
}

// stops run light aqua -> mid blue -> deep blue.
var stops = []colorStop{
	{0.0, rgb(0xA7, 0xF0, 0xFF)},
	{0.5, rgb(0x4B, 0xB5, 0xFF)},
	{1.0, rgb(0x23, 0x46, 0xC5)},
}

// StopColors returns the scale's stop colours as #RRGGBB, lowest first.
func StopColors() []string {
	out := make([]string, len(stops))
	for i, s := range stops {
		out[i] = s.color.HexRGB()
	}
	return out
}

// Evaluate maps an intensity to a colour by linear interpolation between the
// neighbouring stops. Input is clamped to [0, 1]; NaN maps to the first stop.
func Evaluate(intensity float64) Color {
	if math.IsNaN(intensity) {
		intensity = 0
	}
	v := clamp(intensity, 0, 1)

	for i := 0; i < len(stops)-1; i++ {
		cur, next := stops[i], stops[i+1]
		if v <= next.offset {
			span := next.offset - cur.offset
			t := 0.0
			if span > 0 {
				t = (v - cur.offset) / span
			}
			return lerp(cur.color, next.color, t)
		}
	}
	return stops[len(stops)-1].color
}

func lerp(a, b Color, t float64) Color {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return Color{
		R: a.R + (b.R-a.R)*t,
		G: a.G + (b.G-a.G)*t,
		B: a.B + (b.B-a.B)*t,
		A: a.A + (b.A-a.A)*t,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
