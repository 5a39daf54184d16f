package rimage

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

type colormapStop struct {
	pos float64
	col colorful.Color
}

// jetStops are the control points of the JET colormap.
var jetStops = []colormapStop{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.11, colorful.Color{R: 0, G: 0, B: 1}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.34, colorful.Color{R: 0, G: 0.86, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.64, colorful.Color{R: 1, G: 1, B: 0}},
	{0.66, colorful.Color{R: 1, G: 0.95, B: 0}},
	{0.89, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

var jetLUT = buildColormapLUT(jetStops)

func buildColormapLUT(stops []colormapStop) [256]color.RGBA {
	var lut [256]color.RGBA
	for v := 0; v < 256; v++ {
		t := float64(v) / 255
		c := stops[len(stops)-1].col
		for i := 0; i < len(stops)-1; i++ {
			if t >= stops[i].pos && t <= stops[i+1].pos {
				local := (t - stops[i].pos) / (stops[i+1].pos - stops[i].pos)
				c = stops[i].col.BlendRgb(stops[i+1].col, local)
				break
			}
		}
		r, g, b := c.Clamped().RGB255()
		lut[v] = color.RGBA{r, g, b, 255}
	}
	return lut
}

// JetColor maps an 8-bit intensity to the JET colormap: dark blue for 0 through cyan, yellow and
// red to dark red for 255.
func JetColor(v uint8) color.RGBA {
	return jetLUT[v]
}
