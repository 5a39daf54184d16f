package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/stereo/utils"
)

// DisparityScale is the fixed-point scale of raw matcher output: raw values are 1/16th pixel.
const DisparityScale = 16

// InvalidDisparity marks a pixel without a trustworthy match.
var InvalidDisparity = float32(math.NaN())

// DisparityMap holds per-pixel horizontal disparity in pixels, row-major. Invalid pixels hold
// InvalidDisparity.
type DisparityMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDisparityMap returns a map of the given size with every pixel invalid.
func NewEmptyDisparityMap(width, height int) *DisparityMap {
	dm := &DisparityMap{width: width, height: height, data: make([]float32, width*height)}
	for i := range dm.data {
		dm.data[i] = InvalidDisparity
	}
	return dm
}

// NewDisparityMapFromFixedPoint converts raw matcher output (disparity * 16, row-major) into pixel
// units. Non-positive values and values outside the search range, which includes the matcher's
// own "filtered" marker of (minDisparity-1)*16, are marked invalid rather than clipped.
func NewDisparityMapFromFixedPoint(raw []int16, width, height, minDisparity, numDisparities int) (*DisparityMap, error) {
	if len(raw) != width*height {
		return nil, errors.Errorf("raw disparity has %d values, expected %dx%d", len(raw), width, height)
	}
	minRaw := minDisparity * DisparityScale
	maxRaw := (minDisparity + numDisparities) * DisparityScale
	dm := &DisparityMap{width: width, height: height, data: make([]float32, len(raw))}
	for i, v := range raw {
		if v <= 0 || int(v) < minRaw || int(v) >= maxRaw || v == math.MaxInt16 {
			dm.data[i] = InvalidDisparity
			continue
		}
		dm.data[i] = float32(v) / DisparityScale
	}
	return dm, nil
}

// IsValidDisparity reports whether d is a usable disparity value.
func IsValidDisparity(d float32) bool {
	return !math.IsNaN(float64(d)) && d > 0
}

// Width returns the width of the map.
func (dm *DisparityMap) Width() int {
	return dm.width
}

// Height returns the height of the map.
func (dm *DisparityMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle covered by the map.
func (dm *DisparityMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// GetDisparity returns the disparity at (x, y).
func (dm *DisparityMap) GetDisparity(x, y int) float32 {
	return dm.data[y*dm.width+x]
}

// Set stores the disparity at (x, y).
func (dm *DisparityMap) Set(x, y int, val float32) {
	dm.data[y*dm.width+x] = val
}

// Valid reports whether the pixel at (x, y) holds a usable disparity.
func (dm *DisparityMap) Valid(x, y int) bool {
	return IsValidDisparity(dm.data[y*dm.width+x])
}

// ValidCount returns the number of valid pixels.
func (dm *DisparityMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if IsValidDisparity(d) {
			n++
		}
	}
	return n
}

// MinMax returns the range of valid disparities. ok is false when no pixel is valid.
func (dm *DisparityMap) MinMax() (lo, hi float32, ok bool) {
	for _, d := range dm.data {
		if !IsValidDisparity(d) {
			continue
		}
		if !ok {
			lo, hi, ok = d, d, true
			continue
		}
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	return lo, hi, ok
}

// Scale returns a copy with every valid disparity multiplied by factor. Invalid pixels stay invalid.
func (dm *DisparityMap) Scale(factor float32) *DisparityMap {
	out := &DisparityMap{width: dm.width, height: dm.height, data: make([]float32, len(dm.data))}
	for i, d := range dm.data {
		if IsValidDisparity(d) {
			out.data[i] = d * factor
		} else {
			out.data[i] = InvalidDisparity
		}
	}
	return out
}

// Resize resamples the spatial grid to width x height. Values are bilinearly interpolated where
// all four neighbours are valid and taken from the nearest neighbour otherwise, so invalid regions
// never bleed into valid ones. Disparity magnitudes are not changed.
func (dm *DisparityMap) Resize(width, height int) *DisparityMap {
	out := &DisparityMap{width: width, height: height, data: make([]float32, width*height)}
	if dm.width == 0 || dm.height == 0 {
		for i := range out.data {
			out.data[i] = InvalidDisparity
		}
		return out
	}
	sx := float64(dm.width) / float64(width)
	sy := float64(dm.height) / float64(height)
	for y := 0; y < height; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := utils.ClampInt(int(math.Floor(fy)), 0, dm.height-1)
		y1 := utils.ClampInt(y0+1, 0, dm.height-1)
		wy := float32(utils.ClampFloat(fy-float64(y0), 0, 1))
		for x := 0; x < width; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := utils.ClampInt(int(math.Floor(fx)), 0, dm.width-1)
			x1 := utils.ClampInt(x0+1, 0, dm.width-1)
			wx := float32(utils.ClampFloat(fx-float64(x0), 0, 1))

			d00, d10 := dm.GetDisparity(x0, y0), dm.GetDisparity(x1, y0)
			d01, d11 := dm.GetDisparity(x0, y1), dm.GetDisparity(x1, y1)
			if IsValidDisparity(d00) && IsValidDisparity(d10) && IsValidDisparity(d01) && IsValidDisparity(d11) {
				top := d00*(1-wx) + d10*wx
				bottom := d01*(1-wx) + d11*wx
				out.data[y*width+x] = top*(1-wy) + bottom*wy
				continue
			}
			nx := utils.ClampInt(int(fx+0.5), 0, dm.width-1)
			ny := utils.ClampInt(int(fy+0.5), 0, dm.height-1)
			out.data[y*width+x] = dm.GetDisparity(nx, ny)
		}
	}
	return out
}

// ToGray renders the map for display: the valid range is linearly stretched to 0-255 and invalid
// pixels are black. When every valid pixel has the same disparity they render white.
func (dm *DisparityMap) ToGray() *image.Gray {
	out := image.NewGray(dm.Bounds())
	lo, hi, ok := dm.MinMax()
	if !ok {
		return out
	}
	span := hi - lo
	for i, d := range dm.data {
		if !IsValidDisparity(d) {
			continue
		}
		if span == 0 {
			out.Pix[i] = 255
			continue
		}
		out.Pix[i] = utils.ClampUint8(float64((d - lo) * 255 / span))
	}
	return out
}

// ToColor renders the map with the JET colormap. Invalid pixels are black.
func (dm *DisparityMap) ToColor() *image.RGBA {
	gray := dm.ToGray()
	out := image.NewRGBA(dm.Bounds())
	for i, d := range dm.data {
		if !IsValidDisparity(d) {
			out.Pix[i*4+3] = 255
			continue
		}
		c := JetColor(gray.Pix[i])
		out.Pix[i*4] = c.R
		out.Pix[i*4+1] = c.G
		out.Pix[i*4+2] = c.B
		out.Pix[i*4+3] = 255
	}
	return out
}

// Histogram counts valid disparities into `bins` equal-width bins over [0, maxDisparity).
// Values at or above maxDisparity land in the last bin.
func (dm *DisparityMap) Histogram(bins int, maxDisparity float32) []int {
	counts := make([]int, bins)
	if bins == 0 || maxDisparity <= 0 {
		return counts
	}
	for _, d := range dm.data {
		if !IsValidDisparity(d) {
			continue
		}
		b := int(d / maxDisparity * float32(bins))
		counts[utils.ClampInt(b, 0, bins-1)]++
	}
	return counts
}

// Peak returns the centre of the most populated unit-width disparity bin.
func (dm *DisparityMap) Peak(maxDisparity int) (float32, bool) {
	counts := dm.Histogram(maxDisparity, float32(maxDisparity))
	best, bestCount := 0, 0
	for i, c := range counts {
		if c > bestCount {
			best, bestCount = i, c
		}
	}
	if bestCount == 0 {
		return 0, false
	}
	return float32(best) + 0.5, true
}
