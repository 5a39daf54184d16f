// Package pointcloud defines a dense, image-organized point field produced by disparity
// reprojection, along with writers for common point cloud file formats.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point field.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns an empty MetaData whose bounds will be widened by Merge.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds to include p.
func (meta *MetaData) Merge(p r3.Vector) {
	meta.MinX = math.Min(meta.MinX, p.X)
	meta.MaxX = math.Max(meta.MaxX, p.X)
	meta.MinY = math.Min(meta.MinY, p.Y)
	meta.MaxY = math.Max(meta.MaxY, p.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Z)
	meta.MaxZ = math.Max(meta.MaxZ, p.Z)
}

// PointField holds one optional 3-D point per image pixel, row-major. Pixels without a valid
// disparity have no point.
type PointField struct {
	width, height int

	points []r3.Vector
	valid  []bool
	colors []color.NRGBA
}

// NewPointField returns an empty field for an image of the given size.
func NewPointField(width, height int) *PointField {
	return &PointField{
		width:  width,
		height: height,
		points: make([]r3.Vector, width*height),
		valid:  make([]bool, width*height),
	}
}

// NewColoredPointField returns an empty field that also carries a color per pixel.
func NewColoredPointField(width, height int) *PointField {
	pf := NewPointField(width, height)
	pf.colors = make([]color.NRGBA, width*height)
	return pf
}

// Width returns the width of the originating image.
func (pf *PointField) Width() int {
	return pf.width
}

// Height returns the height of the originating image.
func (pf *PointField) Height() int {
	return pf.height
}

// Set stores the point for pixel (x, y). Non-finite points are ignored.
func (pf *PointField) Set(x, y int, p r3.Vector) {
	if !isFinite(p) {
		return
	}
	i := y*pf.width + x
	pf.points[i] = p
	pf.valid[i] = true
}

// SetColor attaches a color to pixel (x, y). The first call on an uncolored field allocates the
// color plane, so concurrent writers should start from NewColoredPointField.
func (pf *PointField) SetColor(x, y int, c color.NRGBA) {
	if pf.colors == nil {
		pf.colors = make([]color.NRGBA, pf.width*pf.height)
	}
	pf.colors[y*pf.width+x] = c
}

// At returns the point at pixel (x, y) and whether it exists.
func (pf *PointField) At(x, y int) (r3.Vector, bool) {
	i := y*pf.width + x
	return pf.points[i], pf.valid[i]
}

// Size returns the number of valid points.
func (pf *PointField) Size() int {
	n := 0
	for _, v := range pf.valid {
		if v {
			n++
		}
	}
	return n
}

// MetaData returns the bounds of the valid points.
func (pf *PointField) MetaData() MetaData {
	meta := NewMetaData()
	meta.HasColor = pf.colors != nil
	pf.Iterate(func(_, _ int, p r3.Vector, _ color.NRGBA) bool {
		meta.Merge(p)
		return true
	})
	return meta
}

// Iterate calls fn for every valid point in row-major order until fn returns false. The color is
// the zero value when the field has no colors.
func (pf *PointField) Iterate(fn func(x, y int, p r3.Vector, c color.NRGBA) bool) {
	for i, ok := range pf.valid {
		if !ok {
			continue
		}
		var c color.NRGBA
		if pf.colors != nil {
			c = pf.colors[i]
		}
		if !fn(i%pf.width, i/pf.width, pf.points[i], c) {
			return
		}
	}
}

func isFinite(p r3.Vector) bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
