package stereo

import (
	"image"

	"go.viam.com/stereo/utils"
)

// xSobelPrefilter returns the horizontal Sobel response of img clipped to [-cap, cap] and shifted
// into [0, 2*cap], row-major without padding.
func xSobelPrefilter(img *image.Gray, preFilterCap int) []uint8 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	out := make([]uint8, width*height)
	at := func(x, y int) int {
		x = utils.ClampInt(x, 0, width-1)
		y = utils.ClampInt(y, 0, height-1)
		return int(img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)])
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			out[y*width+x] = uint8(utils.ClampInt(d, -preFilterCap, preFilterCap) + preFilterCap)
		}
	}
	return out
}

// grayPlane copies img into a packed row-major slice.
func grayPlane(img *image.Gray) []uint8 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	out := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*width:(y+1)*width], img.Pix[start:start+width])
	}
	return out
}

// costChannel is one pair of planes contributing |left(x) - right(x-d)| >> shift to the pixel
// matching cost.
type costChannel struct {
	left, right []uint8
	shift       uint
}

// blockCost produces, one row at a time, the sum of pixel matching costs over a square window for
// every candidate disparity. Windows are clamped at the image border. It walks rows downwards by
// keeping per-column sums of the window and updating them incrementally.
type blockCost struct {
	channels       []costChannel
	width, height  int
	minDisparity   int
	numDisparities int
	half           int

	// colSums[di*width+x] is the window column sum at disparity minDisparity+di.
	colSums []int32
	row     int
}

func newBlockCost(channels []costChannel, width, height, minDisparity, numDisparities, blockSize int) *blockCost {
	return &blockCost{
		channels:       channels,
		width:          width,
		height:         height,
		minDisparity:   minDisparity,
		numDisparities: numDisparities,
		half:           blockSize / 2,
		colSums:        make([]int32, width*numDisparities),
		row:            -1,
	}
}

func (bc *blockCost) clampRow(y int) int {
	return utils.ClampInt(y, 0, bc.height-1)
}

// addRow adds sign times the pixel costs of image row y to every column sum.
func (bc *blockCost) addRow(y int, sign int32) {
	width := bc.width
	offset := y * width
	for di := 0; di < bc.numDisparities; di++ {
		d := bc.minDisparity + di
		col := bc.colSums[di*width : (di+1)*width]
		for x := 0; x < width; x++ {
			xr := x - d
			if xr < 0 {
				xr = 0
			}
			var c int32
			for _, ch := range bc.channels {
				diff := int32(ch.left[offset+x]) - int32(ch.right[offset+xr])
				if diff < 0 {
					diff = -diff
				}
				c += diff >> ch.shift
			}
			col[x] += sign * c
		}
	}
}

// seek positions the window on row y, recomputing the column sums from scratch.
func (bc *blockCost) seek(y int) {
	for i := range bc.colSums {
		bc.colSums[i] = 0
	}
	for j := -bc.half; j <= bc.half; j++ {
		bc.addRow(bc.clampRow(y+j), 1)
	}
	bc.row = y
}

// next moves the window one row down.
func (bc *blockCost) next() {
	bc.addRow(bc.clampRow(bc.row+bc.half+1), 1)
	bc.addRow(bc.clampRow(bc.row-bc.half), -1)
	bc.row++
}

// costs writes the window costs of the current row into dst, laid out as
// dst[x*numDisparities+di].
func (bc *blockCost) costs(dst []int32) {
	width, nd, half := bc.width, bc.numDisparities, bc.half
	for di := 0; di < nd; di++ {
		col := bc.colSums[di*width : (di+1)*width]
		var s int32
		for i := -half; i <= half; i++ {
			s += col[utils.ClampInt(i, 0, width-1)]
		}
		for x := 0; x < width; x++ {
			dst[x*nd+di] = s
			s += col[utils.ClampInt(x+half+1, 0, width-1)] - col[utils.ClampInt(x-half, 0, width-1)]
		}
	}
}

// boxSum returns, for every pixel, the sum of values over the blockSize window centred on it,
// restricted to the image.
func boxSum(values []int32, width, height, blockSize int) []int64 {
	integral := make([]int64, (width+1)*(height+1))
	for y := 0; y < height; y++ {
		var rowSum int64
		for x := 0; x < width; x++ {
			rowSum += int64(values[y*width+x])
			integral[(y+1)*(width+1)+x+1] = integral[y*(width+1)+x+1] + rowSum
		}
	}
	half := blockSize / 2
	out := make([]int64, width*height)
	for y := 0; y < height; y++ {
		y0 := utils.MaxInt(y-half, 0)
		y1 := utils.MinInt(y+half+1, height)
		for x := 0; x < width; x++ {
			x0 := utils.MaxInt(x-half, 0)
			x1 := utils.MinInt(x+half+1, width)
			out[y*width+x] = integral[y1*(width+1)+x1] - integral[y0*(width+1)+x1] -
				integral[y1*(width+1)+x0] + integral[y0*(width+1)+x0]
		}
	}
	return out
}
