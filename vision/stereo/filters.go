package stereo

import (
	"math"

	"go.viam.com/stereo/utils"
)

// filterSpeckles replaces small connected regions of similar disparity with newVal. Neighbouring
// pixels (4-connected) belong to the same region when their values differ by at most maxDiff.
// Regions of at most maxSpeckleSize pixels are removed.
func filterSpeckles(img []int16, width, height int, newVal int16, maxSpeckleSize, maxDiff int) {
	if maxSpeckleSize <= 0 || len(img) == 0 {
		return
	}
	labels := make([]int32, len(img))
	bad := []bool{false}
	stack := make([]int, 0, 256)
	label := int32(0)

	for i := range img {
		if img[i] == newVal {
			continue
		}
		if labels[i] != 0 {
			if bad[labels[i]] {
				img[i] = newVal
			}
			continue
		}

		label++
		labels[i] = label
		stack = append(stack[:0], i)
		count := 0
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++
			v := int(img[p])
			px, py := p%width, p/width
			visit := func(q int) {
				if labels[q] != 0 || img[q] == newVal || utils.AbsInt(int(img[q])-v) > maxDiff {
					return
				}
				labels[q] = label
				stack = append(stack, q)
			}
			if px > 0 {
				visit(p - 1)
			}
			if px < width-1 {
				visit(p + 1)
			}
			if py > 0 {
				visit(p - width)
			}
			if py < height-1 {
				visit(p + width)
			}
		}
		isBad := count <= maxSpeckleSize
		bad = append(bad, isBad)
		if isBad {
			img[i] = newVal
		}
	}
}

// rightView records, for one row, the best left pixel match landing on each right image column.
// It is used to check left-right consistency.
type rightView struct {
	disp []int
	cost []int64
}

func newRightView(width int) *rightView {
	return &rightView{disp: make([]int, width), cost: make([]int64, width)}
}

func (rv *rightView) reset(minDisparity int) {
	for i := range rv.disp {
		rv.disp[i] = minDisparity - 1
		rv.cost[i] = math.MaxInt64
	}
}

// offer records that left column x matched at integer disparity d with the given cost.
func (rv *rightView) offer(x, d int, cost int64) {
	xr := x - d
	if xr < 0 || xr >= len(rv.disp) {
		return
	}
	if cost < rv.cost[xr] {
		rv.cost[xr] = cost
		rv.disp[xr] = d
	}
}

// check invalidates fixed point disparities of row that disagree by more than maxDiff pixels with
// the best match seen from the right image, at both the floor and ceiling of the subpixel value.
func (rv *rightView) check(row []int16, minDisparity, maxDiff int, invalid int16) {
	width := len(rv.disp)
	agrees := func(xr, d int) bool {
		if xr < 0 || xr >= width || rv.disp[xr] < minDisparity {
			return true
		}
		return utils.AbsInt(rv.disp[xr]-d) <= maxDiff
	}
	for x, raw := range row {
		if raw == invalid {
			continue
		}
		lo := int(raw) >> 4
		hi := (int(raw) + 15) >> 4
		if !agrees(x-lo, lo) && !agrees(x-hi, hi) {
			row[x] = invalid
		}
	}
}

// equiangularOffset is the subpixel offset of a cost minimum c with neighbours prev (d-1) and
// next (d+1), in 1/16ths of a pixel.
func equiangularOffset(prev, c, next int64) int {
	denom := prev + next - 2*c
	if prev > next {
		denom += prev - next
	} else {
		denom += next - prev
	}
	if denom == 0 {
		return 0
	}
	return int((prev - next) * 16 / denom)
}

// parabolicOffset is the subpixel offset of a parabola through the minimum and its neighbours,
// in 1/16ths of a pixel, rounded.
func parabolicOffset(prev, c, next int64) int {
	denom := prev + next - 2*c
	if denom < 1 {
		denom = 1
	}
	return int(((prev-next)*16 + denom) / (denom * 2))
}
