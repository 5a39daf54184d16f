package stereo

import (
	"context"
	"image"
	"math"

	"go.viam.com/stereo/utils"
)

// rawIntensityShift scales down the intensity term of the semi-global pixel cost relative to the
// prefiltered gradient term.
const rawIntensityShift = 2

// SemiGlobalMatcher aggregates window matching costs along several 1-D paths through the image,
// penalizing disparity changes of one step by P1 and larger jumps by P2. The pixel cost combines
// x-Sobel prefiltered and raw intensity differences.
type SemiGlobalMatcher struct {
	cfg *DisparityConfig
}

// pathAggregator holds the running path costs for one sweep direction over the image.
type pathAggregator struct {
	width, nd int
	p1, p2    int32

	// prev and cur hold the three paths arriving from the previous row of the sweep, arriving
	// straight, from the left diagonal and from the right diagonal.
	prev, cur       [3][]int32
	prevMin, curMin [3][]int32
	horiz           [2][]int32
}

func newPathAggregator(width, nd int, p1, p2 int32) *pathAggregator {
	pa := &pathAggregator{width: width, nd: nd, p1: p1, p2: p2}
	for i := 0; i < 3; i++ {
		pa.prev[i] = make([]int32, width*nd)
		pa.cur[i] = make([]int32, width*nd)
		pa.prevMin[i] = make([]int32, width)
		pa.curMin[i] = make([]int32, width)
	}
	pa.horiz[0] = make([]int32, nd)
	pa.horiz[1] = make([]int32, nd)
	return pa
}

// step computes L(p, d) = C(p, d) + min(L(q, d), L(q, d+-1) + P1, min L(q) + P2) - min L(q) for
// the pixel p whose predecessor q on the path has costs prev, and returns min L(p). A nil prev
// starts the path.
func (pa *pathAggregator) step(dst, cost, prev []int32, prevMin int32) int32 {
	minL := int32(math.MaxInt32)
	if prev == nil {
		for d, c := range cost {
			dst[d] = c
			if c < minL {
				minL = c
			}
		}
		return minL
	}
	nd := len(dst)
	jump := prevMin + pa.p2
	for d := 0; d < nd; d++ {
		best := prev[d]
		if d > 0 && prev[d-1]+pa.p1 < best {
			best = prev[d-1] + pa.p1
		}
		if d < nd-1 && prev[d+1]+pa.p1 < best {
			best = prev[d+1] + pa.p1
		}
		if jump < best {
			best = jump
		}
		v := cost[d] + best - prevMin
		dst[d] = v
		if v < minL {
			minL = v
		}
	}
	return minL
}

// row aggregates one image row of costs into sum. It adds the three paths arriving from the
// previous row of the sweep and, when horizontal is set, the two paths running along the row.
// first marks the first row of the sweep.
func (pa *pathAggregator) row(cost, sum []int32, first, horizontal bool) {
	width, nd := pa.width, pa.nd
	at := func(s []int32, x int) []int32 { return s[x*nd : (x+1)*nd] }

	for x := 0; x < width; x++ {
		c := at(cost, x)
		for dir, dx := range [3]int{0, -1, 1} {
			qx := x + dx
			var prev []int32
			var prevMin int32
			if !first && qx >= 0 && qx < width {
				prev, prevMin = at(pa.prev[dir], qx), pa.prevMin[dir][qx]
			}
			pa.curMin[dir][x] = pa.step(at(pa.cur[dir], x), c, prev, prevMin)
		}
		s := at(sum, x)
		for d := range s {
			s[d] += pa.cur[0][x*nd+d] + pa.cur[1][x*nd+d] + pa.cur[2][x*nd+d]
		}
	}
	pa.prev, pa.cur = pa.cur, pa.prev
	pa.prevMin, pa.curMin = pa.curMin, pa.prevMin

	if !horizontal {
		return
	}
	for _, reverse := range []bool{false, true} {
		var prevMin int32
		cur, prev := pa.horiz[0], pa.horiz[1]
		for i := 0; i < width; i++ {
			x := i
			if reverse {
				x = width - 1 - i
			}
			if i == 0 {
				prevMin = pa.step(cur, at(cost, x), nil, 0)
			} else {
				prevMin = pa.step(cur, at(cost, x), prev, prevMin)
			}
			s := at(sum, x)
			for d := range s {
				s[d] += cur[d]
			}
			cur, prev = prev, cur
		}
	}
}

// Compute implements Matcher.
func (sgm *SemiGlobalMatcher) Compute(ctx context.Context, left, right *image.Gray) ([]int16, error) {
	width, height, err := checkPair(left, right)
	if err != nil {
		return nil, err
	}
	cfg := sgm.cfg
	channels := []costChannel{
		{left: xSobelPrefilter(left, cfg.PreFilterCap), right: xSobelPrefilter(right, cfg.PreFilterCap)},
		{left: grayPlane(left), right: grayPlane(right), shift: rawIntensityShift},
	}
	raw := make([]int16, width*height)
	if sgm.EightDirections(width, height) {
		err = sgm.computeEightDirections(ctx, channels, width, height, raw)
	} else {
		err = sgm.computeFiveDirections(ctx, channels, width, height, raw)
	}
	if err != nil {
		return nil, err
	}
	filterSpeckles(raw, width, height, cfg.invalidRaw(), cfg.SpeckleWindowSize, cfg.SpeckleRange*16)
	return raw, nil
}

// EightDirections reports whether frames of the given size are matched along eight paths: the
// mode asks for it and the cost volume fits within the configured cell budget.
func (sgm *SemiGlobalMatcher) EightDirections(width, height int) bool {
	if sgm.cfg.Mode != SGMEightDirections {
		return false
	}
	return int64(width)*int64(height)*int64(sgm.cfg.NumDisparities) <= int64(sgm.cfg.maxVolumeCells())
}

// computeFiveDirections runs a single top-down sweep over the left-right, right-left, top,
// top-left and top-right paths, keeping only the current and previous rows in memory.
func (sgm *SemiGlobalMatcher) computeFiveDirections(
	ctx context.Context, channels []costChannel, width, height int, raw []int16,
) error {
	cfg := sgm.cfg
	nd := cfg.NumDisparities
	p1, p2 := cfg.penalties()
	bc := newBlockCost(channels, width, height, cfg.MinDisparity, nd, cfg.BlockSize)
	pa := newPathAggregator(width, nd, int32(p1), int32(p2))
	costs := make([]int32, width*nd)
	sum := make([]int32, width*nd)
	rv := newRightView(width)
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if y == 0 {
			bc.seek(0)
		} else {
			bc.next()
		}
		bc.costs(costs)
		for i := range sum {
			sum[i] = 0
		}
		pa.row(costs, sum, y == 0, true)
		sgm.selectRow(sum, raw[y*width:(y+1)*width], rv)
	}
	return nil
}

// computeEightDirections stores the full cost volume, then sweeps top-down over five paths and
// bottom-up over the bottom, bottom-left and bottom-right paths. It holds width*height*nd uint16
// costs and as many int32 sums, so Compute only calls it within MaxVolumeCells.
func (sgm *SemiGlobalMatcher) computeEightDirections(
	ctx context.Context, channels []costChannel, width, height int, raw []int16,
) error {
	cfg := sgm.cfg
	nd := cfg.NumDisparities
	rowLen := width * nd
	volume := make([]uint16, rowLen*height)
	err := utils.ParallelForEachRowBand(ctx, height, func(_, from, to int) {
		bc := newBlockCost(channels, width, height, cfg.MinDisparity, nd, cfg.BlockSize)
		costs := make([]int32, rowLen)
		for y := from; y < to; y++ {
			if ctx.Err() != nil {
				return
			}
			if y == from {
				bc.seek(y)
			} else {
				bc.next()
			}
			bc.costs(costs)
			dst := volume[y*rowLen : (y+1)*rowLen]
			for i, c := range costs {
				if c > math.MaxUint16 {
					c = math.MaxUint16
				}
				dst[i] = uint16(c)
			}
		}
	})
	if err != nil {
		return err
	}

	p1, p2 := cfg.penalties()
	sum := make([]int32, rowLen*height)
	costs := make([]int32, rowLen)
	load := func(y int) {
		for i, c := range volume[y*rowLen : (y+1)*rowLen] {
			costs[i] = int32(c)
		}
	}
	down := newPathAggregator(width, nd, int32(p1), int32(p2))
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		load(y)
		down.row(costs, sum[y*rowLen:(y+1)*rowLen], y == 0, true)
	}
	up := newPathAggregator(width, nd, int32(p1), int32(p2))
	rv := newRightView(width)
	for y := height - 1; y >= 0; y-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		load(y)
		rowSum := sum[y*rowLen : (y+1)*rowLen]
		up.row(costs, rowSum, y == height-1, false)
		sgm.selectRow(rowSum, raw[y*width:(y+1)*width], rv)
	}
	return nil
}

// selectRow picks the disparity of lowest aggregated cost for every pixel of a row, applies the
// uniqueness and left-right checks and writes fixed point values into out.
func (sgm *SemiGlobalMatcher) selectRow(sum []int32, out []int16, rv *rightView) {
	cfg := sgm.cfg
	minD, nd := cfg.MinDisparity, cfg.NumDisparities
	invalid := cfg.invalidRaw()
	ur := int64(cfg.UniquenessRatio)
	rv.reset(minD)
	for x := range out {
		out[x] = invalid
		if x < minD+nd-1 {
			continue
		}
		s := sum[x*nd : (x+1)*nd]
		best, minS := 0, int64(math.MaxInt64)
		for d, v := range s {
			if int64(v) < minS {
				best, minS = d, int64(v)
			}
		}
		unique := true
		for d, v := range s {
			if int64(v)*(100-ur) < minS*100 && utils.AbsInt(d-best) > 1 {
				unique = false
				break
			}
		}
		if !unique {
			continue
		}
		rv.offer(x, minD+best, minS)
		d16 := (minD + best) * 16
		if best > 0 && best < nd-1 {
			d16 += parabolicOffset(int64(s[best-1]), minS, int64(s[best+1]))
		}
		out[x] = int16(d16)
	}
	if cfg.Disp12MaxDiff >= 0 {
		rv.check(out, minD, cfg.Disp12MaxDiff, invalid)
	}
}
