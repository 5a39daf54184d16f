package stereo

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/stereo/utils"
)

// Matcher computes a fixed point disparity map (1/16 pixel units, row-major) for a pair of
// grayscale frames of equal size. Rejected pixels hold (MinDisparity-1)*16.
type Matcher interface {
	Compute(ctx context.Context, left, right *image.Gray) ([]int16, error)
}

// NewMatcher returns the matcher selected by cfg.
func NewMatcher(cfg *DisparityConfig) (Matcher, error) {
	if err := cfg.Validate("disparity"); err != nil {
		return nil, err
	}
	c := *cfg
	if c.Algorithm == SemiGlobal {
		return &SemiGlobalMatcher{cfg: &c}, nil
	}
	return &BlockMatcher{cfg: &c}, nil
}

func checkPair(left, right *image.Gray) (int, int, error) {
	if left.Bounds().Size() != right.Bounds().Size() {
		return 0, 0, errors.Errorf("left image is %v but right image is %v", left.Bounds().Size(), right.Bounds().Size())
	}
	size := left.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return 0, 0, errors.New("empty images")
	}
	return size.X, size.Y, nil
}

// BlockMatcher finds, for every pixel, the disparity minimizing the sum of absolute differences
// of x-Sobel prefiltered intensities over a square window. Weakly textured, ambiguous,
// inconsistent and speckle pixels are rejected.
type BlockMatcher struct {
	cfg *DisparityConfig
}

// Compute implements Matcher.
func (bm *BlockMatcher) Compute(ctx context.Context, left, right *image.Gray) ([]int16, error) {
	width, height, err := checkPair(left, right)
	if err != nil {
		return nil, err
	}
	cfg := bm.cfg
	minD, nd := cfg.MinDisparity, cfg.NumDisparities
	half := cfg.BlockSize / 2
	invalid := cfg.invalidRaw()

	leftPre := xSobelPrefilter(left, cfg.PreFilterCap)
	rightPre := xSobelPrefilter(right, cfg.PreFilterCap)
	channels := []costChannel{{left: leftPre, right: rightPre}}

	var texture []int64
	if cfg.TextureThreshold > 0 {
		response := make([]int32, len(leftPre))
		for i, v := range leftPre {
			response[i] = int32(utils.AbsInt(int(v) - cfg.PreFilterCap))
		}
		texture = boxSum(response, width, height, cfg.BlockSize)
	}

	raw := make([]int16, width*height)
	firstX := minD + nd - 1 + half
	err = utils.ParallelForEachRowBand(ctx, height, func(_, from, to int) {
		bc := newBlockCost(channels, width, height, minD, nd, cfg.BlockSize)
		costs := make([]int32, width*nd)
		rv := newRightView(width)
		for y := from; y < to; y++ {
			if ctx.Err() != nil {
				return
			}
			if y == from {
				bc.seek(y)
			} else {
				bc.next()
			}
			out := raw[y*width : (y+1)*width]
			for x := range out {
				out[x] = invalid
			}
			if y < half || y >= height-half {
				continue
			}
			bc.costs(costs)
			rv.reset(minD)
			for x := firstX; x < width-half; x++ {
				if texture != nil && texture[y*width+x] < int64(cfg.TextureThreshold) {
					continue
				}
				sad := costs[x*nd : (x+1)*nd]
				best, ok := bm.selectDisparity(sad)
				if !ok {
					continue
				}
				rv.offer(x, minD+best, int64(sad[best]))
				d16 := (minD + best) * 16
				if best > 0 && best < nd-1 {
					d16 += equiangularOffset(int64(sad[best-1]), int64(sad[best]), int64(sad[best+1]))
				}
				out[x] = int16(d16)
			}
			if cfg.Disp12MaxDiff >= 0 {
				rv.check(out, minD, cfg.Disp12MaxDiff, invalid)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	filterSpeckles(raw, width, height, invalid, cfg.SpeckleWindowSize, cfg.SpeckleRange*16)
	return raw, nil
}

// selectDisparity returns the index of the lowest cost, rejecting it when a candidate more than
// one step away comes within UniquenessRatio percent of it.
func (bm *BlockMatcher) selectDisparity(sad []int32) (int, bool) {
	best, minCost := 0, int32(math.MaxInt32)
	for d, c := range sad {
		if c < minCost {
			best, minCost = d, c
		}
	}
	if bm.cfg.UniquenessRatio > 0 {
		thresh := int64(minCost) + int64(minCost)*int64(bm.cfg.UniquenessRatio)/100
		for d, c := range sad {
			if utils.AbsInt(d-best) > 1 && int64(c) <= thresh {
				return 0, false
			}
		}
	}
	return best, true
}
