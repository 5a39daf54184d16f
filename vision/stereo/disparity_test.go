package stereo

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

// texturedPair returns a random-dot left frame and a right frame whose content is shifted
// `disparity` pixels to the left, as seen by a camera placed to the right of the first one.
func texturedPair(width, height, disparity int) (*image.Gray, *image.Gray) {
	left := rimage.RandomDotTexture(width, height, 4, 1)
	fill := rimage.RandomDotTexture(width, height, 4, 99)
	return left, rimage.ShiftHorizontal(left, fill, -disparity)
}

func TestDisparityConfigValidate(t *testing.T) {
	test.That(t, DefaultDisparityConfig().Validate("d"), test.ShouldBeNil)
	test.That(t, DefaultSemiGlobalConfig().Validate("d"), test.ShouldBeNil)

	for _, tc := range []struct {
		name   string
		modify func(cfg *DisparityConfig)
		errStr string
	}{
		{"algorithm", func(cfg *DisparityConfig) { cfg.Algorithm = "magic" }, "unknown algorithm"},
		{"not multiple of 16", func(cfg *DisparityConfig) { cfg.NumDisparities = 50 }, "multiple of 16"},
		{"even block", func(cfg *DisparityConfig) { cfg.BlockSize = 14 }, "block_size"},
		{"sgm block", func(cfg *DisparityConfig) { cfg.Algorithm = SemiGlobal; cfg.BlockSize = 15 }, "block_size"},
		{"penalties", func(cfg *DisparityConfig) {
			cfg.Algorithm = SemiGlobal
			cfg.BlockSize = 5
			cfg.P1 = 100
			cfg.P2 = 50
		}, "p1 < p2"},
		{"downsample factor", func(cfg *DisparityConfig) { cfg.DownsampleFactor = 1.5 }, "downsample_factor"},
		{"negative min", func(cfg *DisparityConfig) { cfg.MinDisparity = -4 }, "min_disparity"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultDisparityConfig()
			tc.modify(cfg)
			err := cfg.Validate("d")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}

	cfg := DefaultSemiGlobalConfig()
	p1, p2 := cfg.penalties()
	test.That(t, p1, test.ShouldEqual, 200)
	test.That(t, p2, test.ShouldEqual, 800)
}

func TestFilterSpeckles(t *testing.T) {
	const w, h = 8, 6
	invalid := int16(-16)
	img := make([]int16, w*h)
	for i := range img {
		img[i] = 20 * 16
	}
	// a two pixel island far from its surroundings
	img[2*w+3] = 50 * 16
	img[2*w+4] = 50*16 + 8
	// an already invalid pixel stays invalid
	img[5*w+7] = invalid

	filterSpeckles(img, w, h, invalid, 4, 16)
	test.That(t, img[2*w+3], test.ShouldEqual, invalid)
	test.That(t, img[2*w+4], test.ShouldEqual, invalid)
	test.That(t, img[5*w+7], test.ShouldEqual, invalid)
	test.That(t, img[0], test.ShouldEqual, int16(20*16))
	test.That(t, img[4*w+4], test.ShouldEqual, int16(20*16))

	// disabled
	img2 := []int16{16, 800, 16, 16}
	filterSpeckles(img2, 2, 2, invalid, 0, 16)
	test.That(t, img2, test.ShouldResemble, []int16{16, 800, 16, 16})
}

func TestLeftRightCheck(t *testing.T) {
	rv := newRightView(10)
	rv.reset(0)
	rv.offer(6, 4, 10) // right column 2 sees disparity 4
	rv.offer(7, 5, 20) // also lands on column 2 with a worse cost
	rv.offer(8, 2, 5)  // right column 6 sees disparity 2
	test.That(t, rv.disp[2], test.ShouldEqual, 4)
	test.That(t, rv.disp[6], test.ShouldEqual, 2)

	invalid := int16(-16)
	row := []int16{invalid, invalid, invalid, invalid, invalid, invalid, 4 * 16, 5 * 16, 2 * 16, invalid}
	rv.check(row, 0, 0, invalid)
	test.That(t, row[6], test.ShouldEqual, int16(4*16))
	test.That(t, row[7], test.ShouldEqual, invalid)
	test.That(t, row[8], test.ShouldEqual, int16(2*16))
}

func TestSubpixelOffsets(t *testing.T) {
	test.That(t, equiangularOffset(10, 0, 10), test.ShouldEqual, 0)
	test.That(t, equiangularOffset(0, 0, 10), test.ShouldEqual, -8)
	test.That(t, equiangularOffset(10, 0, 0), test.ShouldEqual, 8)
	test.That(t, parabolicOffset(10, 0, 10), test.ShouldEqual, 0)
	test.That(t, parabolicOffset(20, 0, 10), test.ShouldBeGreaterThan, 0)
	test.That(t, parabolicOffset(10, 0, 20), test.ShouldBeLessThanOrEqualTo, 0)
}

// interiorPeak returns the most common valid disparity in the interior of dm.
func interiorPeak(t *testing.T, dm *rimage.DisparityMap, maxDisparity int) float32 {
	t.Helper()
	peak, ok := dm.Peak(maxDisparity)
	test.That(t, ok, test.ShouldBeTrue)
	return peak
}

func TestBlockMatcher(t *testing.T) {
	left, right := texturedPair(200, 120, 12)
	cfg := DefaultDisparityConfig()
	cfg.NumDisparities = 32
	cfg.BlockSize = 9
	matcher, err := NewMatcher(cfg)
	test.That(t, err, test.ShouldBeNil)
	_, ok := matcher.(*BlockMatcher)
	test.That(t, ok, test.ShouldBeTrue)

	raw, err := matcher.Compute(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(raw), test.ShouldEqual, 200*120)

	// the left band cannot see the whole search range
	test.That(t, raw[60*200+10], test.ShouldEqual, int16(-16))

	dm, err := rimage.NewDisparityMapFromFixedPoint(raw, 200, 120, cfg.MinDisparity, cfg.NumDisparities)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.ValidCount(), test.ShouldBeGreaterThan, 200*120/2)
	test.That(t, math.Abs(float64(interiorPeak(t, dm, 32)-12)), test.ShouldBeLessThanOrEqualTo, 1.5)

	_, err = matcher.Compute(context.Background(), left, image.NewGray(image.Rect(0, 0, 10, 10)))
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = matcher.Compute(ctx, left, right)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestSemiGlobalMatcher(t *testing.T) {
	left, right := texturedPair(128, 96, 10)
	for _, mode := range []SGMMode{SGMFiveDirections, SGMEightDirections} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultSemiGlobalConfig()
			cfg.NumDisparities = 32
			cfg.Mode = mode
			matcher, err := NewMatcher(cfg)
			test.That(t, err, test.ShouldBeNil)
			_, ok := matcher.(*SemiGlobalMatcher)
			test.That(t, ok, test.ShouldBeTrue)

			raw, err := matcher.Compute(context.Background(), left, right)
			test.That(t, err, test.ShouldBeNil)
			dm, err := rimage.NewDisparityMapFromFixedPoint(raw, 128, 96, cfg.MinDisparity, cfg.NumDisparities)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dm.ValidCount(), test.ShouldBeGreaterThan, 128*96/2)
			test.That(t, math.Abs(float64(interiorPeak(t, dm, 32)-10)), test.ShouldBeLessThanOrEqualTo, 1.5)
			test.That(t, dm.Valid(5, 50), test.ShouldBeFalse)
		})
	}
}

func TestSemiGlobalVolumeBudget(t *testing.T) {
	left, right := texturedPair(96, 64, 8)
	five := DefaultSemiGlobalConfig()
	five.NumDisparities = 16
	five.Mode = SGMFiveDirections
	eight := *five
	eight.Mode = SGMEightDirections

	m, err := NewMatcher(&eight)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.(*SemiGlobalMatcher).EightDirections(96, 64), test.ShouldBeTrue)

	eight.MaxVolumeCells = 96 * 64 * 16 / 2
	m, err = NewMatcher(&eight)
	test.That(t, err, test.ShouldBeNil)
	capped := m.(*SemiGlobalMatcher)
	test.That(t, capped.EightDirections(96, 64), test.ShouldBeFalse)
	test.That(t, capped.EightDirections(48, 64), test.ShouldBeTrue)

	got, err := capped.Compute(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	ref, err := NewMatcher(five)
	test.That(t, err, test.ShouldBeNil)
	want, err := ref.Compute(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, want)

	eight.MaxVolumeCells = -1
	_, err = NewMatcher(&eight)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUpscaleDisparity(t *testing.T) {
	dm := rimage.NewEmptyDisparityMap(2, 2)
	dm.Set(0, 0, 10)
	dm.Set(1, 0, 10)
	dm.Set(0, 1, 10)
	up := UpscaleDisparity(dm, 4, 4, 0.5)
	test.That(t, up.Width(), test.ShouldEqual, 4)
	test.That(t, up.Height(), test.ShouldEqual, 4)
	test.That(t, up.GetDisparity(0, 0), test.ShouldEqual, float32(20))
	test.That(t, up.Valid(3, 3), test.ShouldBeFalse)
}

func TestEstimator(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := NewEstimator(&DisparityConfig{Algorithm: BlockMatching}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewEstimator(nil, &ReprojectionConfig{FocalLengthFactor: 0.8}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	t.Run("downsampled", func(t *testing.T) {
		left, right := texturedPair(240, 80, 16)
		cfg := DefaultDisparityConfig()
		cfg.NumDisparities = 16
		cfg.BlockSize = 7
		cfg.DownsampleWidthThreshold = 200
		est, err := NewEstimator(cfg, nil, logger)
		test.That(t, err, test.ShouldBeNil)

		res, err := est.Estimate(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Downsampled, test.ShouldBeTrue)
		test.That(t, res.Disparity.Width(), test.ShouldEqual, 240)
		test.That(t, res.Disparity.Height(), test.ShouldEqual, 80)
		test.That(t, res.Visualization.Bounds(), test.ShouldResemble, image.Rect(0, 0, 240, 80))
		test.That(t, res.MaxDisparity, test.ShouldEqual, float32(32))
		// matched at half scale as 8 px, restored to full scale pixels
		test.That(t, math.Abs(float64(interiorPeak(t, res.Disparity, int(res.MaxDisparity))-16)), test.ShouldBeLessThanOrEqualTo, 2.5)
	})

	t.Run("downsampled beyond configured range", func(t *testing.T) {
		// 24 px at full scale is 12 px at half scale, inside the 16 px matching range
		left, right := texturedPair(240, 80, 24)
		cfg := DefaultDisparityConfig()
		cfg.NumDisparities = 16
		cfg.BlockSize = 7
		cfg.DownsampleWidthThreshold = 200
		est, err := NewEstimator(cfg, nil, logger)
		test.That(t, err, test.ShouldBeNil)

		res, err := est.Estimate(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.MaxDisparity, test.ShouldEqual, float32(32))
		test.That(t, math.Abs(float64(interiorPeak(t, res.Disparity, int(res.MaxDisparity))-24)), test.ShouldBeLessThanOrEqualTo, 2.5)
	})

	t.Run("size mismatch", func(t *testing.T) {
		est, err := NewEstimator(nil, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		_, err = est.Estimate(context.Background(), image.NewGray(image.Rect(0, 0, 10, 10)), image.NewGray(image.Rect(0, 0, 12, 10)))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestWriteDisparityHistogram(t *testing.T) {
	dm := rimage.NewEmptyDisparityMap(4, 4)
	path := filepath.Join(t.TempDir(), "plots", "hist.png")
	test.That(t, WriteDisparityHistogram(dm, 16, path), test.ShouldNotBeNil)

	for i := 0; i < 4; i++ {
		dm.Set(i, 0, float32(10+i))
	}
	test.That(t, WriteDisparityHistogram(dm, 16, path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
