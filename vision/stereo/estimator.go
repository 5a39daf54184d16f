package stereo

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// ReprojectionConfig holds the assumed geometry used to turn disparity into 3-D points. These
// are estimates of an uncalibrated rig.
type ReprojectionConfig struct {
	// FocalLengthFactor times the image width gives the focal length in pixels.
	FocalLengthFactor float64 `json:"focal_length_factor"`
	// Baseline is the distance between the two cameras in metres.
	Baseline float64 `json:"baseline"`
}

// DefaultReprojectionConfig returns the assumed rig geometry.
func DefaultReprojectionConfig() *ReprojectionConfig {
	return &ReprojectionConfig{FocalLengthFactor: 0.8, Baseline: 0.1}
}

// Validate ensures all parts of the config are valid.
func (cfg *ReprojectionConfig) Validate(path string) error {
	if cfg.FocalLengthFactor <= 0 {
		return errors.Errorf("%s: focal_length_factor must be positive, got %v", path, cfg.FocalLengthFactor)
	}
	if cfg.Baseline <= 0 {
		return errors.Errorf("%s: baseline must be positive, got %v", path, cfg.Baseline)
	}
	return nil
}

// DisparityResult is the output of Estimate. Disparity is at the input resolution in pixels.
type DisparityResult struct {
	Disparity *rimage.DisparityMap
	// Visualization stretches the valid disparities over 0-255 with invalid pixels at 0.
	Visualization *image.Gray
	Points        *pointcloud.PointField
	Downsampled   bool
	// MaxDisparity bounds the disparities Disparity can hold, in full resolution pixels. It is
	// larger than the configured range when matching ran downsampled.
	MaxDisparity float32
	Elapsed      time.Duration
}

// Estimator computes disparity and 3-D points for aligned stereo pairs.
type Estimator struct {
	cfg     *DisparityConfig
	reproj  *ReprojectionConfig
	matcher Matcher
	logger  logging.Logger
}

// NewEstimator validates the configs and builds the configured matcher. Nil configs select the
// defaults.
func NewEstimator(cfg *DisparityConfig, reproj *ReprojectionConfig, logger logging.Logger) (*Estimator, error) {
	if cfg == nil {
		cfg = DefaultDisparityConfig()
	}
	if reproj == nil {
		reproj = DefaultReprojectionConfig()
	}
	if err := reproj.Validate("reprojection"); err != nil {
		return nil, err
	}
	matcher, err := NewMatcher(cfg)
	if err != nil {
		return nil, err
	}
	c, r := *cfg, *reproj
	return &Estimator{cfg: &c, reproj: &r, matcher: matcher, logger: logger}, nil
}

// Config returns a copy of the disparity settings in use.
func (e *Estimator) Config() DisparityConfig {
	return *e.cfg
}

// Estimate converts left and right to grayscale, matches them (at reduced resolution for very
// wide frames) and reprojects the result. The point field carries the colors of left.
func (e *Estimator) Estimate(ctx context.Context, left, right image.Image) (*DisparityResult, error) {
	ctx, span := trace.StartSpan(ctx, "stereo::Estimate")
	defer span.End()
	start := time.Now()

	if left.Bounds().Size() != right.Bounds().Size() {
		return nil, errors.Errorf("left image is %v but right image is %v", left.Bounds().Size(), right.Bounds().Size())
	}
	width, height := left.Bounds().Dx(), left.Bounds().Dy()

	toGray := rimage.ToGray
	if e.cfg.Preprocess {
		toGray = rimage.Preprocess
	}
	grayLeft, grayRight := toGray(left), toGray(right)

	downsampled := e.cfg.DownsampleWidthThreshold > 0 && width > e.cfg.DownsampleWidthThreshold
	if downsampled {
		w := utils.MaxInt(int(float64(width)*e.cfg.DownsampleFactor), 1)
		h := utils.MaxInt(int(float64(height)*e.cfg.DownsampleFactor), 1)
		e.logger.CDebugw(ctx, "downsampling for matching", "from", fmt.Sprintf("%dx%d", width, height), "to", fmt.Sprintf("%dx%d", w, h))
		grayLeft = rimage.ResizeGray(grayLeft, w, h)
		grayRight = rimage.ResizeGray(grayRight, w, h)
	}

	dm, err := e.match(ctx, grayLeft, grayRight)
	if err != nil {
		return nil, err
	}
	if downsampled {
		dm = UpscaleDisparity(dm, width, height, e.cfg.DownsampleFactor)
	}

	rig := transform.NewAssumedStereoRig(width, height, e.reproj.FocalLengthFactor, e.reproj.Baseline)
	q, err := rig.ReprojectionMatrix()
	if err != nil {
		return nil, err
	}
	points, err := transform.ReprojectImageTo3D(ctx, dm, q, left)
	if err != nil {
		return nil, errors.Wrap(err, "reprojecting disparity")
	}

	result := &DisparityResult{
		Disparity:     dm,
		Visualization: dm.ToGray(),
		Points:        points,
		Downsampled:   downsampled,
		MaxDisparity:  float32(e.cfg.MinDisparity + e.cfg.NumDisparities),
		Elapsed:       time.Since(start),
	}
	if downsampled {
		result.MaxDisparity /= float32(e.cfg.DownsampleFactor)
	}
	e.logger.CInfow(ctx, "estimated disparity",
		"algorithm", e.cfg.Algorithm,
		"valid_pixels", dm.ValidCount(),
		"points", points.Size(),
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (e *Estimator) match(ctx context.Context, left, right *image.Gray) (*rimage.DisparityMap, error) {
	ctx, span := trace.StartSpan(ctx, "stereo::match")
	defer span.End()

	size := fmt.Sprintf("%dx%d", left.Bounds().Dx(), left.Bounds().Dy())
	if sgm, ok := e.matcher.(*SemiGlobalMatcher); ok && e.cfg.Mode == SGMEightDirections &&
		!sgm.EightDirections(left.Bounds().Dx(), left.Bounds().Dy()) {
		e.logger.CWarnw(ctx, "cost volume too large for eight direction matching, using five directions",
			"size", size, "num_disparities", e.cfg.NumDisparities, "max_volume_cells", e.cfg.maxVolumeCells())
	}
	stop := utils.SlowLogger(ctx, "waiting for disparity matching", "size", size, e.logger)
	defer stop()

	raw, err := e.matcher.Compute(ctx, left, right)
	if err != nil {
		return nil, errors.Wrap(err, "computing disparity")
	}
	return rimage.NewDisparityMapFromFixedPoint(raw, left.Bounds().Dx(), left.Bounds().Dy(), e.cfg.MinDisparity, e.cfg.NumDisparities)
}

// UpscaleDisparity brings a disparity map computed on frames scaled by factor back to
// width x height. Disparity values are divided by factor before the grid is resampled, since
// disparity is measured in pixels of the resolution it was computed at.
func UpscaleDisparity(dm *rimage.DisparityMap, width, height int, factor float64) *rimage.DisparityMap {
	return dm.Scale(float32(1 / factor)).Resize(width, height)
}
