// Package stereo turns a raw stereo frame pair into an aligned pair, a disparity map and a 3-D
// point field.
package stereo

import (
	"context"
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
	"go.viam.com/stereo/vision/keypoints"
)

// AlignmentConfig tunes the vertical alignment stage.
type AlignmentConfig struct {
	// Ratio is the nearest/second-nearest distance ratio a match must beat.
	Ratio float64 `json:"ratio"`
	// MinMatches is the number of good matches below which alignment is skipped.
	MinMatches int `json:"min_matches"`
	// MinOffset is the median vertical offset, in pixels, below which no correction is applied.
	MinOffset float64               `json:"min_offset_px"`
	Features  *keypoints.ORBConfig `json:"features,omitempty"`
	// FeaturesFile names a JSON file holding Features. It is loaded by the config reader.
	FeaturesFile string `json:"features_file,omitempty"`
}

// DefaultAlignmentConfig returns the settings used when none are configured.
func DefaultAlignmentConfig() *AlignmentConfig {
	return &AlignmentConfig{
		Ratio:      0.7,
		MinMatches: 10,
		MinOffset:  2,
		Features:   keypoints.DefaultORBConfig(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *AlignmentConfig) Validate(path string) error {
	if cfg.Ratio <= 0 || cfg.Ratio > 1 {
		return errors.Errorf("%s: ratio must be in (0, 1], got %v", path, cfg.Ratio)
	}
	if cfg.MinMatches < 1 {
		return errors.Errorf("%s: min_matches must be at least 1, got %d", path, cfg.MinMatches)
	}
	if cfg.MinOffset < 0 {
		return errors.Errorf("%s: min_offset_px must not be negative, got %v", path, cfg.MinOffset)
	}
	if cfg.Features == nil {
		return nil
	}
	return cfg.Features.Validate(path + ".features")
}

// AlignmentResult is the output of AlignVertical. When Skipped is true, Left and Right are the
// input images themselves.
type AlignmentResult struct {
	Left  image.Image
	Right image.Image
	// OffsetY is the median vertical position of a feature in the right image minus its position
	// in the left image.
	OffsetY    float64
	Matches    int
	Applied    bool
	Skipped    bool
	SkipReason string
	// FeaturesLeft and FeaturesRight hold every detected keypoint. MatchedLeft[i] and MatchedRight[i]
	// are the positions of the i-th good match.
	FeaturesLeft, FeaturesRight keypoints.KeyPoints
	MatchedLeft, MatchedRight   keypoints.KeyPoints
}

// AlignVertical estimates the vertical misalignment between left and right from matched ORB
// features and, when it is large enough, shifts the right image to cancel it. The left image is
// the reference and is never modified. Too few matches is a degraded path, not an error.
func AlignVertical(
	ctx context.Context,
	left, right image.Image,
	cfg *AlignmentConfig,
	logger logging.Logger,
) (*AlignmentResult, error) {
	ctx, span := trace.StartSpan(ctx, "stereo::AlignVertical")
	defer span.End()

	if cfg == nil {
		cfg = DefaultAlignmentConfig()
	}
	if err := cfg.Validate("alignment"); err != nil {
		return nil, err
	}
	orbCfg := cfg.Features
	if orbCfg == nil {
		orbCfg = keypoints.DefaultORBConfig()
	}

	result := &AlignmentResult{Left: left, Right: right}
	skip := func(reason string) *AlignmentResult {
		logger.CInfow(ctx, "skipping vertical alignment", "reason", reason, "matches", result.Matches)
		result.Skipped = true
		result.SkipReason = reason
		return result
	}

	var (
		descsLeft, descsRight []keypoints.Descriptor
		kpsLeft, kpsRight     keypoints.KeyPoints
	)
	_, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			descsLeft, kpsLeft, err = keypoints.ComputeORBKeypoints(rimage.ToGray(left), orbCfg)
			return err
		},
		func(ctx context.Context) error {
			var err error
			descsRight, kpsRight, err = keypoints.ComputeORBKeypoints(rimage.ToGray(right), orbCfg)
			return err
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "computing features")
	}
	logger.CDebugw(ctx, "features", "left", len(kpsLeft), "right", len(kpsRight))
	result.FeaturesLeft, result.FeaturesRight = kpsLeft, kpsRight
	if len(descsLeft) == 0 || len(descsRight) == 0 {
		return skip("no features detected"), nil
	}

	matches, err := keypoints.MatchDescriptors(descsLeft, descsRight, &keypoints.MatchingConfig{Ratio: cfg.Ratio})
	if err != nil {
		return nil, err
	}
	matchedLeft, matchedRight, err := keypoints.GetMatchingKeyPoints(matches, kpsLeft, kpsRight)
	if err != nil {
		return nil, err
	}
	result.MatchedLeft, result.MatchedRight = matchedLeft, matchedRight
	result.Matches = len(matchedLeft)
	if len(matchedLeft) < cfg.MinMatches {
		return skip("not enough good matches"), nil
	}

	offsets := make(stats.Float64Data, len(matchedLeft))
	for i := range matchedLeft {
		offsets[i] = float64(matchedRight[i].Y - matchedLeft[i].Y)
	}
	median, err := offsets.Median()
	if err != nil {
		return nil, errors.Wrap(err, "computing median vertical offset")
	}

	result.OffsetY = median
	if math.Abs(median) <= cfg.MinOffset {
		logger.CDebugw(ctx, "vertical offset within tolerance", "offset_px", median, "matches", result.Matches)
		return result, nil
	}
	result.Right = rimage.TranslateVertical(right, -median)
	result.Applied = true
	logger.CInfow(ctx, "applied vertical alignment", "offset_px", median, "matches", result.Matches)
	return result, nil
}
