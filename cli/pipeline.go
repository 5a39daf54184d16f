package cli

import (
	"context"
	"image"
	"io"
	"math"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/stereo/config"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/vision/keypoints"
	vstereo "go.viam.com/stereo/vision/stereo"
)

const histogramBins = 64

// pairProcessor aligns stereo pairs, estimates their disparity and writes every intermediate
// result under the output directory, one subdirectory per pair.
type pairProcessor struct {
	cfg       *config.Config
	estimator *vstereo.Estimator
	logger    logging.Logger
	out       io.Writer
}

func newPairProcessor(cfg *config.Config, logger logging.Logger, out io.Writer) (*pairProcessor, error) {
	estimator, err := vstereo.NewEstimator(cfg.Disparity, cfg.Reprojection, logger)
	if err != nil {
		return nil, err
	}
	return &pairProcessor{cfg: cfg, estimator: estimator, logger: logger, out: out}, nil
}

// pairSummary is what processing a pair produced.
type pairSummary struct {
	Dir       string
	Alignment *vstereo.AlignmentResult
	Result    *vstereo.DisparityResult
	Peak      float32
	HasPeak   bool
}

func (p *pairProcessor) process(ctx context.Context, id string, left, right image.Image) (*pairSummary, error) {
	dir := filepath.Join(p.cfg.OutputDir, id)
	logger := p.logger.WithFields("pair", id)

	if err := saveFrames(dir, left, right); err != nil {
		return nil, err
	}

	aligned, err := vstereo.AlignVertical(ctx, left, right, p.cfg.Alignment, logger)
	if err != nil {
		return nil, errors.Wrap(err, "aligning pair")
	}
	if aligned.Applied {
		if err := writeImages(dir, map[string]image.Image{
			"aligned_left.png":  aligned.Left,
			"aligned_right.png": aligned.Right,
		}); err != nil {
			return nil, err
		}
	}
	if p.cfg.DebugOutputs {
		if err := writeFeaturePlots(dir, left, right, aligned); err != nil {
			return nil, err
		}
	}

	res, err := p.estimator.Estimate(ctx, aligned.Left, aligned.Right)
	if err != nil {
		return nil, errors.Wrap(err, "estimating disparity")
	}
	if err := writeImages(dir, map[string]image.Image{
		"side_by_side.png":    rimage.SideBySide(aligned.Left, aligned.Right),
		"disparity.png":       res.Visualization,
		"disparity_color.png": res.Disparity.ToColor(),
	}); err != nil {
		return nil, err
	}
	if err := pointcloud.WriteToFile(res.Points, filepath.Join(dir, "points.pcd")); err != nil {
		return nil, errors.Wrap(err, "writing point field")
	}
	if res.Disparity.ValidCount() > 0 {
		if err := vstereo.WriteDisparityHistogram(res.Disparity, histogramBins, filepath.Join(dir, "disparity_histogram.png")); err != nil {
			return nil, err
		}
	} else {
		warningf(p.out, "pair %s has no valid disparities, skipping histogram", id)
	}

	summary := &pairSummary{Dir: dir, Alignment: aligned, Result: res}
	summary.Peak, summary.HasPeak = res.Disparity.Peak(int(math.Ceil(float64(res.MaxDisparity))))
	p.print(id, summary)
	return summary, nil
}

func (p *pairProcessor) print(id string, s *pairSummary) {
	alignment := "skipped (" + s.Alignment.SkipReason + ")"
	if !s.Alignment.Skipped {
		alignment = "not needed"
		if s.Alignment.Applied {
			alignment = "applied"
		}
	}
	printf(p.out, "pair %s: vertical offset %.1f px from %d matches, alignment %s",
		id, s.Alignment.OffsetY, s.Alignment.Matches, alignment)
	if s.HasPeak {
		printf(p.out, "  peak disparity %.1f px, %d valid pixels, %v", s.Peak, s.Result.Disparity.ValidCount(), s.Result.Elapsed)
	} else {
		printf(p.out, "  no valid disparity")
	}
	printf(p.out, "  outputs in %s", s.Dir)
}

// writeFeaturePlots draws the features detected in each frame and the good matches between them.
func writeFeaturePlots(dir string, left, right image.Image, aligned *vstereo.AlignmentResult) error {
	plots := []struct {
		name string
		plot func(path string) error
	}{
		{"features_left.png", func(path string) error { return keypoints.PlotKeypoints(left, aligned.FeaturesLeft, path) }},
		{"features_right.png", func(path string) error { return keypoints.PlotKeypoints(right, aligned.FeaturesRight, path) }},
		{"matches.png", func(path string) error {
			return keypoints.PlotMatchedLines(left, right, aligned.MatchedLeft, aligned.MatchedRight, path)
		}},
	}
	for _, p := range plots {
		if err := p.plot(filepath.Join(dir, p.name)); err != nil {
			return errors.Wrapf(err, "writing %s", p.name)
		}
	}
	return nil
}

func saveFrames(dir string, left, right image.Image) error {
	return writeImages(dir, map[string]image.Image{"left.png": left, "right.png": right})
}

func writeImages(dir string, images map[string]image.Image) error {
	for name, img := range images {
		if err := rimage.WriteImageToFile(filepath.Join(dir, name), img); err != nil {
			return errors.Wrapf(err, "writing %s", name)
		}
	}
	return nil
}
