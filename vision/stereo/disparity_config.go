package stereo

import (
	"github.com/pkg/errors"
)

// Algorithm selects the correspondence search.
type Algorithm string

// The available matchers.
const (
	BlockMatching Algorithm = "block_matching"
	SemiGlobal    Algorithm = "semi_global"
)

// SGMMode selects how many directions the semi-global matcher aggregates over.
type SGMMode string

const (
	// SGMFiveDirections aggregates along five paths in a single top-down pass and only keeps a
	// few rows of costs in memory.
	SGMFiveDirections SGMMode = "sgbm"
	// SGMEightDirections aggregates along eight paths in two passes and keeps the full cost
	// volume in memory, 6 bytes per pixel and disparity.
	SGMEightDirections SGMMode = "hh"
)

// DefaultMaxVolumeCells bounds the eight direction cost volume to about 400 MB.
const DefaultMaxVolumeCells = 1 << 26

// DisparityConfig tunes the disparity estimator. Disparities are searched over
// [MinDisparity, MinDisparity+NumDisparities).
type DisparityConfig struct {
	Algorithm      Algorithm `json:"algorithm"`
	MinDisparity   int       `json:"min_disparity"`
	NumDisparities int       `json:"num_disparities"`
	BlockSize      int       `json:"block_size"`
	PreFilterCap   int       `json:"pre_filter_cap"`
	// TextureThreshold is the minimum summed prefiltered response of a block matching window.
	TextureThreshold int `json:"texture_threshold"`
	// UniquenessRatio is the margin, in percent, by which the best cost must beat every
	// non-adjacent candidate.
	UniquenessRatio int `json:"uniqueness_ratio"`
	// Regions of at most SpeckleWindowSize pixels whose disparity varies by no more than
	// SpeckleRange pixels between neighbours are removed. Zero disables the filter.
	SpeckleWindowSize int `json:"speckle_window_size"`
	SpeckleRange      int `json:"speckle_range"`
	// Disp12MaxDiff is the largest allowed left-right disparity disagreement in pixels.
	// Negative disables the check.
	Disp12MaxDiff int `json:"disp12_max_diff"`
	// P1 and P2 are the semi-global smoothness penalties for disparity changes of one and of
	// more than one. Zero selects 8*BlockSize^2 and 32*BlockSize^2.
	P1   int     `json:"p1"`
	P2   int     `json:"p2"`
	Mode SGMMode `json:"mode"`
	// MaxVolumeCells caps width*height*NumDisparities in eight direction mode. Larger frames are
	// matched in five direction mode. Zero selects DefaultMaxVolumeCells.
	MaxVolumeCells int `json:"max_volume_cells,omitempty"`
	// Frames wider than DownsampleWidthThreshold are matched at DownsampleFactor scale.
	DownsampleWidthThreshold int     `json:"downsample_width_threshold"`
	DownsampleFactor         float64 `json:"downsample_factor"`
	// Preprocess blurs and contrast stretches the grayscale frames before matching.
	Preprocess bool `json:"preprocess"`
}

// DefaultDisparityConfig returns the block matching defaults.
func DefaultDisparityConfig() *DisparityConfig {
	return &DisparityConfig{
		Algorithm:                BlockMatching,
		NumDisparities:           64,
		BlockSize:                15,
		PreFilterCap:             31,
		TextureThreshold:         10,
		UniquenessRatio:          10,
		SpeckleWindowSize:        100,
		SpeckleRange:             2,
		Disp12MaxDiff:            1,
		Mode:                     SGMFiveDirections,
		DownsampleWidthThreshold: 2000,
		DownsampleFactor:         0.5,
		Preprocess:               true,
	}
}

// DefaultSemiGlobalConfig returns the semi-global matching defaults.
func DefaultSemiGlobalConfig() *DisparityConfig {
	cfg := DefaultDisparityConfig()
	cfg.Algorithm = SemiGlobal
	cfg.BlockSize = 5
	return cfg
}

const (
	maxBlockSize    = 255
	maxSGMBlockSize = 11
)

// Validate ensures all parts of the config are valid.
func (cfg *DisparityConfig) Validate(path string) error {
	switch cfg.Algorithm {
	case BlockMatching, SemiGlobal:
	default:
		return errors.Errorf("%s: unknown algorithm %q", path, cfg.Algorithm)
	}
	if cfg.MinDisparity < 0 {
		return errors.Errorf("%s: min_disparity must not be negative, got %d", path, cfg.MinDisparity)
	}
	if cfg.NumDisparities <= 0 || cfg.NumDisparities%16 != 0 {
		return errors.Errorf("%s: num_disparities must be a positive multiple of 16, got %d", path, cfg.NumDisparities)
	}
	if (cfg.MinDisparity+cfg.NumDisparities)*16 > 1<<15-1 {
		return errors.Errorf("%s: disparity range too large for fixed point output", path)
	}
	limit := maxBlockSize
	if cfg.Algorithm == SemiGlobal {
		limit = maxSGMBlockSize
	}
	if cfg.BlockSize < 1 || cfg.BlockSize%2 == 0 || cfg.BlockSize > limit {
		return errors.Errorf("%s: block_size must be odd and in [1, %d], got %d", path, limit, cfg.BlockSize)
	}
	if cfg.PreFilterCap < 1 || cfg.PreFilterCap > 63 {
		return errors.Errorf("%s: pre_filter_cap must be in [1, 63], got %d", path, cfg.PreFilterCap)
	}
	if cfg.TextureThreshold < 0 || cfg.UniquenessRatio < 0 || cfg.UniquenessRatio >= 100 {
		return errors.Errorf("%s: texture_threshold must be >= 0 and uniqueness_ratio in [0, 100)", path)
	}
	if cfg.SpeckleWindowSize < 0 || cfg.SpeckleRange < 0 {
		return errors.Errorf("%s: speckle settings must not be negative", path)
	}
	if cfg.Algorithm == SemiGlobal {
		p1, p2 := cfg.penalties()
		if p1 <= 0 || p2 <= p1 {
			return errors.Errorf("%s: penalties must satisfy 0 < p1 < p2, got p1=%d p2=%d", path, p1, p2)
		}
		switch cfg.Mode {
		case SGMFiveDirections, SGMEightDirections, "":
		default:
			return errors.Errorf("%s: unknown mode %q", path, cfg.Mode)
		}
		if cfg.MaxVolumeCells < 0 {
			return errors.Errorf("%s: max_volume_cells must not be negative", path)
		}
	}
	if cfg.DownsampleWidthThreshold < 0 {
		return errors.Errorf("%s: downsample_width_threshold must not be negative", path)
	}
	if cfg.DownsampleWidthThreshold > 0 && (cfg.DownsampleFactor <= 0 || cfg.DownsampleFactor >= 1) {
		return errors.Errorf("%s: downsample_factor must be in (0, 1), got %v", path, cfg.DownsampleFactor)
	}
	return nil
}

func (cfg *DisparityConfig) penalties() (int, int) {
	area := cfg.BlockSize * cfg.BlockSize
	p1, p2 := cfg.P1, cfg.P2
	if p1 == 0 {
		p1 = 8 * area
	}
	if p2 == 0 {
		p2 = 32 * area
	}
	return p1, p2
}

func (cfg *DisparityConfig) maxVolumeCells() int {
	if cfg.MaxVolumeCells == 0 {
		return DefaultMaxVolumeCells
	}
	return cfg.MaxVolumeCells
}

// invalidRaw is the fixed point value a matcher writes for pixels it rejects.
func (cfg *DisparityConfig) invalidRaw() int16 {
	return int16((cfg.MinDisparity - 1) * 16)
}
