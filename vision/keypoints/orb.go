package keypoints

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereo/rimage"
)

// briefSeed fixes the BRIEF sampling pattern so descriptors are comparable across images and runs.
const briefSeed = 0x5eed

// ORBConfig contains the parameters / configs needed to compute ORB features.
type ORBConfig struct {
	Layers          int          `json:"n_layers"`
	DownscaleFactor int          `json:"downscale_factor"`
	FastConf        *FASTConfig  `json:"fast"`
	BRIEFConf       *BRIEFConfig `json:"brief"`
}

// DefaultORBConfig returns the feature settings used for stereo alignment.
func DefaultORBConfig() *ORBConfig {
	return &ORBConfig{
		Layers:          3,
		DownscaleFactor: 2,
		FastConf: &FASTConfig{
			Threshold:      0.08,
			NMatchesCircle: 9,
			NMSWinSize:     7,
			Oriented:       true,
			MaxKeypoints:   500,
		},
		BRIEFConf: &BRIEFConfig{
			N:              256,
			Sampling:       normal,
			UseOrientation: true,
			PatchSize:      31,
		},
	}
}

// LoadORBConfiguration loads a ORBConfig from a json file.
func LoadORBConfiguration(file string) (*ORBConfig, error) {
	var config ORBConfig
	filePath := filepath.Clean(file)
	//nolint:gosec
	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	jsonParser := json.NewDecoder(configFile)
	err = jsonParser.Decode(&config)
	if err != nil {
		return nil, err
	}
	err = config.Validate(file)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate ensures all parts of the ORBConfig are valid.
func (config *ORBConfig) Validate(path string) error {
	if config.Layers < 1 {
		return utils.NewConfigValidationError(path, errors.New("n_layers should be >= 1"))
	}
	if config.DownscaleFactor <= 1 {
		return utils.NewConfigValidationError(path, errors.New("downscale_factor should be greater than 1"))
	}
	if config.FastConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "fast")
	}
	if config.FastConf.NMatchesCircle < 1 || config.FastConf.NMatchesCircle > len(CircleIdx) {
		return utils.NewConfigValidationError(path, errors.Errorf("fast.n_matches should be in [1, %d]", len(CircleIdx)))
	}
	if config.BRIEFConf == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "brief")
	}
	if config.BRIEFConf.N < 1 {
		return utils.NewConfigValidationError(path, errors.New("brief.n should be >= 1"))
	}
	if config.BRIEFConf.PatchSize < 5 {
		return utils.NewConfigValidationError(path, errors.New("brief.patch_size should be >= 5"))
	}
	return nil
}

// ImagePyramid stores the successively downscaled images and their scale relative to the original.
type ImagePyramid struct {
	Images []*image.Gray
	Scales []int
}

// GetImagePyramid builds up to `layers` levels, each `factor` times smaller than the previous one,
// stopping before a level becomes smaller than minSize on either side.
func GetImagePyramid(img *image.Gray, layers, factor, minSize int) *ImagePyramid {
	pyramid := &ImagePyramid{
		Images: []*image.Gray{img},
		Scales: []int{1},
	}
	current := img
	scale := 1
	for len(pyramid.Images) < layers {
		w := current.Bounds().Dx() / factor
		h := current.Bounds().Dy() / factor
		if w < minSize || h < minSize {
			break
		}
		current = rimage.ResizeGray(current, w, h)
		scale *= factor
		pyramid.Images = append(pyramid.Images, current)
		pyramid.Scales = append(pyramid.Scales, scale)
	}
	return pyramid
}

// ComputeORBKeypoints compute ORB keypoints on gray image. Keypoints are returned in full
// resolution coordinates, aligned with their descriptors.
func ComputeORBKeypoints(im *image.Gray, cfg *ORBConfig) ([]Descriptor, KeyPoints, error) {
	if err := cfg.Validate("orb"); err != nil {
		return nil, nil, err
	}
	margin := cfg.BRIEFConf.descriptorMargin()
	pyramid := GetImagePyramid(im, cfg.Layers, cfg.DownscaleFactor, 2*margin+1)
	samplePairs := GenerateSamplePairs(cfg.BRIEFConf.Sampling, cfg.BRIEFConf.N, cfg.BRIEFConf.PatchSize, briefSeed)

	orbDescriptors := make([]Descriptor, 0)
	orbPoints := make(KeyPoints, 0)
	for i, currentImage := range pyramid.Images {
		fastKps := NewFASTKeypointsFromImage(currentImage, cfg.FastConf)
		fastKps = FilterBorderKeypoints(currentImage, fastKps, cfg.BRIEFConf)
		descs := ComputeBRIEFDescriptors(currentImage, samplePairs, fastKps, cfg.BRIEFConf)
		orbDescriptors = append(orbDescriptors, descs...)
		orbPoints = append(orbPoints, RescaleKeypoints(fastKps.Points, pyramid.Scales[i])...)
	}
	return orbDescriptors, orbPoints, nil
}
