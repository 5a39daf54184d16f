// Package config reads the JSON description of a stereo rig: its cameras, the capture policy and
// the processing settings.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/gige/fake"
	"go.viam.com/stereo/components/camera/stereo"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/vision/keypoints"
	vstereo "go.viam.com/stereo/vision/stereo"
)

// Backend selects the camera transport.
type Backend string

// Supported backends.
const (
	BackendFake      Backend = "fake"
	BackendImageFile Backend = "imagefile"
)

// Camera describes one camera of the rig.
type Camera struct {
	Name string `json:"name"`
	// IPAddress selects the camera by address. Index is used when it is empty.
	IPAddress string `json:"ip_address,omitempty"`
	Index     *int   `json:"index,omitempty"`
	// Parameters overrides device parameters by name, for example {"ExposureTimeAbs": "20000"}.
	Parameters map[string]string `json:"parameters,omitempty"`
	// Image is the file or directory replayed by the imagefile backend.
	Image string `json:"image,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Camera) Validate(path string) error {
	if c.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if c.Index != nil && *c.Index < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("index must be non-negative, got %d", *c.Index))
	}
	return nil
}

// Capture is the frame capture policy.
type Capture struct {
	TimeoutMs       int `json:"timeout_ms"`
	MaxRetries      int `json:"max_retries"`
	RetryDelayMs    int `json:"retry_delay_ms"`
	MaxRetryDelayMs int `json:"max_retry_delay_ms"`
	MaxNumBuffer    int `json:"max_num_buffer"`
	// FrameTransmissionStep staggers the cameras' GevSCFTD by this many ticks each.
	FrameTransmissionStep int    `json:"frame_transmission_step"`
	Output                string `json:"output"`
}

// Validate ensures all parts of the config are valid.
func (c *Capture) Validate(path string) error {
	if c.TimeoutMs <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("timeout_ms must be positive"))
	}
	if c.MaxRetries < 0 || c.RetryDelayMs < 0 || c.MaxRetryDelayMs < 0 {
		return goutils.NewConfigValidationError(path, errors.New("retry settings must be non-negative"))
	}
	if c.Output != "color" && c.Output != "mono" {
		return goutils.NewConfigValidationError(path, errors.Errorf(`output must be "color" or "mono", got %q`, c.Output))
	}
	return nil
}

// Config is the whole rig configuration.
type Config struct {
	// Cameras lists the left camera first, then the right one.
	Cameras      []Camera                    `json:"cameras"`
	Backend      Backend                     `json:"backend"`
	Scene        *fake.Scene                 `json:"scene,omitempty"`
	Transport    gige.TransportSettings      `json:"transport"`
	Capture      Capture                     `json:"capture"`
	Alignment    *vstereo.AlignmentConfig    `json:"alignment"`
	Disparity    *vstereo.DisparityConfig    `json:"-"`
	Reprojection *vstereo.ReprojectionConfig `json:"reprojection"`
	OutputDir    string                      `json:"output_dir"`
	// DebugOutputs adds feature and match plots to each pair's outputs.
	DebugOutputs bool `json:"debug_outputs"`
}

// Default returns the configuration used for any field a file leaves out.
func Default() *Config {
	scene := fake.DefaultScene()
	return &Config{
		Backend:   BackendFake,
		Scene:     &scene,
		Transport: gige.DefaultTransportSettings(),
		Capture: Capture{
			TimeoutMs:             5000,
			MaxRetries:            3,
			RetryDelayMs:          100,
			MaxRetryDelayMs:       1000,
			MaxNumBuffer:          15,
			FrameTransmissionStep: 1000,
			Output:                "color",
		},
		Alignment:    vstereo.DefaultAlignmentConfig(),
		Disparity:    vstereo.DefaultDisparityConfig(),
		Reprojection: vstereo.DefaultReprojectionConfig(),
		OutputDir:    "output",
	}
}

// Read reads a config from the given file, substituting ${VAR} references from the environment.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	cfg, err := fromReader(bytes.NewReader(buf), filepath.Dir(filePath))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filePath)
	}
	logger.Debugw("read config", "path", filePath, "cameras", len(cfg.Cameras), "backend", cfg.Backend)
	return cfg, nil
}

// FromReader decodes and validates a config. Missing fields keep their defaults. A relative
// alignment features_file is resolved against the working directory.
func FromReader(r io.Reader) (*Config, error) {
	return fromReader(r, "")
}

func fromReader(r io.Reader, baseDir string) (*Config, error) {
	var raw struct {
		Disparity json.RawMessage `json:"disparity"`
		// older files name the two cameras by address only
		Camera1 string `json:"camera1"`
		Camera2 string `json:"camera2"`
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if len(cfg.Cameras) == 0 && raw.Camera1 != "" && raw.Camera2 != "" {
		cfg.Cameras = []Camera{{Name: "camera1", IPAddress: raw.Camera1}, {Name: "camera2", IPAddress: raw.Camera2}}
	}
	defaults := Default()
	if cfg.Scene == nil {
		cfg.Scene = defaults.Scene
	}
	if cfg.Alignment == nil {
		cfg.Alignment = defaults.Alignment
	}
	if cfg.Reprojection == nil {
		cfg.Reprojection = defaults.Reprojection
	}
	if file := cfg.Alignment.FeaturesFile; file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(baseDir, file)
		}
		features, err := keypoints.LoadORBConfiguration(file)
		if err != nil {
			return nil, errors.Wrap(err, "loading alignment features")
		}
		cfg.Alignment.Features = features
	}
	if len(raw.Disparity) > 0 && string(raw.Disparity) != "null" {
		disparity, err := decodeDisparity(raw.Disparity)
		if err != nil {
			return nil, err
		}
		cfg.Disparity = disparity
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeDisparity starts from the defaults of the chosen algorithm so that a file only naming
// the algorithm gets settings suited to it.
func decodeDisparity(data json.RawMessage) (*vstereo.DisparityConfig, error) {
	var head struct {
		Algorithm vstereo.Algorithm `json:"algorithm"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "cannot parse disparity config")
	}
	cfg := vstereo.DefaultDisparityConfig()
	if head.Algorithm == vstereo.SemiGlobal {
		cfg = vstereo.DefaultSemiGlobalConfig()
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse disparity config")
	}
	return cfg, nil
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if path == "" {
		path = "config"
	}
	if len(c.Cameras) != 2 {
		return goutils.NewConfigValidationError(path+".cameras", errors.Errorf("a stereo rig needs 2 cameras, got %d", len(c.Cameras)))
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		camPath := path + ".cameras." + strconv.Itoa(i)
		if err := cam.Validate(camPath); err != nil {
			return err
		}
		if c.Backend == BackendImageFile && cam.Image == "" {
			return goutils.NewConfigValidationFieldRequiredError(camPath, "image")
		}
	}
	if c.Cameras[0].Name == c.Cameras[1].Name {
		return goutils.NewConfigValidationError(path+".cameras", errors.Errorf("camera names must differ, both are %q", c.Cameras[0].Name))
	}
	switch c.Backend {
	case BackendFake, BackendImageFile:
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown backend %q", c.Backend))
	}
	if err := c.Capture.Validate(path + ".capture"); err != nil {
		return err
	}
	if err := c.Alignment.Validate(path + ".alignment"); err != nil {
		return err
	}
	if err := c.Disparity.Validate(path + ".disparity"); err != nil {
		return err
	}
	return c.Reprojection.Validate(path + ".reprojection")
}

// EngineConfigs returns the engine configuration of the left and right cameras. Their frame
// transmission is staggered unless a camera sets GevSCFTD itself.
func (c *Config) EngineConfigs() (left, right gige.EngineConfig) {
	out := make([]gige.EngineConfig, 2)
	for i, cam := range c.Cameras {
		index := i
		if cam.Index != nil {
			index = *cam.Index
		}
		ec := gige.DefaultEngineConfig(cam.Name, index)
		ec.IPAddress = cam.IPAddress
		ec.MaxNumBuffer = c.Capture.MaxNumBuffer
		ec.Settings = gige.DefaultSettings(c.Transport)
		ec.RetryDelay = time.Duration(c.Capture.RetryDelayMs) * time.Millisecond
		ec.MaxRetryDelay = time.Duration(c.Capture.MaxRetryDelayMs) * time.Millisecond
		if c.Capture.Output == "mono" {
			ec.Output = gige.OutputMono
		}
		out[i] = ec
	}
	stereo.StaggerTransmission(c.Capture.FrameTransmissionStep, &out[0], &out[1])
	for i, cam := range c.Cameras {
		out[i].Settings = gige.WithOverrides(out[i].Settings, cam.Parameters)
	}
	return out[0], out[1]
}

// CaptureOptions returns the per-frame capture bounds.
func (c *Config) CaptureOptions() stereo.CaptureOptions {
	return stereo.CaptureOptions{
		Timeout:    time.Duration(c.Capture.TimeoutMs) * time.Millisecond,
		MaxRetries: c.Capture.MaxRetries,
	}
}
