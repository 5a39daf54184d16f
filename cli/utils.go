package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/gige/fake"
	"go.viam.com/stereo/components/camera/gige/imagefile"
	"go.viam.com/stereo/components/camera/stereo"
	"go.viam.com/stereo/config"
	"go.viam.com/stereo/logging"
	vstereo "go.viam.com/stereo/vision/stereo"
)

// printf prints a message with no decoration.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

// session holds what every command needs: the resolved configuration and a logger.
type session struct {
	cfg     *config.Config
	logger  logging.Logger
	closers []func() error
}

func newSession(c *cli.Context) (*session, error) {
	s := &session{}
	if c.Bool(debugFlag) {
		s.logger = logging.NewDebugLogger("stereo")
	} else {
		s.logger = logging.NewLogger("stereo")
	}
	if path := c.String(logFileFlag); path != "" {
		fa, err := logging.NewFileAppender(logging.FileAppenderConfig{Filename: path})
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		s.logger.AddAppender(fa)
		s.closers = append(s.closers, fa.Close)
	}

	cfg, err := loadConfig(c, s.logger)
	if err != nil {
		return nil, multierr.Combine(err, s.Close())
	}
	s.cfg = cfg
	return s, nil
}

// loadConfig reads the --config file, or uses a fake rig of two cameras picked by index, then
// applies the command line overrides.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String(configFlag); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		left, right := 0, 1
		cfg.Cameras = []config.Camera{{Name: "left", Index: &left}, {Name: "right", Index: &right}}
	}
	if backend := c.String(backendFlag); backend != "" {
		cfg.Backend = config.Backend(backend)
	}
	if dir := c.String(outputDirFlag); dir != "" {
		cfg.OutputDir = dir
	}
	if c.Bool(debugFlag) {
		cfg.DebugOutputs = true
	}
	if algorithm := vstereo.Algorithm(c.String(algorithmFlag)); algorithm != "" && algorithm != cfg.Disparity.Algorithm {
		switch algorithm {
		case vstereo.SemiGlobal:
			cfg.Disparity = vstereo.DefaultSemiGlobalConfig()
		default:
			cfg.Disparity = vstereo.DefaultDisparityConfig()
			cfg.Disparity.Algorithm = algorithm
		}
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *session) Close() error {
	var err error
	for _, closer := range s.closers {
		err = multierr.Combine(err, closer())
	}
	return err
}

// transport builds the camera backend named by the configuration.
func (s *session) transport() (gige.Transport, error) {
	left, right := s.cfg.Cameras[0], s.cfg.Cameras[1]
	switch s.cfg.Backend {
	case config.BackendImageFile:
		t, err := imagefile.NewTransport(
			imagefile.Source{Name: left.Name, Path: left.Image},
			imagefile.Source{Name: right.Name, Path: right.Image},
		)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		leftIP, rightIP := left.IPAddress, right.IPAddress
		if leftIP == "" {
			leftIP = "192.168.1.10"
		}
		if rightIP == "" {
			rightIP = "192.168.1.11"
		}
		return fake.NewStereoTransportAt(*s.cfg.Scene, leftIP, rightIP), nil
	}
}

// engineConfigs returns the per-camera engine settings for the configured backend.
func (s *session) engineConfigs() (left, right gige.EngineConfig) {
	left, right = s.cfg.EngineConfigs()
	if s.cfg.Backend == config.BackendImageFile {
		// replay cameras have no address and enumerate in source order
		left.IPAddress, left.Index = "", 0
		right.IPAddress, right.Index = "", 1
	}
	return left, right
}

// openRig builds and opens the stereo rig. The caller must close it.
func (s *session) openRig(ctx context.Context) (*stereo.Rig, error) {
	transport, err := s.transport()
	if err != nil {
		return nil, err
	}
	left, right := s.engineConfigs()
	rig := stereo.NewRig(transport, left, right, s.cfg.CaptureOptions(), nil, s.logger)
	if err := rig.Open(ctx); err != nil {
		return nil, err
	}
	return rig, nil
}
