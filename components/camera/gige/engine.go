package gige

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/utils"
)

// State is the acquisition state of an Engine.
type State int

// Engine states.
const (
	StateClosed State = iota
	StateOpen
	StateGrabbing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateGrabbing:
		return "grabbing"
	default:
		return "unknown"
	}
}

// Frame is a captured image. The caller owns it.
type Frame struct {
	Image     image.Image
	Camera    string
	Timestamp time.Time
	Sequence  uint64
	// Attempts is the number of grabs it took to capture the frame.
	Attempts int
}

// EngineConfig selects and tunes one camera.
type EngineConfig struct {
	Name string
	// IPAddress selects the camera by address. When empty, Index selects among all enumerated
	// cameras.
	IPAddress string
	Index     int
	// MaxNumBuffer is the number of transport buffers requested before open.
	MaxNumBuffer int
	Settings     []Setting
	Output       OutputFormat

	// RetryDelay is the base of the escalating pause between grab attempts, capped at
	// MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultEngineConfig returns the configuration for the camera at the given enumeration index.
func DefaultEngineConfig(name string, index int) EngineConfig {
	return EngineConfig{
		Name:          name,
		Index:         index,
		MaxNumBuffer:  15,
		Settings:      DefaultSettings(DefaultTransportSettings()),
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: time.Second,
	}
}

// CameraInfo is the identity a camera reports about itself once open.
type CameraInfo struct {
	VendorName   string `json:"vendor_name"`
	ModelName    string `json:"model_name"`
	SerialNumber string `json:"serial_number"`
	Version      string `json:"version"`
	IPAddress    string `json:"ip_address"`
}

// Engine owns one camera's session and acquisition state. Frames are captured with single-shot
// grabs and bounded retries.
type Engine struct {
	mu sync.Mutex

	cfg          EngineConfig
	transport    Transport
	configurator *Configurator
	clock        clock.Clock
	logger       logging.Logger

	device    Device
	info      DeviceInfo
	converter *Converter
	report    *Report
	state     State
	sequence  uint64
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used to timestamp frames.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithConfigurator replaces the default parameter configurator.
func WithConfigurator(c *Configurator) EngineOption {
	return func(e *Engine) { e.configurator = c }
}

// NewEngine returns a closed engine. Call Initialize to open the camera.
func NewEngine(transport Transport, cfg EngineConfig, logger logging.Logger, opts ...EngineOption) *Engine {
	if cfg.Name == "" {
		cfg.Name = "camera"
	}
	logger = logger.Sublogger(cfg.Name).WithFields("camera", cfg.Name)
	e := &Engine{
		cfg:          cfg,
		transport:    transport,
		configurator: NewConfigurator(logger),
		clock:        clock.New(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the camera name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// State returns the current acquisition state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Report returns the outcome of the parameter configuration done at open, or nil.
func (e *Engine) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// Initialize finds and opens the camera, stops any stale acquisition, configures it and installs
// the pixel converter. Calling it on an open engine does nothing.
func (e *Engine) Initialize(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "gige::engine::Initialize")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateClosed {
		return nil
	}

	info, err := e.selectDevice(ctx)
	if err != nil {
		return err
	}
	dev, err := e.transport.CreateDevice(info)
	if err != nil {
		return errors.Wrapf(ErrDeviceOpenFailed, "camera %q (%s): %v", e.cfg.Name, info, err)
	}
	if e.cfg.MaxNumBuffer > 0 {
		if err := dev.SetMaxNumBuffer(e.cfg.MaxNumBuffer); err != nil {
			e.logger.CDebugw(ctx, "could not set buffer count", "max_num_buffer", e.cfg.MaxNumBuffer, "error", err)
		}
	}
	if err := dev.Open(ctx); err != nil {
		return errors.Wrapf(ErrDeviceOpenFailed, "camera %q (%s): %v", e.cfg.Name, info, err)
	}
	if dev.IsGrabbing() {
		e.logger.CInfow(ctx, "stopping stale acquisition")
		if err := dev.StopGrabbing(); err != nil {
			e.logger.CWarnw(ctx, "could not stop stale acquisition", "error", err)
		}
	}

	e.report = e.configurator.Apply(ctx, dev, e.cfg.Settings)
	e.device = dev
	e.info = info
	e.converter = NewConverter(e.cfg.Output)
	e.state = StateOpen
	e.logger.CInfow(ctx, "camera initialized", "device", info.String())
	return nil
}

func (e *Engine) selectDevice(ctx context.Context) (DeviceInfo, error) {
	infos, err := e.transport.Enumerate(ctx)
	if err != nil {
		return DeviceInfo{}, errors.Wrapf(ErrDeviceNotFound, "enumerating cameras: %v", err)
	}
	for _, info := range infos {
		e.logger.CDebugw(ctx, "found camera", "index", info.Index, "device", info.String())
	}
	if e.cfg.IPAddress != "" {
		for _, info := range infos {
			if info.IPAddress == e.cfg.IPAddress {
				return info, nil
			}
		}
		return DeviceInfo{}, errors.Wrapf(ErrDeviceNotFound, "no camera at IP %s", e.cfg.IPAddress)
	}
	if len(infos) == 0 {
		return DeviceInfo{}, errors.Wrap(ErrDeviceNotFound, "no cameras on the network")
	}
	if e.cfg.Index < 0 || e.cfg.Index >= len(infos) {
		return DeviceInfo{}, errors.Wrapf(ErrDeviceNotFound, "camera index %d out of range, found %d camera(s)", e.cfg.Index, len(infos))
	}
	return infos[e.cfg.Index], nil
}

// CaptureFrame grabs one frame, stopping continuous grabbing first if it is active. A failed grab
// is retried up to maxRetries times after an escalating delay, so at most maxRetries+1 grabs are
// issued. The returned error is a *GrabError once retries are exhausted.
func (e *Engine) CaptureFrame(ctx context.Context, timeout time.Duration, maxRetries int) (*Frame, error) {
	ctx, span := trace.StartSpan(ctx, "gige::engine::CaptureFrame")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil, errors.Wrapf(ErrNotOpen, "camera %q", e.cfg.Name)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	var lastCode uint32
	var lastDesc string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := utils.EscalatingDelay(attempt, e.cfg.RetryDelay, e.cfg.MaxRetryDelay)
			if !goutils.SelectContextOrWait(ctx, delay) {
				return nil, ctx.Err()
			}
		}
		if e.state == StateGrabbing || e.device.IsGrabbing() {
			e.stopGrabbingLocked(ctx)
		}

		img, code, desc, err := e.grabLocked(ctx, func() (*GrabResult, error) { return e.device.GrabOne(ctx, timeout) })
		if err == nil {
			if attempt > 0 {
				e.logger.CDebugw(ctx, "frame capture succeeded on retry", "retry", attempt)
			}
			return e.newFrameLocked(img, attempt+1), nil
		}
		lastErr, lastCode, lastDesc = err, code, desc
		if attempt < maxRetries {
			e.logger.CDebugw(ctx, "frame grab failed, retrying", "attempt", attempt+1, "error", err)
		}
	}
	grabErr := &GrabError{Camera: e.cfg.Name, Code: lastCode, Description: lastDesc, Attempts: maxRetries + 1, Err: lastErr}
	e.logger.CErrorw(ctx, "frame capture failed after all retries", "attempts", grabErr.Attempts, "error", lastErr)
	return nil, grabErr
}

// CaptureFrameContinuous starts continuous grabbing if needed and returns the latest frame. It
// is meant for single camera streaming: on a shared link, continuous grabbing on several cameras
// at once causes busy and removed device failures.
func (e *Engine) CaptureFrameContinuous(ctx context.Context, timeout time.Duration) (*Frame, error) {
	ctx, span := trace.StartSpan(ctx, "gige::engine::CaptureFrameContinuous")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil, errors.Wrapf(ErrNotOpen, "camera %q", e.cfg.Name)
	}
	if e.state != StateGrabbing {
		if err := e.device.StartGrabbing(GrabLatestImageOnly); err != nil {
			return nil, &GrabError{Camera: e.cfg.Name, Attempts: 1, Err: asGrabFailure(errors.Wrap(err, "starting acquisition"))}
		}
		e.state = StateGrabbing
		e.logger.CInfow(ctx, "started grabbing")
	}
	img, code, desc, err := e.grabLocked(ctx, func() (*GrabResult, error) { return e.device.RetrieveResult(ctx, timeout) })
	if err != nil {
		e.logger.CErrorw(ctx, "continuous grab failed", "error", err)
		return nil, &GrabError{Camera: e.cfg.Name, Code: code, Description: desc, Attempts: 1, Err: err}
	}
	return e.newFrameLocked(img, 1), nil
}

// grabLocked runs one grab, converts the result and releases the transport buffer on every path.
func (e *Engine) grabLocked(ctx context.Context, grab func() (*GrabResult, error)) (image.Image, uint32, string, error) {
	res, err := grab()
	if err != nil {
		return nil, 0, "", asGrabFailure(err)
	}
	defer res.Release()
	if !res.Succeeded {
		return nil, res.ErrorCode, res.ErrorDescription, errors.Wrapf(ErrGrabFailed, "error 0x%X: %s", res.ErrorCode, res.ErrorDescription)
	}
	img, err := e.converter.Convert(res)
	if err != nil {
		return nil, 0, "", errors.Wrap(ErrGrabFailed, err.Error())
	}
	return img, 0, "", nil
}

func (e *Engine) newFrameLocked(img image.Image, attempts int) *Frame {
	e.sequence++
	return &Frame{
		Image:     img,
		Camera:    e.cfg.Name,
		Timestamp: e.clock.Now(),
		Sequence:  e.sequence,
		Attempts:  attempts,
	}
}

func (e *Engine) stopGrabbingLocked(ctx context.Context) {
	if err := e.device.StopGrabbing(); err != nil {
		e.logger.CWarnw(ctx, "failed to stop grabbing", "error", err)
	} else {
		e.logger.CDebugw(ctx, "stopped grabbing")
	}
	e.state = StateOpen
}

// Info returns the identity reported by the open camera, falling back to enumeration data for
// values it cannot read.
func (e *Engine) Info() (CameraInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return CameraInfo{}, errors.Wrapf(ErrNotOpen, "camera %q", e.cfg.Name)
	}
	read := func(name, fallback string) string {
		if v, err := e.device.GetParameter(name); err == nil && v != "" {
			return v
		}
		return fallback
	}
	return CameraInfo{
		VendorName:   read("DeviceVendorName", e.info.VendorName),
		ModelName:    read("DeviceModelName", e.info.ModelName),
		SerialNumber: read("DeviceSerialNumber", e.info.SerialNumber),
		Version:      read("DeviceVersion", e.info.DeviceVersion),
		IPAddress:    e.info.IPAddress,
	}, nil
}

// Device returns the open device, or nil.
func (e *Engine) Device() Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// IsConnected reports whether the camera is open and reachable.
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device != nil && e.device.IsOpen()
}

// Close stops grabbing and closes the camera. The engine is reset to closed even when teardown
// fails, and the teardown errors are returned for logging. It is safe to call repeatedly and
// after a failed Initialize.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device == nil {
		e.state = StateClosed
		return nil
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = multierr.Combine(err, errors.Errorf("panic during close: %v", r))
			}
		}()
		if e.state == StateGrabbing || e.device.IsGrabbing() {
			err = multierr.Combine(err, errors.Wrap(e.device.StopGrabbing(), "stopping acquisition"))
		}
		if e.device.IsOpen() {
			err = multierr.Combine(err, errors.Wrap(e.device.Close(), "closing device"))
		}
	}()

	e.device = nil
	e.converter = nil
	e.state = StateClosed
	if err != nil {
		e.logger.CWarnw(ctx, "errors closing camera", "error", err)
	} else {
		e.logger.CInfow(ctx, "camera closed")
	}
	return err
}
