package fake

import (
	"context"
	"image"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereo/components/camera/gige"
)

// Param is one simulated camera parameter.
type Param struct {
	Value    string
	Writable bool
	// Symbolics, when set, makes the parameter an enumeration restricted to these entries.
	Symbolics []string
	// Busy is the number of upcoming writes rejected as busy.
	Busy int
	// Range, when set, is reported by ParameterRange.
	Range *gige.ParameterRange
}

// Faults scripts failures of a device. Counters are consumed as the failures happen.
type Faults struct {
	OpenErr error
	// FailedGrabs is the number of upcoming grabs that produce a failed result.
	FailedGrabs int
	// TimeoutGrabs is the number of upcoming grabs that time out.
	TimeoutGrabs int
}

// Error code and description reported for scripted failed grabs.
const (
	IncompleteFrameCode        = 0xE1000014
	IncompleteFrameDescription = "The buffer was incompletely grabbed"
)

// parameters a camera refuses to change while streaming.
var lockedWhileGrabbing = map[string]bool{
	"PixelFormat":       true,
	"GevSCPSPacketSize": true,
	"Width":             true,
	"Height":            true,
}

// Device is a fake camera. It implements gige.Device.
type Device struct {
	mu sync.Mutex

	info       gige.DeviceInfo
	image      image.Image
	params     map[string]*Param
	faults     Faults
	open       bool
	grabbing   bool
	maxBuffers int

	outstanding int
	blockID     uint64
	grabs       int
	writes      []string
}

// NewDevice returns a closed fake camera producing img, with the parameter set of an older GigE
// model: exposure and gain are only available through their Abs and Raw variants.
func NewDevice(info gige.DeviceInfo, img image.Image) *Device {
	b := img.Bounds()
	ro := func(v string) *Param { return &Param{Value: v} }
	rw := func(v string, symbolics ...string) *Param { return &Param{Value: v, Writable: true, Symbolics: symbolics} }
	return &Device{
		info:       info,
		image:      img,
		maxBuffers: 10,
		params: map[string]*Param{
			"DeviceVendorName":           ro(info.VendorName),
			"DeviceModelName":            ro(info.ModelName),
			"DeviceSerialNumber":         ro(info.SerialNumber),
			"DeviceVersion":              ro(info.DeviceVersion),
			"Width":                      ro(strconv.Itoa(b.Dx())),
			"Height":                     ro(strconv.Itoa(b.Dy())),
			"GevSCPSPacketSize":          ranged(rw("1500"), "220", "16404", "4"),
			"GevSCPD":                    ranged(rw("0"), "0", "65535", "1"),
			"GevSCFTD":                   ranged(rw("0"), "0", "65535", "1"),
			"GevHeartbeatTimeout":        ranged(rw("3000"), "500", "4294967295", "1"),
			"AcquisitionMode":            rw("SingleFrame", "SingleFrame", "MultiFrame", "Continuous"),
			"TriggerMode":                rw("On", "On", "Off"),
			"PixelFormat":                rw(string(gige.Mono8), string(gige.Mono8), string(gige.BayerRG8)),
			"ExposureTimeAbs":            ranged(rw("5000"), "35", "10000000", "35"),
			"GainRaw":                    rw("0"),
			"AcquisitionFrameRateEnable": rw("false"),
			"AcquisitionFrameRateAbs":    rw("10"),
			"BalanceWhiteAuto":           rw("Off", "Off", "Once", "Continuous"),
		},
	}
}

func ranged(p *Param, lo, hi, inc string) *Param {
	p.Range = &gige.ParameterRange{Min: lo, Max: hi, Increment: inc}
	return p
}

// ParameterRange returns the range of a numeric parameter. It implements gige.RangedDevice.
func (d *Device) ParameterRange(name string) (gige.ParameterRange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[name]
	if !ok || p.Range == nil {
		return gige.ParameterRange{}, false
	}
	return *p.Range, true
}

// SetParam adds or replaces a parameter.
func (d *Device) SetParam(name string, p Param) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params[name] = &p
}

// RemoveParam makes the camera lack a parameter.
func (d *Device) RemoveParam(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.params, name)
}

// InjectFaults replaces the scripted failures.
func (d *Device) InjectFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// SetImage changes the image the camera produces.
func (d *Device) SetImage(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.image = img
}

// Grabs returns the number of grabs attempted so far.
func (d *Device) Grabs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabs
}

// Outstanding returns the number of grab results not yet released.
func (d *Device) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding
}

// Writes returns the accepted parameter writes as "name=value", in order.
func (d *Device) Writes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}

// Info returns the identity of the device.
func (d *Device) Info() gige.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// SetMaxNumBuffer sets the number of results that may be outstanding at once.
func (d *Device) SetMaxNumBuffer(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return errors.New("buffer count must be set before open")
	}
	if n < 1 {
		return errors.Errorf("invalid buffer count %d", n)
	}
	d.maxBuffers = n
	return nil
}

// Open opens the device unless an open failure is scripted.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.OpenErr != nil {
		return d.faults.OpenErr
	}
	d.open = true
	return nil
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close closes the device and stops grabbing.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.grabbing = false
	return nil
}

// Supports reports whether the parameter exists.
func (d *Device) Supports(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.params[name]
	return ok
}

// IsWritable reports whether the parameter can be written now.
func (d *Device) IsWritable(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[name]
	return ok && p.Writable && !(d.grabbing && lockedWhileGrabbing[name])
}

// GetParameter returns the current value of a parameter.
func (d *Device) GetParameter(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[name]
	if !ok {
		return "", errors.Wrap(gige.ErrParameterNotFound, name)
	}
	return p.Value, nil
}

// SetParameter writes a parameter, honoring scripted busy responses, access modes and
// enumeration entries.
func (d *Device) SetParameter(name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[name]
	if !ok {
		return errors.Wrap(gige.ErrParameterNotFound, name)
	}
	if p.Busy > 0 {
		p.Busy--
		return errors.Wrap(gige.ErrParameterBusy, name)
	}
	if !p.Writable || (d.grabbing && lockedWhileGrabbing[name]) {
		return errors.Wrap(gige.ErrParameterNotWritable, name)
	}
	if len(p.Symbolics) > 0 && !contains(p.Symbolics, value) {
		return errors.Errorf("%s: %q is not one of %v", name, value, p.Symbolics)
	}
	p.Value = value
	d.writes = append(d.writes, name+"="+value)
	return nil
}

// Symbolics lists the entries of an enumeration parameter.
func (d *Device) Symbolics(name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.params[name]
	if !ok {
		return nil, errors.Wrap(gige.ErrParameterNotFound, name)
	}
	if len(p.Symbolics) == 0 {
		return nil, errors.Errorf("%s is not an enumeration", name)
	}
	out := append([]string(nil), p.Symbolics...)
	sort.Strings(out)
	return out, nil
}

// IsGrabbing reports whether continuous grabbing is active.
func (d *Device) IsGrabbing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grabbing
}

// StartGrabbing starts continuous grabbing.
func (d *Device) StartGrabbing(strategy gige.GrabStrategy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return gige.ErrNotOpen
	}
	d.grabbing = true
	return nil
}

// StopGrabbing stops continuous grabbing.
func (d *Device) StopGrabbing() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbing = false
	return nil
}

// GrabOne acquires a single frame.
func (d *Device) GrabOne(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.grabbing {
		return nil, errors.Wrap(gige.ErrGrabFailed, "device is already grabbing")
	}
	return d.grabLocked(ctx)
}

// RetrieveResult returns the latest frame of continuous grabbing.
func (d *Device) RetrieveResult(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.grabbing {
		return nil, errors.Wrap(gige.ErrGrabFailed, "device is not grabbing")
	}
	return d.grabLocked(ctx)
}

func (d *Device) grabLocked(ctx context.Context) (*gige.GrabResult, error) {
	if !d.open {
		return nil, gige.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.grabs++
	if d.faults.TimeoutGrabs > 0 {
		d.faults.TimeoutGrabs--
		return nil, gige.ErrGrabTimeout
	}
	if d.outstanding >= d.maxBuffers {
		return nil, errors.Wrap(gige.ErrGrabFailed, "no free buffers")
	}
	d.outstanding++
	d.blockID++
	if d.faults.FailedGrabs > 0 {
		d.faults.FailedGrabs--
		return gige.NewFailedGrabResult(IncompleteFrameCode, IncompleteFrameDescription, d.release), nil
	}
	format := gige.Mono8
	if p, ok := d.params["PixelFormat"]; ok {
		format = gige.PixelFormat(p.Value)
	}
	data, err := gige.EncodePixels(d.image, format)
	if err != nil {
		d.outstanding--
		return nil, errors.Wrap(gige.ErrGrabFailed, err.Error())
	}
	b := d.image.Bounds()
	return gige.NewGrabResult(data, b.Dx(), b.Dy(), format, d.blockID, d.release), nil
}

func (d *Device) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outstanding--
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
