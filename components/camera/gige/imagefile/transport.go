// Package imagefile implements a transport whose cameras replay images from disk, so the stereo
// pipeline can run on previously captured pairs.
package imagefile

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/rimage"
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true, ".ppm": true}

// Source names the images one camera replays.
type Source struct {
	Name string `json:"name"`
	// Path is an image file, or a directory whose images are replayed in name order.
	Path string `json:"path"`
}

// Transport enumerates one replay camera per source.
type Transport struct {
	devices []*Device
}

// NewTransport resolves the image files of every source.
func NewTransport(sources ...Source) (*Transport, error) {
	t := &Transport{}
	for i, src := range sources {
		files, err := listImages(src.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "camera %q", src.Name)
		}
		t.devices = append(t.devices, &Device{
			info: gige.DeviceInfo{
				Index:           i,
				DeviceClass:     "ImageFile",
				SerialNumber:    "FILE-" + src.Name,
				ModelName:       "Image replay",
				VendorName:      "none",
				FriendlyName:    src.Path,
				UserDefinedName: src.Name,
			},
			files: files,
		})
	}
	return t, nil
}

func listImages(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no images in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// Enumerate lists one camera per source.
func (t *Transport) Enumerate(ctx context.Context) ([]gige.DeviceInfo, error) {
	infos := make([]gige.DeviceInfo, 0, len(t.devices))
	for _, d := range t.devices {
		infos = append(infos, d.info)
	}
	return infos, nil
}

// CreateDevice returns the replay camera with the serial number of info.
func (t *Transport) CreateDevice(info gige.DeviceInfo) (gige.Device, error) {
	for _, d := range t.devices {
		if d.info.SerialNumber == info.SerialNumber {
			return d, nil
		}
	}
	return nil, errors.Errorf("no device with serial number %q", info.SerialNumber)
}

// Device replays image files in a loop. It has no parameters.
type Device struct {
	mu       sync.Mutex
	info     gige.DeviceInfo
	files    []string
	next     int
	open     bool
	grabbing bool
	blockID  uint64
}

// Info returns the identity of the device.
func (d *Device) Info() gige.DeviceInfo { return d.info }

// SetMaxNumBuffer does nothing.
func (d *Device) SetMaxNumBuffer(n int) error { return nil }

// Open opens the device.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Close closes the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open, d.grabbing = false, false
	return nil
}

// Supports always reports false.
func (d *Device) Supports(name string) bool { return false }

// IsWritable always reports false.
func (d *Device) IsWritable(name string) bool { return false }

// GetParameter fails for every name.
func (d *Device) GetParameter(name string) (string, error) {
	return "", errors.Wrap(gige.ErrParameterNotFound, name)
}

// SetParameter fails for every name.
func (d *Device) SetParameter(name, value string) error {
	return errors.Wrap(gige.ErrParameterNotFound, name)
}

// Symbolics fails for every name.
func (d *Device) Symbolics(name string) ([]string, error) {
	return nil, errors.Wrap(gige.ErrParameterNotFound, name)
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

// GrabOne returns the next image.
func (d *Device) GrabOne(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	return d.read()
}

// RetrieveResult returns the next image.
func (d *Device) RetrieveResult(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	return d.read()
}

func (d *Device) read() (*gige.GrabResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, gige.ErrNotOpen
	}
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, errors.Wrap(gige.ErrGrabFailed, err.Error())
	}
	data, err := gige.EncodePixels(img, gige.RGB8)
	if err != nil {
		return nil, errors.Wrap(gige.ErrGrabFailed, err.Error())
	}
	d.blockID++
	b := img.Bounds()
	return gige.NewGrabResult(data, b.Dx(), b.Dy(), gige.RGB8, d.blockID, nil), nil
}
