// Package fake implements an in-memory GigE transport whose cameras look at a synthetic stereo
// scene. Parameters, access modes and failures are scriptable so the capture path can be driven
// without hardware.
package fake

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/rimage"
)

// Scene is the textured plane both cameras of a fake rig observe.
type Scene struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	// Disparity is the horizontal shift, in pixels, of the right view relative to the left.
	Disparity int `json:"disparity"`
	// VerticalOffset moves the right view down by this many pixels to simulate misaligned mounts.
	VerticalOffset float64 `json:"vertical_offset"`
	BlockSize      int     `json:"block_size"`
	Seed           int64   `json:"seed"`
}

// DefaultScene returns a VGA scene at a disparity of 20 pixels.
func DefaultScene() Scene {
	return Scene{Width: 640, Height: 480, Disparity: 20, BlockSize: 4, Seed: 1}
}

// Views renders the left and right images of the scene.
func (s Scene) Views() (left, right image.Image) {
	l := rimage.RandomDotTexture(s.Width, s.Height, s.BlockSize, s.Seed)
	fill := rimage.RandomDotTexture(s.Width, s.Height, s.BlockSize, s.Seed+1000)
	var r image.Image = rimage.ShiftHorizontal(l, fill, -s.Disparity)
	if s.VerticalOffset != 0 {
		r = rimage.TranslateVertical(r, s.VerticalOffset)
	}
	return l, r
}

// Transport serves a fixed set of fake cameras.
type Transport struct {
	mu           sync.Mutex
	devices      []*Device
	enumerateErr error
}

// NewTransport returns a transport that enumerates the given devices in order.
func NewTransport(devices ...*Device) *Transport {
	for i, d := range devices {
		d.info.Index = i
	}
	return &Transport{devices: devices}
}

// NewStereoTransport returns a transport with a left camera at 192.168.1.10 and a right camera
// at 192.168.1.11 observing the scene.
func NewStereoTransport(scene Scene) *Transport {
	return NewStereoTransportAt(scene, "192.168.1.10", "192.168.1.11")
}

// NewStereoTransportAt is NewStereoTransport with the given camera addresses.
func NewStereoTransportAt(scene Scene, leftIP, rightIP string) *Transport {
	left, right := scene.Views()
	return NewTransport(
		NewDevice(newInfo("left", leftIP, "00:30:53:00:00:0a"), left),
		NewDevice(newInfo("right", rightIP, "00:30:53:00:00:0b"), right),
	)
}

func newInfo(name, ip, mac string) gige.DeviceInfo {
	return gige.DeviceInfo{
		DeviceClass:     "BaslerGigE",
		SerialNumber:    "FAKE-" + name,
		ModelName:       "Fake acA640-90gc",
		VendorName:      "Fake",
		DeviceVersion:   "1.0",
		IPAddress:       ip,
		MACAddress:      mac,
		FriendlyName:    fmt.Sprintf("Fake (%s)", name),
		UserDefinedName: name,
	}
}

// Devices returns the devices of the transport.
func (t *Transport) Devices() []*Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Device(nil), t.devices...)
}

// FailEnumerate makes Enumerate fail with err until it is called with nil.
func (t *Transport) FailEnumerate(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enumerateErr = err
}

// Enumerate lists the fake cameras.
func (t *Transport) Enumerate(ctx context.Context) ([]gige.DeviceInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enumerateErr != nil {
		return nil, t.enumerateErr
	}
	infos := make([]gige.DeviceInfo, 0, len(t.devices))
	for _, d := range t.devices {
		infos = append(infos, d.Info())
	}
	return infos, nil
}

// CreateDevice returns the fake camera with the serial number of info.
func (t *Transport) CreateDevice(info gige.DeviceInfo) (gige.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.devices {
		if d.info.SerialNumber == info.SerialNumber {
			return d, nil
		}
	}
	return nil, errors.Errorf("no device with serial number %q", info.SerialNumber)
}
