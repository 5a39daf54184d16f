// Package inject provides function-field fakes whose methods call the injected function when it
// is set and the embedded implementation otherwise.
package inject

import (
	"context"
	"time"

	"go.viam.com/stereo/components/camera/gige"
)

// Transport is an injected transport.
type Transport struct {
	gige.Transport
	EnumerateFunc    func(ctx context.Context) ([]gige.DeviceInfo, error)
	CreateDeviceFunc func(info gige.DeviceInfo) (gige.Device, error)
}

// Enumerate calls the injected Enumerate or the real version.
func (t *Transport) Enumerate(ctx context.Context) ([]gige.DeviceInfo, error) {
	if t.EnumerateFunc == nil {
		return t.Transport.Enumerate(ctx)
	}
	return t.EnumerateFunc(ctx)
}

// CreateDevice calls the injected CreateDevice or the real version.
func (t *Transport) CreateDevice(info gige.DeviceInfo) (gige.Device, error) {
	if t.CreateDeviceFunc == nil {
		return t.Transport.CreateDevice(info)
	}
	return t.CreateDeviceFunc(info)
}

// Device is an injected camera device.
type Device struct {
	gige.Device
	OpenFunc           func(ctx context.Context) error
	IsOpenFunc         func() bool
	CloseFunc          func() error
	SetParameterFunc   func(name, value string) error
	IsGrabbingFunc     func() bool
	StopGrabbingFunc   func() error
	GrabOneFunc        func(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error)
	RetrieveResultFunc func(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error)
}

// Open calls the injected Open or the real version.
func (d *Device) Open(ctx context.Context) error {
	if d.OpenFunc == nil {
		return d.Device.Open(ctx)
	}
	return d.OpenFunc(ctx)
}

// IsOpen calls the injected IsOpen or the real version.
func (d *Device) IsOpen() bool {
	if d.IsOpenFunc == nil {
		return d.Device.IsOpen()
	}
	return d.IsOpenFunc()
}

// Close calls the injected Close or the real version.
func (d *Device) Close() error {
	if d.CloseFunc == nil {
		return d.Device.Close()
	}
	return d.CloseFunc()
}

// SetParameter calls the injected SetParameter or the real version.
func (d *Device) SetParameter(name, value string) error {
	if d.SetParameterFunc == nil {
		return d.Device.SetParameter(name, value)
	}
	return d.SetParameterFunc(name, value)
}

// IsGrabbing calls the injected IsGrabbing or the real version.
func (d *Device) IsGrabbing() bool {
	if d.IsGrabbingFunc == nil {
		return d.Device.IsGrabbing()
	}
	return d.IsGrabbingFunc()
}

// StopGrabbing calls the injected StopGrabbing or the real version.
func (d *Device) StopGrabbing() error {
	if d.StopGrabbingFunc == nil {
		return d.Device.StopGrabbing()
	}
	return d.StopGrabbingFunc()
}

// GrabOne calls the injected GrabOne or the real version.
func (d *Device) GrabOne(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	if d.GrabOneFunc == nil {
		return d.Device.GrabOne(ctx, timeout)
	}
	return d.GrabOneFunc(ctx, timeout)
}

// RetrieveResult calls the injected RetrieveResult or the real version.
func (d *Device) RetrieveResult(ctx context.Context, timeout time.Duration) (*gige.GrabResult, error) {
	if d.RetrieveResultFunc == nil {
		return d.Device.RetrieveResult(ctx, timeout)
	}
	return d.RetrieveResultFunc(ctx, timeout)
}
