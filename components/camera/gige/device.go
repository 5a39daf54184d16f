// Package gige drives GigE Vision cameras through a transport capability: it tunes a camera's
// parameters at open time and captures single frames with bounded retries.
package gige

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DeviceInfo identifies an enumerated camera.
type DeviceInfo struct {
	Index           int    `json:"index"`
	DeviceClass     string `json:"device_class,omitempty"`
	SerialNumber    string `json:"serial_number"`
	ModelName       string `json:"model_name"`
	VendorName      string `json:"vendor_name"`
	DeviceVersion   string `json:"device_version,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	MACAddress      string `json:"mac_address,omitempty"`
	FriendlyName    string `json:"friendly_name,omitempty"`
	UserDefinedName string `json:"user_defined_name,omitempty"`
}

func (info DeviceInfo) String() string {
	ip := info.IPAddress
	if ip == "" {
		ip = "N/A"
	}
	return fmt.Sprintf("%s (S/N: %s, IP: %s)", info.ModelName, info.SerialNumber, ip)
}

// Transport enumerates and creates camera devices. Any GigE or USB3 Vision backend satisfying it
// can be used.
type Transport interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	// CreateDevice returns an unopened device for an enumerated camera.
	CreateDevice(info DeviceInfo) (Device, error)
}

// GrabStrategy controls the buffer queue of continuous grabbing.
type GrabStrategy int

const (
	// GrabOneByOne delivers frames in acquisition order.
	GrabOneByOne GrabStrategy = iota
	// GrabLatestImageOnly keeps only the newest frame.
	GrabLatestImageOnly
)

// Device is one camera session. It is driven from a single goroutine.
type Device interface {
	Info() DeviceInfo
	// SetMaxNumBuffer sets the number of transport buffers. It must be called before Open.
	SetMaxNumBuffer(n int) error
	Open(ctx context.Context) error
	IsOpen() bool
	Close() error

	// Supports reports whether the camera has the named parameter.
	Supports(name string) bool
	// IsWritable reports whether the named parameter can currently be written.
	IsWritable(name string) bool
	GetParameter(name string) (string, error)
	// SetParameter writes a value in its string form. Failures wrap ErrParameterNotFound,
	// ErrParameterNotWritable or ErrParameterBusy where they apply.
	SetParameter(name, value string) error
	// Symbolics lists the entries of an enumeration parameter.
	Symbolics(name string) ([]string, error)

	IsGrabbing() bool
	StartGrabbing(strategy GrabStrategy) error
	StopGrabbing() error
	// GrabOne acquires a single frame without continuous grabbing. It must not be called while
	// grabbing.
	GrabOne(ctx context.Context, timeout time.Duration) (*GrabResult, error)
	// RetrieveResult waits for the next frame of continuous grabbing.
	RetrieveResult(ctx context.Context, timeout time.Duration) (*GrabResult, error)
}

// ParameterRange is the valid range of a numeric parameter, in the parameter's own units.
type ParameterRange struct {
	Min       string `json:"min"`
	Max       string `json:"max"`
	Increment string `json:"increment,omitempty"`
}

func (r ParameterRange) String() string {
	if r.Increment == "" {
		return r.Min + ".." + r.Max
	}
	return r.Min + ".." + r.Max + " step " + r.Increment
}

// RangedDevice is a Device that can report the valid range of numeric parameters.
type RangedDevice interface {
	Device
	ParameterRange(name string) (ParameterRange, bool)
}

// GrabResult is a frame still held in a transport buffer. Release must be called on every path
// once the caller is done with it, or the device runs out of buffers.
type GrabResult struct {
	Succeeded        bool
	ErrorCode        uint32
	ErrorDescription string

	Width       int
	Height      int
	PixelFormat PixelFormat
	// Data aliases the transport buffer and is invalid after Release.
	Data    []byte
	BlockID uint64

	releaseOnce sync.Once
	release     func()
}

// NewGrabResult wraps a successfully filled buffer. release, which may be nil, returns the buffer
// to the device.
func NewGrabResult(data []byte, width, height int, format PixelFormat, blockID uint64, release func()) *GrabResult {
	return &GrabResult{
		Succeeded:   true,
		Width:       width,
		Height:      height,
		PixelFormat: format,
		Data:        data,
		BlockID:     blockID,
		release:     release,
	}
}

// NewFailedGrabResult wraps a buffer the transport could not fill.
func NewFailedGrabResult(code uint32, description string, release func()) *GrabResult {
	return &GrabResult{ErrorCode: code, ErrorDescription: description, release: release}
}

// Release returns the buffer to the device. It is safe to call more than once.
func (r *GrabResult) Release() {
	r.releaseOnce.Do(func() {
		if r.release != nil {
			r.release()
		}
		r.Data = nil
	})
}
