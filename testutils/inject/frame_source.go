package inject

import (
	"context"
	"time"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/stereo"
)

// FrameSource is an injected frame source.
type FrameSource struct {
	stereo.FrameSource
	NameFunc         func() string
	CaptureFrameFunc func(ctx context.Context, timeout time.Duration, maxRetries int) (*gige.Frame, error)
}

// Name calls the injected Name or the real version.
func (fs *FrameSource) Name() string {
	if fs.NameFunc == nil {
		return fs.FrameSource.Name()
	}
	return fs.NameFunc()
}

// CaptureFrame calls the injected CaptureFrame or the real version.
func (fs *FrameSource) CaptureFrame(ctx context.Context, timeout time.Duration, maxRetries int) (*gige.Frame, error) {
	if fs.CaptureFrameFunc == nil {
		return fs.FrameSource.CaptureFrame(ctx, timeout, maxRetries)
	}
	return fs.CaptureFrameFunc(ctx, timeout, maxRetries)
}
