// Package stereo pairs two capture engines into a stereo camera. Frames are captured left then
// right, never in parallel, so the two cameras do not compete for the link.
package stereo

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/logging"
)

// Side names one camera of a pair.
type Side string

// Pair sides.
const (
	Left  Side = "left"
	Right Side = "right"
)

// FrameSource captures single frames with bounded retries. *gige.Engine implements it.
type FrameSource interface {
	Name() string
	CaptureFrame(ctx context.Context, timeout time.Duration, maxRetries int) (*gige.Frame, error)
}

// CaptureOptions bound each frame capture of a pair.
type CaptureOptions struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

// DefaultCaptureOptions returns a 5 second timeout with 3 retries.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{Timeout: 5 * time.Second, MaxRetries: 3}
}

// Pair is the result of one pair capture. Either frame is nil when its side failed.
type Pair struct {
	ID    uuid.UUID
	Left  *gige.Frame
	Right *gige.Frame
	// Elapsed is the wall time of the whole pair capture.
	Elapsed time.Duration
	// Skew is the time between the left and right frame timestamps. It is zero unless both
	// frames are present.
	Skew time.Duration
}

// Complete reports whether both frames are present.
func (p *Pair) Complete() bool {
	return p.Left != nil && p.Right != nil
}

// PartialFailureError is returned when exactly one side of a pair failed. The other frame is in
// the returned pair.
type PartialFailureError struct {
	Side Side
	Err  error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s camera failed, pair is incomplete: %v", e.Side, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// Synchronizer captures stereo pairs from two frame sources.
type Synchronizer struct {
	left, right FrameSource
	opts        CaptureOptions
	clock       clock.Clock
	logger      logging.Logger
}

// NewSynchronizer returns a synchronizer over left and right. clk may be nil for the wall clock.
func NewSynchronizer(left, right FrameSource, opts CaptureOptions, clk clock.Clock, logger logging.Logger) *Synchronizer {
	if clk == nil {
		clk = clock.New()
	}
	return &Synchronizer{left: left, right: right, opts: opts, clock: clk, logger: logger}
}

// CapturePair captures the left frame, then the right one. The pair is always returned. The
// error is nil when both frames were captured, a *PartialFailureError when one side failed, and
// the combination of both side errors otherwise.
func (s *Synchronizer) CapturePair(ctx context.Context) (*Pair, error) {
	ctx, span := trace.StartSpan(ctx, "stereo::Synchronizer::CapturePair")
	defer span.End()

	pair := &Pair{ID: uuid.New()}
	start := s.clock.Now()
	left, leftErr := s.left.CaptureFrame(ctx, s.opts.Timeout, s.opts.MaxRetries)
	right, rightErr := s.right.CaptureFrame(ctx, s.opts.Timeout, s.opts.MaxRetries)
	pair.Elapsed = s.clock.Since(start)
	if leftErr == nil {
		pair.Left = left
	}
	if rightErr == nil {
		pair.Right = right
	}

	logger := s.logger.WithFields("pair", pair.ID.String(), "elapsed", pair.Elapsed)
	switch {
	case leftErr == nil && rightErr == nil:
		pair.Skew = right.Timestamp.Sub(left.Timestamp)
		logger.CDebugw(ctx, "captured stereo pair", "skew", pair.Skew)
		return pair, nil
	case leftErr != nil && rightErr != nil:
		err := multierr.Combine(
			errors.Wrapf(leftErr, "%s camera %q", Left, s.left.Name()),
			errors.Wrapf(rightErr, "%s camera %q", Right, s.right.Name()),
		)
		logger.CErrorw(ctx, "both cameras failed", "error", err)
		return pair, err
	case leftErr != nil:
		logger.CWarnw(ctx, "left camera failed", "error", leftErr)
		return pair, &PartialFailureError{Side: Left, Err: leftErr}
	default:
		logger.CWarnw(ctx, "right camera failed", "error", rightErr)
		return pair, &PartialFailureError{Side: Right, Err: rightErr}
	}
}
