package stereo_test

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/components/camera/gige/fake"
	"go.viam.com/stereo/components/camera/stereo"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/testutils/inject"
)

// source returns frames stamped with the mock clock, advancing it by step per capture, and fails
// while fail returns true.
func source(name string, mock *clock.Mock, step time.Duration, fail func() bool) *inject.FrameSource {
	calls := 0
	return &inject.FrameSource{
		NameFunc: func() string { return name },
		CaptureFrameFunc: func(ctx context.Context, timeout time.Duration, maxRetries int) (*gige.Frame, error) {
			calls++
			mock.Add(step)
			if fail != nil && fail() {
				return nil, &gige.GrabError{Camera: name, Attempts: maxRetries + 1, Err: gige.ErrGrabTimeout}
			}
			return &gige.Frame{
				Image:     image.NewGray(image.Rect(0, 0, 4, 4)),
				Camera:    name,
				Timestamp: mock.Now(),
				Sequence:  uint64(calls),
				Attempts:  1,
			}, nil
		},
	}
}

func always() bool { return true }

func TestCapturePair(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	opts := stereo.CaptureOptions{Timeout: time.Second, MaxRetries: 2}

	t.Run("both", func(t *testing.T) {
		mock := clock.NewMock()
		sync := stereo.NewSynchronizer(
			source("l", mock, 30*time.Millisecond, nil),
			source("r", mock, 40*time.Millisecond, nil),
			opts, mock, logger)
		pair, err := sync.CapturePair(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pair.Complete(), test.ShouldBeTrue)
		test.That(t, pair.Left.Camera, test.ShouldEqual, "l")
		test.That(t, pair.Right.Camera, test.ShouldEqual, "r")
		test.That(t, pair.Elapsed, test.ShouldEqual, 70*time.Millisecond)
		test.That(t, pair.Skew, test.ShouldEqual, 40*time.Millisecond)
		test.That(t, pair.ID.String(), test.ShouldNotBeEmpty)
	})

	t.Run("right fails", func(t *testing.T) {
		mock := clock.NewMock()
		sync := stereo.NewSynchronizer(
			source("l", mock, time.Millisecond, nil),
			source("r", mock, time.Millisecond, always),
			opts, mock, logger)
		pair, err := sync.CapturePair(ctx)
		test.That(t, pair.Left, test.ShouldNotBeNil)
		test.That(t, pair.Right, test.ShouldBeNil)
		test.That(t, pair.Complete(), test.ShouldBeFalse)
		test.That(t, pair.Skew, test.ShouldEqual, time.Duration(0))

		var partial *stereo.PartialFailureError
		test.That(t, errors.As(err, &partial), test.ShouldBeTrue)
		test.That(t, partial.Side, test.ShouldEqual, stereo.Right)
		test.That(t, errors.Is(err, gige.ErrGrabTimeout), test.ShouldBeTrue)
		var grabErr *gige.GrabError
		test.That(t, errors.As(err, &grabErr), test.ShouldBeTrue)
		test.That(t, grabErr.Attempts, test.ShouldEqual, 3)
	})

	t.Run("left fails", func(t *testing.T) {
		mock := clock.NewMock()
		sync := stereo.NewSynchronizer(
			source("l", mock, time.Millisecond, always),
			source("r", mock, time.Millisecond, nil),
			opts, mock, logger)
		pair, err := sync.CapturePair(ctx)
		test.That(t, pair.Left, test.ShouldBeNil)
		test.That(t, pair.Right, test.ShouldNotBeNil)
		var partial *stereo.PartialFailureError
		test.That(t, errors.As(err, &partial), test.ShouldBeTrue)
		test.That(t, partial.Side, test.ShouldEqual, stereo.Left)
		test.That(t, err.Error(), test.ShouldContainSubstring, "left camera failed")
	})

	t.Run("both fail", func(t *testing.T) {
		mock := clock.NewMock()
		sync := stereo.NewSynchronizer(
			source("l", mock, time.Millisecond, always),
			source("r", mock, time.Millisecond, always),
			opts, mock, logger)
		pair, err := sync.CapturePair(ctx)
		test.That(t, pair, test.ShouldNotBeNil)
		test.That(t, pair.Left, test.ShouldBeNil)
		test.That(t, pair.Right, test.ShouldBeNil)
		test.That(t, multierr.Errors(err), test.ShouldHaveLength, 2)
		var partial *stereo.PartialFailureError
		test.That(t, errors.As(err, &partial), test.ShouldBeFalse)
		test.That(t, err.Error(), test.ShouldContainSubstring, `left camera "l"`)
		test.That(t, err.Error(), test.ShouldContainSubstring, `right camera "r"`)
	})
}

func TestRunLoop(t *testing.T) {
	mock := clock.NewMock()
	n := 0
	flaky := func() bool {
		n++
		return n%2 == 0
	}
	left := source("l", mock, 10*time.Millisecond, nil)
	var debug []bool
	capture := left.CaptureFrameFunc
	left.CaptureFrameFunc = func(ctx context.Context, timeout time.Duration, maxRetries int) (*gige.Frame, error) {
		debug = append(debug, logging.IsDebugMode(ctx))
		return capture(ctx, timeout, maxRetries)
	}
	sync := stereo.NewSynchronizer(
		left,
		source("r", mock, 10*time.Millisecond, flaky),
		stereo.DefaultCaptureOptions(), mock, logging.NewTestLogger(t))

	var handled []int
	st, err := sync.RunLoop(context.Background(), 4, 0, func(i int, p *stereo.Pair) error {
		handled = append(handled, i)
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, handled, test.ShouldResemble, []int{0, 2})
	test.That(t, st.Attempts, test.ShouldEqual, 4)
	test.That(t, st.Complete, test.ShouldEqual, 2)
	test.That(t, st.RightFailures, test.ShouldEqual, 2)
	test.That(t, st.LeftFailures, test.ShouldEqual, 0)
	test.That(t, st.SuccessRate(), test.ShouldEqual, 0.5)
	test.That(t, st.MeanElapsed, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, st.String(), test.ShouldContainSubstring, "2/4 pairs complete (50.0%)")
	test.That(t, debug, test.ShouldResemble, []bool{false, false, true, false})

	_, err = sync.RunLoop(context.Background(), 3, 0, func(i int, p *stereo.Pair) error {
		return errors.New("disk full")
	})
	test.That(t, err, test.ShouldBeError, errors.New("handling pair 1: disk full"))
}

func TestRig(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	scene := fake.Scene{Width: 64, Height: 48, Disparity: 4, BlockSize: 4, Seed: 2}

	t.Run("capture", func(t *testing.T) {
		transport := fake.NewStereoTransport(scene)
		left, right := gige.DefaultEngineConfig("left", 0), gige.DefaultEngineConfig("right", 1)
		stereo.StaggerTransmission(500, &left, &right)
		rig := stereo.NewRig(transport, left, right, stereo.DefaultCaptureOptions(), nil, logger)
		test.That(t, rig.Open(ctx), test.ShouldBeNil)

		pair, err := rig.CapturePair(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pair.Left.Camera, test.ShouldEqual, "left")
		test.That(t, pair.Right.Camera, test.ShouldEqual, "right")

		ftd, err := transport.Devices()[1].GetParameter("GevSCFTD")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ftd, test.ShouldEqual, "500")
		ftd, err = transport.Devices()[0].GetParameter("GevSCFTD")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ftd, test.ShouldEqual, "0")

		test.That(t, rig.Close(ctx), test.ShouldBeNil)
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
		test.That(t, transport.Devices()[0].IsOpen(), test.ShouldBeFalse)
	})

	t.Run("right open failure closes left", func(t *testing.T) {
		transport := fake.NewStereoTransport(scene)
		transport.Devices()[1].InjectFaults(fake.Faults{OpenErr: errors.New("access denied")})
		rig := stereo.NewRig(transport, gige.DefaultEngineConfig("left", 0), gige.DefaultEngineConfig("right", 1),
			stereo.DefaultCaptureOptions(), nil, logger)

		err := rig.Open(ctx)
		test.That(t, errors.Is(err, gige.ErrDeviceOpenFailed), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "opening right camera")
		test.That(t, rig.Left.State(), test.ShouldEqual, gige.StateClosed)
		test.That(t, transport.Devices()[0].IsOpen(), test.ShouldBeFalse)
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
	})

	t.Run("one-sided capture failure", func(t *testing.T) {
		transport := fake.NewStereoTransport(scene)
		left, right := gige.DefaultEngineConfig("left", 0), gige.DefaultEngineConfig("right", 1)
		right.RetryDelay = time.Millisecond
		rig := stereo.NewRig(transport, left, right, stereo.CaptureOptions{Timeout: time.Second, MaxRetries: 1}, nil, logger)
		test.That(t, rig.Open(ctx), test.ShouldBeNil)
		defer rig.Close(ctx)

		transport.Devices()[1].InjectFaults(fake.Faults{FailedGrabs: 5})
		pair, err := rig.CapturePair(ctx)
		test.That(t, pair.Left, test.ShouldNotBeNil)
		test.That(t, pair.Right, test.ShouldBeNil)
		var partial *stereo.PartialFailureError
		test.That(t, errors.As(err, &partial), test.ShouldBeTrue)
		test.That(t, partial.Side, test.ShouldEqual, stereo.Right)
		test.That(t, transport.Devices()[1].Grabs(), test.ShouldEqual, 2)
		test.That(t, transport.Devices()[1].Outstanding(), test.ShouldEqual, 0)
	})
}
