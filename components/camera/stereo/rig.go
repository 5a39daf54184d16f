package stereo

import (
	"context"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/stereo/components/camera/gige"
	"go.viam.com/stereo/logging"
)

// Rig owns the two engines of a stereo camera.
type Rig struct {
	Left  *gige.Engine
	Right *gige.Engine

	sync   *Synchronizer
	logger logging.Logger
}

// NewRig creates closed engines for both cameras on the same transport.
func NewRig(transport gige.Transport, left, right gige.EngineConfig, opts CaptureOptions, clk clock.Clock, logger logging.Logger) *Rig {
	var engineOpts []gige.EngineOption
	if clk != nil {
		engineOpts = append(engineOpts, gige.WithClock(clk))
	}
	r := &Rig{
		Left:   gige.NewEngine(transport, left, logger, engineOpts...),
		Right:  gige.NewEngine(transport, right, logger, engineOpts...),
		logger: logger,
	}
	r.sync = NewSynchronizer(r.Left, r.Right, opts, clk, logger)
	return r
}

// Open initializes the left then the right engine. When the right one fails the left one is
// closed again, so a failed Open leaves nothing open.
func (r *Rig) Open(ctx context.Context) error {
	if err := r.Left.Initialize(ctx); err != nil {
		return errors.Wrap(err, "opening left camera")
	}
	if err := r.Right.Initialize(ctx); err != nil {
		if closeErr := r.Left.Close(ctx); closeErr != nil {
			r.logger.CWarnw(ctx, "error closing left camera after right camera failed", "error", closeErr)
		}
		return errors.Wrap(err, "opening right camera")
	}
	r.logger.CInfow(ctx, "stereo rig open", "left", r.Left.Name(), "right", r.Right.Name())
	return nil
}

// CapturePair captures one stereo pair.
func (r *Rig) CapturePair(ctx context.Context) (*Pair, error) {
	return r.sync.CapturePair(ctx)
}

// RunLoop runs the capture loop of the rig's synchronizer.
func (r *Rig) RunLoop(ctx context.Context, count int, interval time.Duration, onPair func(int, *Pair) error) (LoopStats, error) {
	return r.sync.RunLoop(ctx, count, interval, onPair)
}

// Close closes both engines. It is safe to call more than once.
func (r *Rig) Close(ctx context.Context) error {
	return multierr.Combine(r.Left.Close(ctx), r.Right.Close(ctx))
}

// StaggerTransmission gives each camera a frame transmission delay (GevSCFTD) of step ticks times
// its position, so their frames reach the host one after the other.
func StaggerTransmission(step int, configs ...*gige.EngineConfig) {
	for i, cfg := range configs {
		cfg.Settings = gige.WithOverrides(cfg.Settings, map[string]string{"GevSCFTD": strconv.Itoa(i * step)})
	}
}
