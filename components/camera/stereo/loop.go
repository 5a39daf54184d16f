package stereo

import (
	"context"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/logging"
)

// LoopStats summarizes a series of pair captures.
type LoopStats struct {
	Attempts      int           `json:"attempts"`
	Complete      int           `json:"complete"`
	LeftFailures  int           `json:"left_failures"`
	RightFailures int           `json:"right_failures"`
	MeanElapsed   time.Duration `json:"mean_elapsed"`
	P95Elapsed    time.Duration `json:"p95_elapsed"`
	MaxSkew       time.Duration `json:"max_skew"`
}

// SuccessRate is the fraction of attempts that produced a complete pair.
func (s LoopStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Complete) / float64(s.Attempts)
}

func (s LoopStats) String() string {
	return fmt.Sprintf("%d/%d pairs complete (%.1f%%), left failures %d, right failures %d, mean %v, p95 %v",
		s.Complete, s.Attempts, 100*s.SuccessRate(), s.LeftFailures, s.RightFailures, s.MeanElapsed, s.P95Elapsed)
}

// RunLoop captures count pairs, pausing interval between them, and hands every complete pair to
// onPair. Capture failures are counted, not returned, and the pair after a failure is captured in
// debug mode. An error from onPair stops the loop.
func (s *Synchronizer) RunLoop(
	ctx context.Context, count int, interval time.Duration, onPair func(int, *Pair) error,
) (LoopStats, error) {
	var st LoopStats
	var elapsed stats.Float64Data
	lastFailed := false
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 && !goutils.SelectContextOrWait(ctx, interval) {
			return st.finish(elapsed), ctx.Err()
		}
		pairCtx := ctx
		if lastFailed {
			// the capture after a failure logs everything the engines report
			pairCtx = logging.EnableDebugMode(ctx, fmt.Sprintf("pair-%d", i+1))
		}
		pair, err := s.CapturePair(pairCtx)
		lastFailed = err != nil
		st.Attempts++
		elapsed = append(elapsed, float64(pair.Elapsed))
		if pair.Left == nil {
			st.LeftFailures++
		}
		if pair.Right == nil {
			st.RightFailures++
		}
		if err != nil {
			if ctx.Err() != nil {
				return st.finish(elapsed), ctx.Err()
			}
			s.logger.Infow("pair capture failed", "attempt", i+1, "error", err)
			continue
		}
		st.Complete++
		if skew := pair.Skew; skew > st.MaxSkew {
			st.MaxSkew = skew
		}
		if onPair != nil {
			if err := onPair(i, pair); err != nil {
				return st.finish(elapsed), errors.Wrapf(err, "handling pair %d", i+1)
			}
		}
	}
	return st.finish(elapsed), nil
}

func (s LoopStats) finish(elapsed stats.Float64Data) LoopStats {
	if len(elapsed) == 0 {
		return s
	}
	if mean, err := elapsed.Mean(); err == nil {
		s.MeanElapsed = time.Duration(mean)
	}
	if p95, err := elapsed.Percentile(95); err == nil {
		s.P95Elapsed = time.Duration(p95)
	}
	return s
}
