package utils

import (
	"context"
	"time"

	"go.viam.com/stereo/logging"
)

// SlowLogger warns every few seconds until the returned function is called or the context is
// done. It is used around long running computations such as full resolution disparity
// estimation. The returned function waits for the warning goroutine to exit.
func SlowLogger(ctx context.Context, msg, fieldName, fieldVal string, logger logging.Logger) func() {
	startTime := time.Now()
	workers := NewStoppableWorkers(ctx, func(ctx context.Context) {
		slowTicker := time.NewTicker(2 * time.Second)
		defer slowTicker.Stop()
		firstTick := true
		for {
			select {
			case <-slowTicker.C:
				elapsed := time.Since(startTime).Round(time.Second).String()
				logger.CWarnw(ctx, msg, fieldName, fieldVal, "time_elapsed", elapsed)
				if firstTick {
					slowTicker.Reset(3 * time.Second)
					firstTick = false
				} else {
					slowTicker.Reset(5 * time.Second)
				}
			case <-ctx.Done():
				return
			}
		}
	})
	return workers.Stop
}
