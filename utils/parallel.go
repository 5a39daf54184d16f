// Package utils contains small concurrency and math helpers shared by the stereo packages.
package utils

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// RowWorkFunc processes the half-open row band [from, to) of an image.
type RowWorkFunc func(groupNum, from, to int)

// ParallelForEachRowBand splits `height` rows into contiguous bands, one per worker, and runs
// `work` on each band concurrently. The last band absorbs any remainder. It returns the context
// error if the context was cancelled before all bands were scheduled.
func ParallelForEachRowBand(ctx context.Context, height int, work RowWorkFunc) error {
	if height <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > height {
		numGroups = height
	}
	groupSize := height / numGroups
	extra := height % numGroups

	var wait sync.WaitGroup
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		if err := ctx.Err(); err != nil {
			wait.Wait()
			return err
		}
		from := groupSize * groupNum
		to := groupSize * (groupNum + 1)
		if groupNum == numGroups-1 {
			to += extra
		}
		wait.Add(1)
		groupNum := groupNum
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			work(groupNum, from, to)
		})
	}
	wait.Wait()
	return ctx.Err()
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel, return is elapsed time and an error.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	helper := func(f SimpleFunc) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				cancel()
			}
			wg.Done()
		}()
		err := f(ctx)
		if err != nil {
			storeError(err)
			cancel()
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go helper(f)
	}

	wg.Wait()
	return time.Since(start), bigError
}
