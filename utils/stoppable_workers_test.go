package utils

import (
	"context"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestStoppableWorkers(t *testing.T) {
	var stopped atomic.Int32
	loop := func(ctx context.Context) {
		<-ctx.Done()
		stopped.Add(1)
	}

	workers := NewStoppableWorkers(context.Background(), loop, loop)
	workers.AddWorkers(loop)
	workers.Stop()
	test.That(t, stopped.Load(), test.ShouldEqual, int32(3))
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)

	// Adding after stop is a no-op.
	workers.AddWorkers(loop)
	workers.Stop()
	test.That(t, stopped.Load(), test.ShouldEqual, int32(3))
}
