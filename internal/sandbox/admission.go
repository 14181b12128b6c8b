package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"simpleflow-sandbox/internal/monitor"
)

// Admission bounds how many interpreter processes run at once. A caller
// waits at most queueTimeout for a slot before being turned away; a zero
// queueTimeout turns callers away as soon as every slot is busy.
type Admission struct {
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	metrics      *monitor.Metrics
}

func NewAdmission(maxConcurrent int, queueTimeout time.Duration, metrics *monitor.Metrics) *Admission {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Admission{
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		queueTimeout: queueTimeout,
		metrics:      metrics,
	}
}

// Acquire blocks until a slot is free. The returned release must be called
// exactly once. ErrCanceled is returned if ctx ends first, ErrCapacity if the
// queue wait runs out.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()

	if a.sem.TryAcquire(1) {
		a.metrics.RecordQueueWait(0)
		return a.release, nil
	}

	if a.queueTimeout <= 0 {
		a.metrics.RecordAdmissionRejected()
		return nil, fmt.Errorf("%w: all slots busy", ErrCapacity)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.queueTimeout)
	defer cancel()

	if err := a.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			a.metrics.RecordAdmissionRejected()
			return nil, fmt.Errorf("%w: waited %s", ErrCapacity, a.queueTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrCapacity, err)
	}
	a.metrics.RecordQueueWait(time.Since(start).Seconds())
	return a.release, nil
}

func (a *Admission) release() {
	a.sem.Release(1)
}
