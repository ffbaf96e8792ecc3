// Package limiter bounds the number of in-flight outbound requests per
// pushkin.
package limiter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// Limiter is a counting semaphore sized at construction. Waiters are
// served in FIFO order, so a burst cannot starve earlier requesters.
type Limiter struct {
	sem      *semaphore.Weighted
	inflight prometheus.Gauge
}

// New creates a limiter with the given permit count. The gauge tracks
// currently held permits and may be nil.
func New(max int64, inflight prometheus.Gauge) *Limiter {
	return &Limiter{
		sem:      semaphore.NewWeighted(max),
		inflight: inflight,
	}
}

// Acquire blocks until a permit is free or ctx is done. On success the
// caller must Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if l.inflight != nil {
		l.inflight.Inc()
	}
	return nil
}

// Release frees a permit acquired with Acquire.
func (l *Limiter) Release() {
	if l.inflight != nil {
		l.inflight.Dec()
	}
	l.sem.Release(1)
}
