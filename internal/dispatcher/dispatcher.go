// Package dispatcher fans a validated notification out to its pushkins
// and collates the per-device outcomes into a single reply.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/internal/registry"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

// DefaultRequestTimeout bounds one ingress call end to end.
const DefaultRequestTimeout = 30 * time.Second

// Dispatcher routes each device of a notification to its pushkin and runs
// the dispatches concurrently. Per-pushkin concurrency is bounded inside
// the pushkins themselves.
type Dispatcher struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a dispatcher. A non-positive timeout falls back to
// DefaultRequestTimeout.
func New(reg *registry.Registry, m *metrics.Metrics, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Dispatcher{
		registry: reg,
		metrics:  m,
		timeout:  timeout,
		logger:   logger.With("component", "Dispatcher"),
	}
}

type target struct {
	pushkin dispatch.Pushkin
	device  *notification.Device
}

type outcome struct {
	rejected []string
	err      error
}

// Dispatch delivers the notification to every routable device and returns
// the union of rejected pushkeys, preserving device order. Devices whose
// app id matches no pushkin are skipped. If any device dispatch fails
// transiently the whole call returns that error, because the protocol has
// no per-device retry token; the caller retries the entire request.
//
// Cancellation of ctx, or expiry of the overall timeout, cancels all
// in-flight dispatches.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notification.Notification) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	targets := make([]target, 0, len(n.Devices))
	for i := range n.Devices {
		device := &n.Devices[i]
		pushkin, ok := d.registry.Find(device.AppID)
		if !ok {
			d.logger.Warn("Got notification for unknown app ID", "app_id", device.AppID)
			continue
		}
		d.metrics.DevicePushes.WithLabelValues(pushkin.Name()).Inc()
		targets = append(targets, target{pushkin: pushkin, device: device})
	}

	outcomes := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			rejected, err := t.pushkin.DispatchNotification(ctx, n, t.device)
			outcomes[i] = outcome{rejected: rejected, err: err}
			d.metrics.DispatchOutcomes.WithLabelValues(t.pushkin.Name(), outcomeLabel(rejected, err)).Inc()
		}(i, t)
	}
	wg.Wait()

	rejected := []string{}
	for i, o := range outcomes {
		if o.err != nil {
			d.logger.Warn("Dispatch failed",
				"pushkin", targets[i].pushkin.Name(),
				"app_id", targets[i].device.AppID,
				"err", o.err)
			return nil, o.err
		}
		rejected = append(rejected, o.rejected...)
	}
	return rejected, nil
}

func outcomeLabel(rejected []string, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeTransient
	case len(rejected) > 0:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeAccepted
	}
}
