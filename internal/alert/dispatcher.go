// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package alert

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/time/rate"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/metrics"
)

// DefaultQueueSize bounds the in-memory alert queue.
const DefaultQueueSize = 1024

// Dispatcher drains a bounded alert queue and publishes to the broker.
// Enqueue never blocks the ingest path; when the queue is full the alert
// is dropped and counted. It implements suture.Service via Serve.
type Dispatcher struct {
	queue     chan CommandAlert
	publisher message.Publisher
	limiter   *rate.Limiter
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan CommandAlert, n)
		}
	}
}

// WithRateLimit caps publish throughput at n alerts per second with the
// given burst.
func WithRateLimit(n float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(n), burst)
		}
	}
}

// NewDispatcher creates a dispatcher publishing through the given
// Watermill publisher.
func NewDispatcher(publisher message.Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:     make(chan CommandAlert, DefaultQueueSize),
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue adds an alert to the queue without blocking. Returns false when
// the queue is full and the alert was dropped.
func (d *Dispatcher) Enqueue(alert CommandAlert) bool {
	select {
	case d.queue <- alert:
		metrics.AlertsDispatched.Inc()
		return true
	default:
		metrics.AlertsDropped.Inc()
		logging.Warn().
			Str("command_id", alert.CommandID).
			Msg("Alert queue full, dropping alert")
		return false
	}
}

// Pending returns the number of queued alerts awaiting publish.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Serve drains the queue until the context is cancelled. Publish failures
// are logged and counted; they never stop the loop.
func (d *Dispatcher) Serve(ctx context.Context) error {
	logging.Info().Int("queue_size", cap(d.queue)).Msg("Alert dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			logging.Info().Msg("Alert dispatcher stopped")
			return ctx.Err()
		case alert := <-d.queue:
			d.publish(ctx, alert)
		}
	}
}

// drain publishes whatever is already queued at shutdown, without waiting
// for new work.
func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case alert := <-d.queue:
			d.publish(ctx, alert)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, alert CommandAlert) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
	}

	data, err := alert.Serialize()
	if err != nil {
		metrics.AlertPublishErrors.Inc()
		logging.Err(err).Str("command_id", alert.CommandID).Msg("Alert serialization failed")
		return
	}

	msg := message.NewMessage(alert.CommandID, data)
	msg.Metadata.Set("org_id", alert.OrgID)
	msg.Metadata.Set("risk_level", strconv.Itoa(alert.RiskLevel))

	if err := d.publisher.Publish(alert.Topic(), msg); err != nil {
		metrics.AlertPublishErrors.Inc()
		logging.Err(err).
			Str("command_id", alert.CommandID).
			Str("topic", alert.Topic()).
			Msg("Alert publish failed")
	}
}
