// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package alert

import (
	"context"

	"github.com/tomtom215/commandeer/internal/models"
)

// Sink accepts alerts for asynchronous delivery. Enqueue must not block.
type Sink interface {
	Enqueue(alert CommandAlert) bool
}

// Evaluator checks command records against the risk threshold and hands
// matching ones to the sink.
type Evaluator struct {
	threshold int
	sink      Sink
}

// NewEvaluator creates an evaluator. A nil sink disables alerting.
func NewEvaluator(threshold int, sink Sink) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultRiskThreshold
	}
	return &Evaluator{threshold: threshold, sink: sink}
}

// Threshold returns the configured risk threshold.
func (e *Evaluator) Threshold() int {
	return e.threshold
}

// Evaluate enqueues an alert for every record whose risk level meets or
// exceeds the threshold. Returns the number of alerts enqueued. The
// context is accepted for symmetry with callers but evaluation itself
// never blocks.
func (e *Evaluator) Evaluate(_ context.Context, records []models.CommandRecord) int {
	if e.sink == nil {
		return 0
	}
	dispatched := 0
	for i := range records {
		if records[i].RiskLevel < e.threshold {
			continue
		}
		if e.sink.Enqueue(NewCommandAlert(&records[i])) {
			dispatched++
		}
	}
	return dispatched
}
