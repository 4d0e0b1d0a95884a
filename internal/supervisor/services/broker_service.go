// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package services

import (
	"context"
	"fmt"
	"time"
)

// Broker matches the embedded NATS server's lifecycle methods.
type Broker interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// BrokerService supervises an already-started embedded broker. The broker
// starts synchronously at boot (clients need its URL before the tree runs),
// so Serve only monitors health and drives graceful shutdown.
type BrokerService struct {
	broker          Broker
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewBrokerService creates a broker service wrapper.
func NewBrokerService(broker Broker, shutdownTimeout time.Duration) *BrokerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &BrokerService{
		broker:          broker,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "alert-broker",
	}
}

// Serve implements suture.Service. A broker that stops running causes a
// service failure so suture logs and backs off rather than spinning.
func (b *BrokerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
			defer cancel()
			if err := b.broker.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("broker shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !b.broker.IsRunning() {
				return fmt.Errorf("broker stopped unexpectedly")
			}
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (b *BrokerService) String() string {
	return b.name
}
