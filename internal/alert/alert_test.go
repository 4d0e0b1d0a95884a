// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/commandeer/internal/models"
)

type capturePublisher struct {
	mu     sync.Mutex
	msgs   []*message.Message
	topics []string
	err    error
}

func (c *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	for range msgs {
		c.topics = append(c.topics, topic)
	}
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func riskyRecord(id string, risk int) models.CommandRecord {
	return models.CommandRecord{
		ID:        id,
		User:      "alice",
		Asset:     "db-1",
		Session:   "sess-1",
		Input:     "drop table users",
		Timestamp: 1756400000,
		RiskLevel: risk,
	}
}

func TestEvaluatorThreshold(t *testing.T) {
	d := NewDispatcher(&capturePublisher{}, WithQueueSize(8))
	ev := NewEvaluator(5, d)

	records := []models.CommandRecord{
		riskyRecord("below", 4),
		riskyRecord("equal", 5),
		riskyRecord("above", 7),
	}
	got := ev.Evaluate(context.Background(), records)
	if got != 2 {
		t.Fatalf("Evaluate() = %d alerts, want 2 (threshold inclusive)", got)
	}
	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}
}

func TestEvaluatorDefaultThreshold(t *testing.T) {
	ev := NewEvaluator(0, nil)
	if ev.Threshold() != DefaultRiskThreshold {
		t.Errorf("Threshold() = %d, want %d", ev.Threshold(), DefaultRiskThreshold)
	}
}

func TestEvaluatorNilSink(t *testing.T) {
	ev := NewEvaluator(5, nil)
	got := ev.Evaluate(context.Background(), []models.CommandRecord{riskyRecord("x", 9)})
	if got != 0 {
		t.Errorf("Evaluate() = %d, want 0 with nil sink", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(&capturePublisher{}, WithQueueSize(1))

	if !d.Enqueue(NewCommandAlert(&models.CommandRecord{ID: "a", RiskLevel: 6})) {
		t.Fatal("first Enqueue() = false, want true")
	}
	if d.Enqueue(NewCommandAlert(&models.CommandRecord{ID: "b", RiskLevel: 6})) {
		t.Fatal("second Enqueue() = true, want drop when queue full")
	}
}

func TestDispatcherPublishesQueuedAlerts(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, WithQueueSize(8))

	rec := riskyRecord("cmd-1", 6)
	rec.OrgID = "org-7"
	d.Enqueue(NewCommandAlert(&rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Serve(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("alert not published within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.topics[0] != "alerts.command.org-7" {
		t.Errorf("topic = %q, want alerts.command.org-7", pub.topics[0])
	}
	got, err := DeserializeAlert(pub.msgs[0].Payload)
	if err != nil {
		t.Fatalf("DeserializeAlert() error = %v", err)
	}
	if got.CommandID != "cmd-1" || got.RiskLevel != 6 {
		t.Errorf("alert payload = %+v, want cmd-1 risk 6", got)
	}
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, WithQueueSize(8))
	for i := 0; i < 3; i++ {
		d.Enqueue(NewCommandAlert(&models.CommandRecord{ID: "x", RiskLevel: 6}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve() = %v, want context.Canceled", err)
	}
	if pub.count() != 3 {
		t.Errorf("published %d alerts during drain, want 3", pub.count())
	}
}

func TestDispatcherPublishFailureDoesNotStopLoop(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, WithQueueSize(8))
	d.Enqueue(NewCommandAlert(&models.CommandRecord{ID: "x", RiskLevel: 6}))
	d.Enqueue(NewCommandAlert(&models.CommandRecord{ID: "y", RiskLevel: 6}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Serve(ctx)
	// Reaching here means failures were swallowed; both queue slots drained.
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after drain", d.Pending())
	}
}

func TestCommandAlertTopicDefaultsOrg(t *testing.T) {
	a := CommandAlert{CommandID: "x"}
	if a.Topic() != "alerts.command.default" {
		t.Errorf("Topic() = %q, want alerts.command.default", a.Topic())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	rec := riskyRecord("cmd-9", 8)
	alert := NewCommandAlert(&rec)
	data, err := alert.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	got, err := DeserializeAlert(data)
	if err != nil {
		t.Fatalf("DeserializeAlert() error = %v", err)
	}
	if got.Input != rec.Input || got.Timestamp != rec.Timestamp {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
