package events

import (
	"context"
	"log/slog"
	"sync"
)

// MockEventPublisher records events in memory for tests and local runs
// without a broker.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []Event
	logger *slog.Logger
}

func NewMockEventPublisher(logger *slog.Logger) *MockEventPublisher {
	return &MockEventPublisher{logger: logger}
}

func (p *MockEventPublisher) Publish(ctx context.Context, topic string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	p.logger.Debug("Mock event published",
		"topic", topic,
		"event_type", event.Type,
		"event_id", event.ID)

	return nil
}

func (p *MockEventPublisher) Close() error {
	return nil
}

// GetPublishedEvents returns a copy of everything published so far.
func (p *MockEventPublisher) GetPublishedEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ClearEvents resets the recorded events.
func (p *MockEventPublisher) ClearEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = nil
}
