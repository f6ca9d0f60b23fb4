package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestNewEvent_Envelope(t *testing.T) {
	payload := ExamLifecycleEvent{ExamTemplateID: 1, Name: "Midterm", Status: "Active"}
	event := NewEvent(TopicExamActivated, payload)

	if event.ID == "" {
		t.Error("NewEvent() id is empty")
	}
	if event.Type != TopicExamActivated {
		t.Errorf("NewEvent() type = %q, want %q", event.Type, TopicExamActivated)
	}
	if event.Source != "exam-engine" {
		t.Errorf("NewEvent() source = %q, want exam-engine", event.Source)
	}
	if event.Version != "1.0" {
		t.Errorf("NewEvent() version = %q, want 1.0", event.Version)
	}
	if time.Since(event.Timestamp) > time.Minute {
		t.Errorf("NewEvent() timestamp = %v, want recent", event.Timestamp)
	}

	// Distinct events get distinct ids.
	if other := NewEvent(TopicExamActivated, payload); other.ID == event.ID {
		t.Error("NewEvent() produced duplicate ids")
	}
}

func TestMockEventPublisher(t *testing.T) {
	publisher := NewMockEventPublisher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if got := publisher.GetPublishedEvents(); len(got) != 0 {
		t.Fatalf("new publisher holds %d events, want 0", len(got))
	}

	first := NewEvent(TopicSessionCompleted, SessionLifecycleEvent{SessionID: 1, Score: 0.8})
	second := NewEvent(TopicSessionTimeout, SessionLifecycleEvent{SessionID: 2})
	if err := publisher.Publish(ctx, TopicSessionCompleted, first); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := publisher.Publish(ctx, TopicSessionTimeout, second); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	events := publisher.GetPublishedEvents()
	if len(events) != 2 {
		t.Fatalf("published events = %d, want 2", len(events))
	}
	if events[0].Type != TopicSessionCompleted || events[1].Type != TopicSessionTimeout {
		t.Errorf("event order = %q, %q", events[0].Type, events[1].Type)
	}

	// The returned slice is a copy.
	events[0].Type = "mutated"
	if publisher.GetPublishedEvents()[0].Type != TopicSessionCompleted {
		t.Error("GetPublishedEvents() exposes internal slice")
	}

	publisher.ClearEvents()
	if got := publisher.GetPublishedEvents(); len(got) != 0 {
		t.Errorf("events after ClearEvents() = %d, want 0", len(got))
	}
}
