package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topics published by the exam engine.
const (
	TopicExamActivated    = "exam.activated"
	TopicExamCompleted    = "exam.completed"
	TopicExamCancelled    = "exam.cancelled"
	TopicSessionCompleted = "session.completed"
	TopicSessionTimeout   = "session.timeout"
)

// Event is the envelope for every message the engine publishes.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent builds an envelope with the engine's source and schema version.
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    "exam-engine",
		Version:   "1.0",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher abstracts the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	Close() error
}

// ===== EVENT PAYLOADS =====

type ExamLifecycleEvent struct {
	ExamTemplateID uint   `json:"exam_template_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	SessionsClosed int    `json:"sessions_closed,omitempty"`
}

type SessionLifecycleEvent struct {
	SessionID         uint    `json:"session_id"`
	ExamTemplateID    uint    `json:"exam_template_id"`
	StudentID         string  `json:"student_id"`
	Status            string  `json:"status"`
	QuestionsAnswered int     `json:"questions_answered"`
	CorrectCount      int     `json:"correct_count"`
	Score             float64 `json:"score"`
	EndReason         string  `json:"end_reason,omitempty"`
}

// ===== KAFKA PUBLISHER =====

type KafkaEventPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewKafkaEventPublisher(brokers []string, logger *slog.Logger) (*KafkaEventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{
		publisher: publisher,
		logger:    logger,
	}, nil
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("source", event.Source)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}

	p.logger.Debug("Event published",
		"topic", topic,
		"event_type", event.Type,
		"event_id", event.ID)

	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}
