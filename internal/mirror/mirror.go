// Package mirror publishes finalized turns to a Kafka topic for downstream
// consumers (analytics, archival). Best-effort: mirror failures are logged
// and never surfaced to the turn that produced them.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// TurnEvent is the record written per finalized turn.
type TurnEvent struct {
	SessionID    string    `json:"session_id"`
	MessageID    string    `json:"message_id"`
	Model        string    `json:"model"`
	ContentChars int       `json:"content_chars"`
	ThinkingUsed bool      `json:"thinking_used"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// Mirror writes turn events to one topic.
type Mirror struct {
	writer *kafka.Writer
}

// New creates a mirror for the given brokers and topic.
func New(brokers []string, topic string) *Mirror {
	return &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// Publish writes one turn event, keyed by session so one conversation's
// turns stay ordered within a partition.
func (m *Mirror) Publish(ctx context.Context, evt TurnEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Mirror: marshal failed", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(evt.SessionID),
		Value: value,
	}); err != nil {
		slog.Warn("Mirror: write failed", "topic", m.writer.Topic, "error", err)
	}
}

// Close flushes and closes the writer.
func (m *Mirror) Close() error {
	return m.writer.Close()
}
