package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

type Event struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Topic         string          `db:"topic"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
}

// Envelope is the wire shape consumers receive. EventID is the outbox row
// id and serves as the consumer-side deduplication key.
type Envelope struct {
	Event       string          `json:"event"`
	EventID     int64           `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
}

func NewEvent(topic, aggregateType, aggregateID, eventType string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		Topic:         topic,
	}, nil
}

func (e *Event) Envelope() Envelope {
	return Envelope{
		Event:       e.EventType,
		EventID:     e.ID,
		AggregateID: e.AggregateID,
		Payload:     e.Payload,
	}
}
