package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mulu-store/checkout/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxAttempts = 10

// ErrDuplicateEvent is returned by Save when the aggregate already has an
// event of the same type.
var ErrDuplicateEvent = errors.New("event already recorded for aggregate")

type Repository interface {
	Save(ctx context.Context, q db.DBTX, event *Event) error
	FetchUnpublished(ctx context.Context, q db.DBTX, batchSize int) ([]*Event, error)
	MarkPublished(ctx context.Context, q db.DBTX, eventID int64) error
	MarkFailed(ctx context.Context, q db.DBTX, eventID int64, errMsg string) error
}

type repository struct {
	tracer trace.Tracer
	logger *zap.Logger
}

func NewRepository(logger *zap.Logger) Repository {
	return &repository{
		tracer: otel.Tracer("pkg/outbox/repository"),
		logger: logger,
	}
}

// Save records event once per aggregate and event type.
func (r *repository) Save(ctx context.Context, q db.DBTX, event *Event) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("event_type", event.EventType),
	)

	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, topic)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_type, aggregate_id, event_type) DO NOTHING
		RETURNING id, created_at
	`

	err := q.QueryRow(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Topic,
	).Scan(&event.ID, &event.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateEvent
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}

// FetchUnpublished locks up to batchSize pending rows. q must be a
// transaction for the lock to hold until the batch is marked.
func (r *repository) FetchUnpublished(ctx context.Context, q db.DBTX, batchSize int) ([]*Event, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.FetchUnpublished")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, topic, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := q.Query(ctx, query, batchSize, maxAttempts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.Topic,
			&e.CreatedAt,
			&e.Attempts,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(events)))

	return events, nil
}

func (r *repository) MarkPublished(ctx context.Context, q db.DBTX, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkPublished")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	query := `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1
	`

	if _, err := q.Exec(ctx, query, eventID); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

func (r *repository) MarkFailed(ctx context.Context, q db.DBTX, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox
		SET last_error = $1, attempts = attempts + 1
		WHERE id = $2
	`

	if _, err := q.Exec(ctx, query, errMsg, eventID); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}
