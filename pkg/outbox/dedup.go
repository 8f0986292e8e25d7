package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	dedupAttempts = 3
	dedupBackoff  = 500 * time.Millisecond
)

// ProcessOnce records eventID in processed_events and runs action in the
// same transaction. A duplicate key means a previous delivery already
// succeeded and action is skipped. action is retried before giving up,
// and the marker is rolled back so a redelivery can try again.
func ProcessOnce(
	ctx context.Context,
	beginner db.TxBeginner,
	logger *zap.Logger,
	consumer string,
	eventID int64,
	action func(ctx context.Context) error,
) error {
	span := trace.SpanFromContext(ctx)

	return db.WithTx(ctx, beginner, logger, func(tx pgx.Tx) error {
		query := `
			INSERT INTO processed_events (consumer, event_id)
			VALUES ($1, $2)
		`

		if _, err := tx.Exec(ctx, query, consumer, eventID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				mylogger.Info(
					ctx,
					logger,
					"Event already processed, skipping",
					zap.String("consumer", consumer),
					zap.Int64("event_id", eventID),
				)

				return nil
			}

			span.RecordError(err)
			return err
		}

		_, err := backoff.Retry(
			ctx,
			func() (struct{}, error) {
				return struct{}{}, action(ctx)
			},
			backoff.WithBackOff(backoff.NewConstantBackOff(dedupBackoff)),
			backoff.WithMaxTries(dedupAttempts),
		)
		if err == nil {
			return nil
		}

		mylogger.Error(ctx, logger, "Action failed after retries", zap.Int64("event_id", eventID), zap.Error(err))
		return fmt.Errorf("process event %d: %w", eventID, err)
	})
}
