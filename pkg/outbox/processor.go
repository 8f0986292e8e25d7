package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mulu-store/checkout/pkg/db"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key string, message any) error
}

type Processor struct {
	beginner  db.TxBeginner
	repo      Repository
	publisher Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

type ProcessorOption func(*Processor)

func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewProcessor(
	beginner db.TxBeginner,
	repo Repository,
	publisher Publisher,
	logger *zap.Logger,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		beginner:  beginner,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: 50,
		interval:  500 * time.Millisecond,
		tracer:    otel.Tracer("pkg/outbox/processor"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Processor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were sent.
// Failed publishes bump the attempt counter and stay in the outbox.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	published := 0
	err := db.WithTx(ctx, p.beginner, p.logger, func(tx pgx.Tx) error {
		events, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := p.publisher.ProduceMessage(ctx, event.Topic, event.AggregateID, event.Envelope()); err != nil {
				mylogger.Warn(
					ctx,
					p.logger,
					"Outbox publish failed",
					zap.Int64("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)

				if err := p.repo.MarkFailed(ctx, tx, event.ID, err.Error()); err != nil {
					return err
				}
				continue
			}

			if err := p.repo.MarkPublished(ctx, tx, event.ID); err != nil {
				return err
			}
			published++
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if published > 0 {
		mylogger.Debug(ctx, p.logger, "Outbox batch published", zap.Int("count", published))
	}

	return published, nil
}
