package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sowflow/sowflow/pkg/repo"
)

// Publisher writes messages into the outbox using the caller's transaction,
// so a message exists if and only if the business change committed.
type Publisher interface {
	Enqueue(ctx context.Context, tx repo.Tx, msg Message) (sequence int64, err error)
}

type publisher struct {
	table pgx.Identifier
	m     *metrics
}

func NewPublisher(table pgx.Identifier) (Publisher, error) {
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	return &publisher{table: table, m: getMetrics()}, nil
}

func (p *publisher) Enqueue(ctx context.Context, tx repo.Tx, msg Message) (int64, error) {
	if msg.EventID == uuid.Nil {
		return 0, invalidConfig("event_id is required")
	}
	if msg.Topic == "" {
		return 0, invalidConfig("topic is required")
	}
	if len(msg.Payload) == 0 {
		return 0, invalidConfig("payload is required")
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	q := fmt.Sprintf(
		`INSERT INTO %s (aggregate_id, topic, payload, event_id, trace_parent, trace_state, available_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), now())
		 ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		 RETURNING sequence`,
		p.table.Sanitize(),
	)
	var sequence int64
	err := tx.QueryRow(ctx, q,
		msg.AggregateID, msg.Topic, msg.Payload, msg.EventID,
		carrier.Get("traceparent"), carrier.Get("tracestate"),
	).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("outbox enqueue: %w", err)
	}

	p.m.enqueueTotal.WithLabelValues(TableLabel(p.table), msg.Topic).Inc()
	return sequence, nil
}
