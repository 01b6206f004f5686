package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message is one row written to the outbox table inside the business
// transaction.
type Message struct {
	// AggregateID is the id of the entity the event is about.
	AggregateID uuid.UUID
	Topic       string
	EventID     uuid.UUID
	Payload     json.RawMessage
}

// Meta travels with every delivery so handlers can dedupe on EventID.
type Meta struct {
	Table       pgx.Identifier
	AggregateID uuid.UUID
	Topic       string
	EventID     uuid.UUID
	Sequence    int64
	Attempts    int

	// W3C trace context captured at enqueue time.
	TraceParent string
	TraceState  string
}

type Delivery struct {
	Meta    Meta
	Payload json.RawMessage
}

type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

type DispatcherFunc func(ctx context.Context, d Delivery) error

func (f DispatcherFunc) Dispatch(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}
