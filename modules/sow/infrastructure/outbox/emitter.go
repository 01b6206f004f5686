package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/outbox"
)

// Emitter writes workflow events to the outbox through the transaction
// bound to ctx.
type Emitter struct {
	publisher outbox.Publisher
}

func NewEmitter(publisher outbox.Publisher) *Emitter {
	return &Emitter{publisher: publisher}
}

func (e *Emitter) Emit(ctx context.Context, ev *events.WorkflowEventV1) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sow outbox emitter: encode %s: %w", ev.Topic, err)
	}
	_, err = e.publisher.Enqueue(ctx, tx, outbox.Message{
		AggregateID: ev.DocumentID,
		Topic:       ev.Topic,
		EventID:     ev.EventID,
		Payload:     payload,
	})
	return err
}
