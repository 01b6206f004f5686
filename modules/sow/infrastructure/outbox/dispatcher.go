package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/pkg/eventbus"
	"github.com/sowflow/sowflow/pkg/outbox"
)

// Dispatcher decodes workflow events claimed by the relay and publishes
// them on the in-process bus.
type Dispatcher struct {
	bus eventbus.EventBus
}

func NewDispatcher(bus eventbus.EventBus) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.Delivery) error {
	if d == nil || d.bus == nil {
		return fmt.Errorf("sow outbox dispatcher: bus is nil")
	}

	switch msg.Meta.Topic {
	case events.TopicWorkflowInitiatedV1,
		events.TopicWorkflowDecidedV1,
		events.TopicWorkflowRecalledV1,
		events.TopicWorkflowCompletedV1:
	default:
		return fmt.Errorf("sow outbox dispatcher: unsupported topic %q", msg.Meta.Topic)
	}

	var ev events.WorkflowEventV1
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("sow outbox dispatcher: decode payload: %w", err)
	}

	meta := msg.Meta
	return d.bus.PublishE(ctx, &meta, &ev)
}
