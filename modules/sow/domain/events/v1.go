package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicWorkflowInitiatedV1 = "sow.workflow.initiated.v1"
	TopicWorkflowDecidedV1   = "sow.workflow.decided.v1"
	TopicWorkflowRecalledV1  = "sow.workflow.recalled.v1"
	TopicWorkflowCompletedV1 = "sow.workflow.completed.v1"
	EventVersionV1           = 1
)

type WorkflowEventV1 struct {
	EventID        uuid.UUID  `json:"event_id"`
	EventVersion   int        `json:"event_version"`
	Topic          string     `json:"topic"`
	RequestID      string     `json:"request_id,omitempty"`
	DocumentID     uuid.UUID  `json:"document_id"`
	DocumentTitle  string     `json:"document_title,omitempty"`
	StageID        *uuid.UUID `json:"stage_id,omitempty"`
	StageName      string     `json:"stage_name,omitempty"`
	Decision       string     `json:"decision,omitempty"`
	ActorID        string     `json:"actor_id"`
	Comment        *string    `json:"comment,omitempty"`
	PreviousStatus string     `json:"previous_status"`
	Status         string     `json:"status"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
