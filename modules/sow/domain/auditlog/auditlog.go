package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
)

type Kind string

const (
	KindInitiated   Kind = "initiated"
	KindDecided     Kind = "decided"
	KindRecalled    Kind = "recalled"
	KindReconciled  Kind = "reconciled"
	KindStatusReset Kind = "status_reset"
)

// Entry is one append-only workflow event. Approvals are mutated in place,
// so this log is the durable history.
type Entry struct {
	ID         int64           `json:"id"`
	DocumentID uuid.UUID       `json:"document_id"`
	StageID    *uuid.UUID      `json:"stage_id,omitempty"`
	StageName  string          `json:"stage_name,omitempty"`
	Kind       Kind            `json:"kind"`
	Decision   approval.Status `json:"decision,omitempty"`
	ActorID    string          `json:"actor_id,omitempty"`
	Comment    *string         `json:"comment,omitempty"`
	FromStatus document.Status `json:"from_status,omitempty"`
	ToStatus   document.Status `json:"to_status,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Repository interface {
	Append(ctx context.Context, e *Entry) error
	// ListByDocument returns entries oldest first.
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Entry, error)
}
