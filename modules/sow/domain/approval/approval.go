package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decided reports whether an actor has ruled on the stage.
func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

// Approval is the current decision for one (document, stage) pair.
type Approval struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	StageID    uuid.UUID  `json:"stage_id"`
	Status     Status     `json:"status"`
	ActorID    *string    `json:"actor_id,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comment    *string    `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Decision struct {
	DocumentID uuid.UUID
	StageID    uuid.UUID
	Status     Status
	ActorID    string
	Comment    *string
	DecidedAt  time.Time
}

type Repository interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]Approval, error)
	// EnsurePending upserts one pending approval per stage, clearing any
	// previous decision.
	EnsurePending(ctx context.Context, documentID uuid.UUID, stageIDs []uuid.UUID) error
	Decide(ctx context.Context, d Decision) (*Approval, error)
	// ResetToPending clears decisions for the given stages, or for every
	// stage of the document when none are given.
	ResetToPending(ctx context.Context, documentID uuid.UUID, stageIDs ...uuid.UUID) error
}
