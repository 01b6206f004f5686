package document

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRecalled Status = "recalled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusRecalled:
		return true
	}
	return false
}

// Final reports whether the workflow reached a decision.
func (s Status) Final() bool {
	return s == StatusApproved || s == StatusRejected
}

// Document is a Statement of Work. Only Status is written by the workflow;
// the remaining fields belong to the editing flows.
type Document struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	Version   int        `json:"version"`
	IsLatest  bool       `json:"is_latest"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Hidden    bool       `json:"hidden"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
