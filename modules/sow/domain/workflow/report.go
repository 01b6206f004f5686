package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
)

type StageStatus struct {
	StageID   uuid.UUID       `json:"stage_id"`
	StageName string          `json:"stage_name"`
	SortOrder int             `json:"sort_order"`
	Status    approval.Status `json:"status"`
	ActorID   *string         `json:"actor_id,omitempty"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
	Comment   *string         `json:"comment,omitempty"`
}

type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

type Stats struct {
	DocumentID        uuid.UUID       `json:"document_id"`
	Status            document.Status `json:"status"`
	PerStage          []StageStatus   `json:"per_stage_status"`
	Counts            Counts          `json:"counts"`
	CompletionPercent int             `json:"completion_percent"`
	BlockingStage     *StageStatus    `json:"blocking_stage"`
}

// ComputeStats summarizes the active stages. A stage without an approval
// row counts as pending.
func ComputeStats(s Snapshot) Stats {
	byStage := s.byStage()
	stats := Stats{
		DocumentID: s.Document.ID,
		Status:     s.Document.Status,
		PerStage:   make([]StageStatus, 0, len(s.Stages)),
	}
	for _, st := range s.Stages {
		row := StageStatus{
			StageID:   st.ID,
			StageName: st.Name,
			SortOrder: st.SortOrder,
			Status:    approval.StatusPending,
		}
		if a, ok := byStage[st.ID]; ok {
			row.Status = a.Status
			row.ActorID = a.ActorID
			row.DecidedAt = a.DecidedAt
			row.Comment = a.Comment
		}
		switch row.Status {
		case approval.StatusApproved:
			stats.Counts.Approved++
		case approval.StatusRejected:
			stats.Counts.Rejected++
		default:
			stats.Counts.Pending++
		}
		stats.PerStage = append(stats.PerStage, row)
	}
	if n := len(s.Stages); n > 0 {
		stats.CompletionPercent = stats.Counts.Approved * 100 / n
	}
	for i := range stats.PerStage {
		if stats.PerStage[i].Status == approval.StatusPending {
			blocking := stats.PerStage[i]
			stats.BlockingStage = &blocking
			break
		}
	}
	return stats
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type IssueCode string

const (
	IssueMissingApproval   IssueCode = "missing_approval"
	IssueDuplicateApproval IssueCode = "duplicate_approval"
	IssueInactiveStage     IssueCode = "inactive_stage"
	IssueGatingViolation   IssueCode = "gating_violation"
	IssueStatusDrift       IssueCode = "status_drift"
)

type Issue struct {
	Code     IssueCode  `json:"code"`
	Severity Severity   `json:"severity"`
	StageID  *uuid.UUID `json:"stage_id,omitempty"`
	Message  string     `json:"message"`
}

type Validation struct {
	Valid         bool            `json:"valid"`
	StoredStatus  document.Status `json:"stored_status"`
	DerivedStatus document.Status `json:"derived_status"`
	Issues        []Issue         `json:"issues"`
}

// Validate checks that the stored approvals have the expected shape. It never
// repairs anything; warnings do not make the workflow invalid.
func Validate(s Snapshot) Validation {
	v := Validation{
		StoredStatus:  s.Document.Status,
		DerivedStatus: s.Derive(),
		Issues:        []Issue{},
	}
	add := func(code IssueCode, sev Severity, stageID *uuid.UUID, format string, args ...any) {
		v.Issues = append(v.Issues, Issue{Code: code, Severity: sev, StageID: stageID, Message: fmt.Sprintf(format, args...)})
	}

	active := make(map[uuid.UUID]struct{}, len(s.Stages))
	for _, st := range s.Stages {
		active[st.ID] = struct{}{}
	}
	seen := make(map[uuid.UUID]int, len(s.Approvals))
	for _, a := range s.Approvals {
		id := a.StageID
		seen[id]++
		if seen[id] == 2 {
			add(IssueDuplicateApproval, SeverityError, &id, "more than one approval for stage %s", id)
		}
		if _, ok := active[id]; !ok && seen[id] == 1 {
			add(IssueInactiveStage, SeverityWarning, &id, "approval references unknown or inactive stage %s", id)
		}
	}

	byStage := s.byStage()
	gateOpen := true
	for _, st := range s.Stages {
		id := st.ID
		a, ok := byStage[id]
		if !ok {
			if s.Document.Status != document.StatusDraft {
				add(IssueMissingApproval, SeverityError, &id, "stage %q has no approval", st.Name)
			}
			gateOpen = false
			continue
		}
		if !gateOpen && a.Status.Decided() {
			add(IssueGatingViolation, SeverityError, &id, "stage %q was decided before an earlier stage was approved", st.Name)
		}
		if a.Status != approval.StatusApproved {
			gateOpen = false
		}
	}

	if v.DerivedStatus != v.StoredStatus {
		add(IssueStatusDrift, SeverityError, nil, "stored status %s differs from derived status %s", v.StoredStatus, v.DerivedStatus)
	}

	v.Valid = true
	for _, issue := range v.Issues {
		if issue.Severity == SeverityError {
			v.Valid = false
			break
		}
	}
	return v
}
