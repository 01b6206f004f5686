// Package workflow holds the side-effect free rules of the SOW approval
// workflow: status derivation, sequential gating and decision planning.
// Services load a Snapshot inside a locked transaction, ask this package
// what should happen and then persist the result.
package workflow

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

var (
	ErrNoActiveStages      = errors.New("no active stages configured")
	ErrInvalidDecision     = errors.New("decision must be approved or rejected")
	ErrNotInReview         = errors.New("document is not in review")
	ErrStageNotActive      = errors.New("stage is not active")
	ErrApprovalMissing     = errors.New("approval not found for stage")
	ErrStageNotActionable  = errors.New("stage not yet actionable")
	ErrAlreadyDecided      = errors.New("stage already decided; recall the workflow to change it")
	ErrCannotInitiate      = errors.New("workflow can only be initiated from draft or recalled")
	ErrCannotRecall        = errors.New("workflow can only be recalled while in review or rejected")
	ErrDocumentHidden      = errors.New("document is hidden")
	ErrDocumentNotLatest   = errors.New("document is not the latest version")
)

// Snapshot is the state one operation works on. Stages must be the active
// stages ordered by sort order.
type Snapshot struct {
	Document  document.Document
	Stages    []stage.Stage
	Approvals []approval.Approval
}

func (s Snapshot) byStage() map[uuid.UUID]approval.Approval {
	m := make(map[uuid.UUID]approval.Approval, len(s.Approvals))
	for _, a := range s.Approvals {
		m[a.StageID] = a
	}
	return m
}

func (s Snapshot) stageIndex(stageID uuid.UUID) int {
	for i, st := range s.Stages {
		if st.ID == stageID {
			return i
		}
	}
	return -1
}

// DeriveStatus recomputes the document status from the approvals of the
// active stages. current is needed only when no decision has been recorded,
// because an all-pending approval set is produced both by initiation and
// by recall. A review keeps running while any active stage has an approval
// row; a stage activated after initiation leaves a gap that Validate reports
// as missing_approval.
func DeriveStatus(current document.Status, stages []stage.Stage, approvals []approval.Approval) document.Status {
	byStage := Snapshot{Approvals: approvals}.byStage()

	present, approved := 0, 0
	for _, st := range stages {
		a, ok := byStage[st.ID]
		if !ok {
			continue
		}
		present++
		switch a.Status {
		case approval.StatusRejected:
			return document.StatusRejected
		case approval.StatusApproved:
			approved++
		}
	}

	complete := len(stages) > 0 && present == len(stages)
	switch {
	case complete && approved == len(stages):
		return document.StatusApproved
	case approved > 0:
		return document.StatusInReview
	}

	switch current {
	case document.StatusInReview:
		if present > 0 {
			return document.StatusInReview
		}
		return document.StatusDraft
	case document.StatusApproved, document.StatusRejected:
		return document.StatusRecalled
	default:
		return current
	}
}

// Derive is DeriveStatus over the snapshot.
func (s Snapshot) Derive() document.Status {
	return DeriveStatus(s.Document.Status, s.Stages, s.Approvals)
}

// CheckInitiate validates that a workflow may start on the snapshot.
func CheckInitiate(s Snapshot) error {
	switch {
	case s.Document.Hidden:
		return ErrDocumentHidden
	case !s.Document.IsLatest:
		return ErrDocumentNotLatest
	case s.Document.Status != document.StatusDraft && s.Document.Status != document.StatusRecalled:
		return ErrCannotInitiate
	case len(s.Stages) == 0:
		return ErrNoActiveStages
	}
	return nil
}

// CheckRecall validates that the workflow may be pulled back.
func CheckRecall(s Snapshot) error {
	if s.Document.Status != document.StatusInReview && s.Document.Status != document.StatusRejected {
		return ErrCannotRecall
	}
	return nil
}

// CheckActionable enforces sequential gating: every active stage ordered
// before stageID must already be approved.
func CheckActionable(s Snapshot, stageID uuid.UUID) error {
	idx := s.stageIndex(stageID)
	byStage := s.byStage()
	if _, ok := byStage[stageID]; !ok {
		return ErrApprovalMissing
	}
	if idx < 0 {
		return ErrStageNotActive
	}
	for _, earlier := range s.Stages[:idx] {
		a, ok := byStage[earlier.ID]
		if !ok || a.Status != approval.StatusApproved {
			return ErrStageNotActionable
		}
	}
	return nil
}

// LaterStages returns the active stages ordered after stageID.
func LaterStages(s Snapshot, stageID uuid.UUID) []stage.Stage {
	idx := s.stageIndex(stageID)
	if idx < 0 {
		return nil
	}
	return s.Stages[idx+1:]
}

type DecisionPolicy struct {
	AllowRedecision bool
}

// DecisionPlan is what RecordDecision must persist.
type DecisionPlan struct {
	Stage stage.Stage
	// ResetStageIDs are later stages whose decisions are voided by a
	// re-decision.
	ResetStageIDs []uuid.UUID
	Redecision    bool
	NewStatus     document.Status
}

// PlanDecision validates a decision against the snapshot and computes the
// resulting document status.
func PlanDecision(s Snapshot, stageID uuid.UUID, decision approval.Status, actorID string, at time.Time, policy DecisionPolicy) (DecisionPlan, error) {
	if !decision.Decided() {
		return DecisionPlan{}, ErrInvalidDecision
	}
	switch s.Document.Status {
	case document.StatusInReview:
	case document.StatusRejected:
		if !policy.AllowRedecision {
			return DecisionPlan{}, ErrNotInReview
		}
	default:
		return DecisionPlan{}, ErrNotInReview
	}
	if err := CheckActionable(s, stageID); err != nil {
		return DecisionPlan{}, err
	}

	current := s.byStage()[stageID]
	plan := DecisionPlan{Stage: s.Stages[s.stageIndex(stageID)]}
	if current.Status.Decided() {
		if !policy.AllowRedecision {
			return DecisionPlan{}, ErrAlreadyDecided
		}
		plan.Redecision = true
		byStage := s.byStage()
		for _, later := range LaterStages(s, stageID) {
			if a, ok := byStage[later.ID]; ok && a.Status != approval.StatusPending {
				plan.ResetStageIDs = append(plan.ResetStageIDs, later.ID)
			}
		}
	} else if s.Document.Status == document.StatusRejected {
		// A rejected document can only change through re-decision.
		return DecisionPlan{}, ErrNotInReview
	}

	next := ApplyDecision(s.Approvals, stageID, decision, actorID, at, plan.ResetStageIDs)
	plan.NewStatus = DeriveStatus(s.Document.Status, s.Stages, next)
	return plan, nil
}

// ApplyDecision returns a copy of approvals with the decision recorded and
// the reset stages returned to pending.
func ApplyDecision(approvals []approval.Approval, stageID uuid.UUID, decision approval.Status, actorID string, at time.Time, reset []uuid.UUID) []approval.Approval {
	resetSet := make(map[uuid.UUID]struct{}, len(reset))
	for _, id := range reset {
		resetSet[id] = struct{}{}
	}
	out := make([]approval.Approval, len(approvals))
	for i, a := range approvals {
		switch _, isReset := resetSet[a.StageID]; {
		case a.StageID == stageID:
			actor, when := actorID, at
			a.Status = decision
			a.ActorID = &actor
			a.DecidedAt = &when
		case isReset:
			a = pending(a)
		}
		out[i] = a
	}
	return out
}

// ResetAll returns a copy of approvals with every decision cleared.
func ResetAll(approvals []approval.Approval) []approval.Approval {
	out := make([]approval.Approval, len(approvals))
	for i, a := range approvals {
		out[i] = pending(a)
	}
	return out
}

func pending(a approval.Approval) approval.Approval {
	a.Status = approval.StatusPending
	a.ActorID = nil
	a.DecidedAt = nil
	a.Comment = nil
	return a
}

// StageIDs returns the ids of stages in order.
func StageIDs(stages []stage.Stage) []uuid.UUID {
	ids := make([]uuid.UUID, len(stages))
	for i, st := range stages {
		ids[i] = st.ID
	}
	return ids
}
