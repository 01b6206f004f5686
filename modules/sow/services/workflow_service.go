package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/modules/sow/domain/workflow"
	"github.com/sowflow/sowflow/pkg/composables"
)

type DecisionInput struct {
	DocumentID uuid.UUID
	StageID    uuid.UUID
	Decision   approval.Status
	ActorID    string
	Comment    *string
}

// WorkflowService drives a document through initiate, decide and recall.
// Every operation locks the document row, applies the transition, writes the
// audit trail and outbox events, then reconciles the status in the same
// transaction.
type WorkflowService struct {
	repos       Repositories
	consistency *ConsistencyService
	opts        Options
}

func NewWorkflowService(repos Repositories, consistency *ConsistencyService, opts Options) *WorkflowService {
	opts.setDefaults()
	if consistency == nil {
		consistency = NewConsistencyService(repos, opts)
	}
	return &WorkflowService{repos: repos, consistency: consistency, opts: opts}
}

func (s *WorkflowService) Initiate(ctx context.Context, documentID uuid.UUID, actorID string) (document.Status, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", invalidInput("actor_id is required")
	}
	return s.mutate(ctx, "initiate", documentID, func(txCtx context.Context, snap workflow.Snapshot) (document.Status, error) {
		if err := workflow.CheckInitiate(snap); err != nil {
			return "", err
		}
		doc := snap.Document
		if err := s.repos.Approvals.EnsurePending(txCtx, doc.ID, workflow.StageIDs(snap.Stages)); err != nil {
			return "", err
		}
		if err := setStatus(txCtx, s.repos.Documents, doc.ID, doc.Status, document.StatusInReview); err != nil {
			return "", err
		}
		entry := &auditlog.Entry{
			DocumentID: doc.ID,
			Kind:       auditlog.KindInitiated,
			ActorID:    actorID,
			FromStatus: doc.Status,
			ToStatus:   document.StatusInReview,
			OccurredAt: s.opts.Now(),
		}
		if err := s.repos.AuditLog.Append(txCtx, entry); err != nil {
			return "", err
		}
		ev := s.event(txCtx, events.TopicWorkflowInitiatedV1, doc, entry)
		return document.StatusInReview, s.emit(txCtx, ev)
	})
}

func (s *WorkflowService) RecordDecision(ctx context.Context, in DecisionInput) (document.Status, error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	switch {
	case in.StageID == uuid.Nil:
		return "", invalidInput("stage_id is required")
	case in.ActorID == "":
		return "", invalidInput("actor_id is required")
	case !in.Decision.Decided():
		return "", mapError(workflow.ErrInvalidDecision)
	}

	return s.mutate(ctx, "decide", in.DocumentID, func(txCtx context.Context, snap workflow.Snapshot) (document.Status, error) {
		now := s.opts.Now()
		plan, err := workflow.PlanDecision(snap, in.StageID, in.Decision, in.ActorID, now, workflow.DecisionPolicy{
			AllowRedecision: s.opts.AllowRedecision,
		})
		if err != nil {
			return "", err
		}
		if s.opts.EnforceStageAssignee && !assignedTo(plan.Stage, in.ActorID) {
			return "", ErrNotAssignee
		}

		doc := snap.Document
		if len(plan.ResetStageIDs) > 0 {
			if err := s.repos.Approvals.ResetToPending(txCtx, doc.ID, plan.ResetStageIDs...); err != nil {
				return "", err
			}
		}
		if _, err := s.repos.Approvals.Decide(txCtx, approval.Decision{
			DocumentID: doc.ID,
			StageID:    in.StageID,
			Status:     in.Decision,
			ActorID:    in.ActorID,
			Comment:    in.Comment,
			DecidedAt:  now,
		}); err != nil {
			return "", err
		}
		if err := setStatus(txCtx, s.repos.Documents, doc.ID, doc.Status, plan.NewStatus); err != nil {
			return "", err
		}

		stageID := plan.Stage.ID
		entry := &auditlog.Entry{
			DocumentID: doc.ID,
			StageID:    &stageID,
			StageName:  plan.Stage.Name,
			Kind:       auditlog.KindDecided,
			Decision:   in.Decision,
			ActorID:    in.ActorID,
			Comment:    in.Comment,
			FromStatus: doc.Status,
			ToStatus:   plan.NewStatus,
			OccurredAt: now,
		}
		if err := s.repos.AuditLog.Append(txCtx, entry); err != nil {
			return "", err
		}
		if plan.Redecision {
			s.opts.logger(txCtx).WithFields(logrus.Fields{
				"document_id": doc.ID.String(),
				"stage_id":    stageID.String(),
				"reset":       len(plan.ResetStageIDs),
			}).Info("sow: stage re-decided")
		}

		if err := s.emit(txCtx, s.event(txCtx, events.TopicWorkflowDecidedV1, doc, entry)); err != nil {
			return "", err
		}
		if plan.NewStatus.Final() {
			if err := s.emit(txCtx, s.event(txCtx, events.TopicWorkflowCompletedV1, doc, entry)); err != nil {
				return "", err
			}
		}
		return plan.NewStatus, nil
	})
}

func (s *WorkflowService) Recall(ctx context.Context, documentID uuid.UUID, actorID string) (document.Status, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", invalidInput("actor_id is required")
	}
	return s.mutate(ctx, "recall", documentID, func(txCtx context.Context, snap workflow.Snapshot) (document.Status, error) {
		if err := workflow.CheckRecall(snap); err != nil {
			return "", err
		}
		doc := snap.Document
		if err := s.repos.Approvals.ResetToPending(txCtx, doc.ID); err != nil {
			return "", err
		}
		if err := setStatus(txCtx, s.repos.Documents, doc.ID, doc.Status, document.StatusRecalled); err != nil {
			return "", err
		}
		entry := &auditlog.Entry{
			DocumentID: doc.ID,
			Kind:       auditlog.KindRecalled,
			ActorID:    actorID,
			FromStatus: doc.Status,
			ToStatus:   document.StatusRecalled,
			OccurredAt: s.opts.Now(),
		}
		if err := s.repos.AuditLog.Append(txCtx, entry); err != nil {
			return "", err
		}
		return document.StatusRecalled, s.emit(txCtx, s.event(txCtx, events.TopicWorkflowRecalledV1, doc, entry))
	})
}

type mutation func(ctx context.Context, snap workflow.Snapshot) (document.Status, error)

func (s *WorkflowService) mutate(ctx context.Context, operation string, documentID uuid.UUID, fn mutation) (status document.Status, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sow."+operation, trace.WithAttributes(
		attribute.String("sow.document_id", documentID.String()),
	))
	defer func() {
		endSpan(span, err)
		observeOperation(operation, started, err)
	}()

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	err = s.opts.InTx(ctx, func(txCtx context.Context) error {
		snap, err := s.load(txCtx, documentID)
		if err != nil {
			return err
		}
		next, err := fn(txCtx, snap)
		if err != nil {
			return err
		}
		doc := snap.Document
		doc.Status = next
		res, err := s.consistency.reconcileLocked(txCtx, &doc, "post_"+operation)
		if err != nil {
			return err
		}
		status = res.Current
		return nil
	})
	if err != nil {
		s.opts.logger(ctx).WithError(err).WithFields(logrus.Fields{
			"operation":   operation,
			"document_id": documentID.String(),
		}).Info("sow: workflow operation rejected")
		return "", mapError(err)
	}
	span.SetAttributes(attribute.String("sow.status", string(status)))
	return status, nil
}

func (s *WorkflowService) load(ctx context.Context, documentID uuid.UUID) (workflow.Snapshot, error) {
	doc, err := s.repos.Documents.GetForUpdate(ctx, documentID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	stages, err := s.repos.Stages.ListActive(ctx)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	approvals, err := s.repos.Approvals.ListByDocument(ctx, documentID)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return workflow.Snapshot{Document: *doc, Stages: stages, Approvals: approvals}, nil
}

func (s *WorkflowService) event(ctx context.Context, topic string, doc document.Document, entry *auditlog.Entry) *events.WorkflowEventV1 {
	return &events.WorkflowEventV1{
		EventID:        uuid.New(),
		EventVersion:   events.EventVersionV1,
		Topic:          topic,
		RequestID:      composables.UseRequestID(ctx),
		DocumentID:     doc.ID,
		DocumentTitle:  doc.Title,
		StageID:        entry.StageID,
		StageName:      entry.StageName,
		Decision:       string(entry.Decision),
		ActorID:        entry.ActorID,
		Comment:        entry.Comment,
		PreviousStatus: string(entry.FromStatus),
		Status:         string(entry.ToStatus),
		OccurredAt:     entry.OccurredAt,
	}
}

// emit writes through the caller's transaction, so a failure aborts the
// operation.
func (s *WorkflowService) emit(ctx context.Context, ev *events.WorkflowEventV1) error {
	if s.opts.Emitter == nil {
		return nil
	}
	return s.opts.Emitter.Emit(ctx, ev)
}

func assignedTo(st stage.Stage, actorID string) bool {
	if st.AssignedUserID == nil || strings.TrimSpace(*st.AssignedUserID) == "" {
		return true
	}
	return strings.TrimSpace(*st.AssignedUserID) == actorID
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
