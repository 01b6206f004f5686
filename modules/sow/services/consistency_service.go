package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/workflow"
)

const systemActor = "system"

type ReconcileResult struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Changed    bool            `json:"changed"`
	Previous   document.Status `json:"previous_status"`
	Current    document.Status `json:"status"`
}

type ResetResult struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Changed    bool            `json:"changed"`
	Status     document.Status `json:"status"`
}

type SweepResult struct {
	Status  document.Status   `json:"status"`
	Scanned int               `json:"scanned"`
	Changed int               `json:"changed"`
	Failed  int               `json:"failed"`
	Changes []ReconcileResult `json:"changes"`
}

// ConsistencyService recomputes document status from the approval rows and
// repairs drift.
type ConsistencyService struct {
	repos Repositories
	opts  Options
}

func NewConsistencyService(repos Repositories, opts Options) *ConsistencyService {
	opts.setDefaults()
	return &ConsistencyService{repos: repos, opts: opts}
}

func (s *ConsistencyService) CheckAndFix(ctx context.Context, documentID uuid.UUID) (ReconcileResult, error) {
	return s.checkAndFix(ctx, documentID, "manual")
}

func (s *ConsistencyService) checkAndFix(ctx context.Context, documentID uuid.UUID, trigger string) (res ReconcileResult, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sow.reconcile", trace.WithAttributes(
		attribute.String("sow.document_id", documentID.String()),
		attribute.String("sow.trigger", trigger),
	))
	defer func() {
		endSpan(span, err)
		observeOperation("reconcile", started, err)
	}()

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	err = s.opts.InTx(ctx, func(txCtx context.Context) error {
		doc, err := s.repos.Documents.GetForUpdate(txCtx, documentID)
		if err != nil {
			return err
		}
		res, err = s.reconcileLocked(txCtx, doc, trigger)
		return err
	})
	if err != nil {
		return ReconcileResult{}, mapError(err)
	}
	return res, nil
}

// reconcileLocked expects the document row to be locked by the caller's
// transaction and doc.Status to reflect any write made in it.
func (s *ConsistencyService) reconcileLocked(ctx context.Context, doc *document.Document, trigger string) (ReconcileResult, error) {
	stages, err := s.repos.Stages.ListActive(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	approvals, err := s.repos.Approvals.ListByDocument(ctx, doc.ID)
	if err != nil {
		return ReconcileResult{}, err
	}

	derived := workflow.DeriveStatus(doc.Status, stages, approvals)
	res := ReconcileResult{DocumentID: doc.ID, Previous: doc.Status, Current: derived}
	if derived == doc.Status {
		recordReconcile(trigger, false)
		return res, nil
	}

	if err := setStatus(ctx, s.repos.Documents, doc.ID, doc.Status, derived); err != nil {
		return ReconcileResult{}, err
	}
	if err := s.repos.AuditLog.Append(ctx, &auditlog.Entry{
		DocumentID: doc.ID,
		Kind:       auditlog.KindReconciled,
		ActorID:    systemActor,
		FromStatus: doc.Status,
		ToStatus:   derived,
		OccurredAt: s.opts.Now(),
	}); err != nil {
		return ReconcileResult{}, err
	}

	s.opts.logger(ctx).WithFields(logrus.Fields{
		"document_id": doc.ID.String(),
		"previous":    doc.Status,
		"current":     derived,
		"trigger":     trigger,
	}).Warn("sow: repaired document status drift")
	recordReconcile(trigger, true)

	doc.Status = derived
	res.Changed = true
	return res, nil
}

// ResetInvalidStatus returns an in_review document that has no approval rows
// at all to draft.
func (s *ConsistencyService) ResetInvalidStatus(ctx context.Context, documentID uuid.UUID) (res ResetResult, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sow.reset_status", trace.WithAttributes(
		attribute.String("sow.document_id", documentID.String()),
	))
	defer func() {
		endSpan(span, err)
		observeOperation("reset_status", started, err)
	}()

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	err = s.opts.InTx(ctx, func(txCtx context.Context) error {
		doc, err := s.repos.Documents.GetForUpdate(txCtx, documentID)
		if err != nil {
			return err
		}
		res = ResetResult{DocumentID: doc.ID, Status: doc.Status}
		if doc.Status != document.StatusInReview {
			return nil
		}
		approvals, err := s.repos.Approvals.ListByDocument(txCtx, doc.ID)
		if err != nil {
			return err
		}
		if len(approvals) > 0 {
			return nil
		}
		if err := setStatus(txCtx, s.repos.Documents, doc.ID, doc.Status, document.StatusDraft); err != nil {
			return err
		}
		if err := s.repos.AuditLog.Append(txCtx, &auditlog.Entry{
			DocumentID: doc.ID,
			Kind:       auditlog.KindStatusReset,
			ActorID:    systemActor,
			FromStatus: doc.Status,
			ToStatus:   document.StatusDraft,
			OccurredAt: s.opts.Now(),
		}); err != nil {
			return err
		}
		res.Changed = true
		res.Status = document.StatusDraft
		return nil
	})
	if err != nil {
		return ResetResult{}, mapError(err)
	}
	if res.Changed {
		sowStatusResets.Inc()
		s.opts.logger(ctx).WithField("document_id", documentID.String()).Warn("sow: reset orphaned in_review document to draft")
	}
	return res, nil
}

// ReconcileAll runs CheckAndFix over every visible document with the given
// status, one transaction per document. Individual failures are counted and
// the sweep continues.
func (s *ConsistencyService) ReconcileAll(ctx context.Context, status document.Status) (SweepResult, error) {
	if status == "" {
		status = document.StatusInReview
	}
	if !status.Valid() {
		return SweepResult{}, invalidInput("unknown document status " + string(status))
	}

	out := SweepResult{Status: status, Changes: []ReconcileResult{}}
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ids, err := s.listPage(ctx, status, after)
		if err != nil {
			return out, mapError(err)
		}
		for _, id := range ids {
			out.Scanned++
			res, err := s.checkAndFix(ctx, id, "sweep")
			if err != nil {
				out.Failed++
				s.opts.logger(ctx).WithError(err).WithField("document_id", id.String()).Error("sow: reconcile failed")
				continue
			}
			if res.Changed {
				out.Changed++
				out.Changes = append(out.Changes, res)
			}
		}
		if len(ids) < s.opts.ReconcileBatchSize {
			return out, nil
		}
		after = ids[len(ids)-1]
	}
}

func (s *ConsistencyService) listPage(ctx context.Context, status document.Status, after uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()
	return s.repos.Documents.ListIDsByStatus(ctx, status, after, s.opts.ReconcileBatchSize)
}

func setStatus(ctx context.Context, docs document.Repository, id uuid.UUID, from, to document.Status) error {
	if from == to {
		return nil
	}
	ok, err := docs.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return newServiceError(http.StatusConflict, CodeInvalidState, "document status changed concurrently", nil)
	}
	return nil
}
