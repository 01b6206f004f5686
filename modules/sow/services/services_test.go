package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/modules/sow/domain/workflow"
	"github.com/sowflow/sowflow/modules/sow/testhelpers"
)

type fixture struct {
	store       *testhelpers.Store
	workflow    *WorkflowService
	consistency *ConsistencyService
	reports     *ReportService
	stages      []stage.Stage
	doc         document.Document
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := testhelpers.NewStore()
	stages := []stage.Stage{
		store.AddStage("Legal", 1, true),
		store.AddStage("Finance", 2, true),
		store.AddStage("Executive", 3, true),
	}
	opts.InTx = store.RunInTx
	opts.Emitter = store
	opts.Now = store.Now
	opts.Logger = quietLogger()

	repos := Repositories{
		Documents: store.Documents(),
		Stages:    store.Stages(),
		Approvals: store.Approvals(),
		AuditLog:  store.AuditLog(),
	}
	consistency := NewConsistencyService(repos, opts)
	return &fixture{
		store:       store,
		workflow:    NewWorkflowService(repos, consistency, opts),
		consistency: consistency,
		reports:     NewReportService(repos, opts),
		stages:      stages,
		doc:         store.AddDocument(document.Document{Title: "Acme rollout", CreatedBy: "owner"}),
	}
}

func (f *fixture) decide(t *testing.T, stageIdx int, decision approval.Status) document.Status {
	t.Helper()
	status, err := f.workflow.RecordDecision(context.Background(), DecisionInput{
		DocumentID: f.doc.ID,
		StageID:    f.stages[stageIdx].ID,
		Decision:   decision,
		ActorID:    "approver",
	})
	require.NoError(t, err)
	return status
}

func requireServiceError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
}

func TestWorkflow_FullApproval(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	status, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	require.Equal(t, document.StatusInReview, status)

	approvals := f.store.ApprovalsFor(f.doc.ID)
	require.Len(t, approvals, 3)
	for _, a := range approvals {
		require.Equal(t, approval.StatusPending, a.Status)
	}

	require.Equal(t, document.StatusInReview, f.decide(t, 0, approval.StatusApproved))
	require.Equal(t, document.StatusInReview, f.decide(t, 1, approval.StatusApproved))
	require.Equal(t, document.StatusApproved, f.decide(t, 2, approval.StatusApproved))
	require.Equal(t, document.StatusApproved, f.store.Document(f.doc.ID).Status)

	require.Equal(t, []string{
		events.TopicWorkflowInitiatedV1,
		events.TopicWorkflowDecidedV1,
		events.TopicWorkflowDecidedV1,
		events.TopicWorkflowDecidedV1,
		events.TopicWorkflowCompletedV1,
	}, f.store.Topics())

	last := f.store.Events()[4]
	require.Equal(t, "Acme rollout", last.DocumentTitle)
	require.Equal(t, "in_review", last.PreviousStatus)
	require.Equal(t, "approved", last.Status)

	kinds := []auditlog.Kind{}
	for _, e := range f.store.Entries(f.doc.ID) {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []auditlog.Kind{auditlog.KindInitiated, auditlog.KindDecided, auditlog.KindDecided, auditlog.KindDecided}, kinds)
}

func TestWorkflow_GatingRejectsOutOfOrderDecision(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)

	_, err = f.workflow.RecordDecision(context.Background(), DecisionInput{
		DocumentID: f.doc.ID,
		StageID:    f.stages[1].ID,
		Decision:   approval.StatusApproved,
		ActorID:    "approver",
	})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
	require.ErrorIs(t, err, workflow.ErrStageNotActionable)

	for _, a := range f.store.ApprovalsFor(f.doc.ID) {
		require.Equal(t, approval.StatusPending, a.Status)
	}
	require.Equal(t, []string{events.TopicWorkflowInitiatedV1}, f.store.Topics())
}

func TestWorkflow_RejectionIsFinal(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)

	require.Equal(t, document.StatusRejected, f.decide(t, 0, approval.StatusRejected))
	require.Contains(t, f.store.Topics(), events.TopicWorkflowCompletedV1)

	_, err = f.workflow.RecordDecision(context.Background(), DecisionInput{
		DocumentID: f.doc.ID,
		StageID:    f.stages[0].ID,
		Decision:   approval.StatusApproved,
		ActorID:    "approver",
	})
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestWorkflow_RedecisionPolicy(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
		require.NoError(t, err)
		f.decide(t, 0, approval.StatusApproved)

		_, err = f.workflow.RecordDecision(context.Background(), DecisionInput{
			DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusRejected, ActorID: "approver",
		})
		require.ErrorIs(t, err, workflow.ErrAlreadyDecided)
	})

	t.Run("allowed resets later stages", func(t *testing.T) {
		f := newFixture(t, Options{AllowRedecision: true})
		_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
		require.NoError(t, err)
		f.decide(t, 0, approval.StatusApproved)
		f.decide(t, 1, approval.StatusApproved)

		require.Equal(t, document.StatusRejected, f.decide(t, 0, approval.StatusRejected))

		byStage := map[uuid.UUID]approval.Approval{}
		for _, a := range f.store.ApprovalsFor(f.doc.ID) {
			byStage[a.StageID] = a
		}
		require.Equal(t, approval.StatusRejected, byStage[f.stages[0].ID].Status)
		require.Equal(t, approval.StatusPending, byStage[f.stages[1].ID].Status)
		require.Nil(t, byStage[f.stages[1].ID].ActorID)
	})
}

func TestWorkflow_RecallAndReinitiate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)

	comment := "missing budget"
	_, err = f.workflow.RecordDecision(ctx, DecisionInput{
		DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusRejected, ActorID: "legal", Comment: &comment,
	})
	require.NoError(t, err)

	status, err := f.workflow.Recall(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	require.Equal(t, document.StatusRecalled, status)
	for _, a := range f.store.ApprovalsFor(f.doc.ID) {
		require.Equal(t, approval.StatusPending, a.Status)
		require.Nil(t, a.ActorID)
		require.Nil(t, a.DecidedAt)
		require.Nil(t, a.Comment)
	}

	status, err = f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	require.Equal(t, document.StatusInReview, status)
	require.Len(t, f.store.ApprovalsFor(f.doc.ID), 3)
}

func TestWorkflow_RecallRequiresReviewOrRejection(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.workflow.Recall(context.Background(), f.doc.ID, "owner")
	require.ErrorIs(t, err, workflow.ErrCannotRecall)

	_, err = f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)
	for i := range f.stages {
		f.decide(t, i, approval.StatusApproved)
	}
	_, err = f.workflow.Recall(context.Background(), f.doc.ID, "owner")
	requireServiceError(t, err, http.StatusConflict, CodeInvalidState)
}

func TestWorkflow_InitiatePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown document", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.workflow.Initiate(ctx, uuid.New(), "owner")
		requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
	})

	t.Run("hidden document", func(t *testing.T) {
		f := newFixture(t, Options{})
		doc := f.store.AddDocument(document.Document{Hidden: true})
		_, err := f.workflow.Initiate(ctx, doc.ID, "owner")
		require.ErrorIs(t, err, workflow.ErrDocumentHidden)
	})

	t.Run("superseded version", func(t *testing.T) {
		f := newFixture(t, Options{})
		doc := f.store.AddDocument(document.Document{Version: 1, IsLatest: false})
		_, err := f.workflow.Initiate(ctx, doc.ID, "owner")
		require.ErrorIs(t, err, workflow.ErrDocumentNotLatest)
	})

	t.Run("already in review", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
		require.NoError(t, err)
		_, err = f.workflow.Initiate(ctx, f.doc.ID, "owner")
		require.ErrorIs(t, err, workflow.ErrCannotInitiate)
	})

	t.Run("no active stages", func(t *testing.T) {
		store := testhelpers.NewStore()
		store.AddStage("Legal", 1, false)
		doc := store.AddDocument(document.Document{})
		repos := Repositories{Documents: store.Documents(), Stages: store.Stages(), Approvals: store.Approvals(), AuditLog: store.AuditLog()}
		svc := NewWorkflowService(repos, nil, Options{InTx: store.RunInTx, Logger: quietLogger()})

		_, err := svc.Initiate(ctx, doc.ID, "owner")
		require.ErrorIs(t, err, workflow.ErrNoActiveStages)
		require.Empty(t, store.ApprovalsFor(doc.ID))
	})

	t.Run("missing actor", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.workflow.Initiate(ctx, f.doc.ID, "  ")
		requireServiceError(t, err, http.StatusBadRequest, CodeInvalidInput)
	})
}

func TestWorkflow_RecordDecisionValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.workflow.RecordDecision(ctx, DecisionInput{DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: "maybe", ActorID: "a"})
	requireServiceError(t, err, http.StatusBadRequest, CodeInvalidInput)

	_, err = f.workflow.RecordDecision(ctx, DecisionInput{DocumentID: f.doc.ID, Decision: approval.StatusApproved, ActorID: "a"})
	requireServiceError(t, err, http.StatusBadRequest, CodeInvalidInput)

	_, err = f.workflow.RecordDecision(ctx, DecisionInput{DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusApproved, ActorID: "a"})
	require.ErrorIs(t, err, workflow.ErrNotInReview)

	_, err = f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	_, err = f.workflow.RecordDecision(ctx, DecisionInput{DocumentID: f.doc.ID, StageID: uuid.New(), Decision: approval.StatusApproved, ActorID: "a"})
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestWorkflow_EnforcesStageAssignee(t *testing.T) {
	f := newFixture(t, Options{EnforceStageAssignee: true})
	f.store.SetStageAssignee(f.stages[0].ID, "legal-lead")
	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)

	_, err = f.workflow.RecordDecision(context.Background(), DecisionInput{
		DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusApproved, ActorID: "intern",
	})
	requireServiceError(t, err, http.StatusForbidden, CodeUnauthorized)

	status, err := f.workflow.RecordDecision(context.Background(), DecisionInput{
		DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusApproved, ActorID: "legal-lead",
	})
	require.NoError(t, err)
	require.Equal(t, document.StatusInReview, status)
}

func TestWorkflow_StoreFailureSurfacesUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Fail = &pgconn.PgError{Code: "08006"}

	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	requireServiceError(t, err, http.StatusServiceUnavailable, CodeStoreUnavailable)

	f.store.Fail = context.DeadlineExceeded
	_, err = f.reports.GetApprovalStats(context.Background(), f.doc.ID)
	requireServiceError(t, err, http.StatusServiceUnavailable, CodeStoreUnavailable)
}

func TestWorkflow_OutboxFailureRollsBack(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.FailEmit = errors.New("outbox insert failed")

	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	requireServiceError(t, err, http.StatusInternalServerError, CodeInternal)

	require.Equal(t, document.StatusDraft, f.store.Document(f.doc.ID).Status)
	require.Empty(t, f.store.ApprovalsFor(f.doc.ID))
	require.Empty(t, f.store.Entries(f.doc.ID))
}

func TestWorkflow_ConcurrentDecisionsOnSameStage(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.workflow.RecordDecision(context.Background(), DecisionInput{
				DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusApproved, ActorID: "approver",
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			require.ErrorIs(t, err, workflow.ErrAlreadyDecided)
		}
	}
	require.Equal(t, 1, failures)
}

func TestConsistency_CheckAndFixIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.workflow.Initiate(context.Background(), f.doc.ID, "owner")
	require.NoError(t, err)
	f.decide(t, 0, approval.StatusApproved)
	f.store.SetStatus(f.doc.ID, document.StatusApproved)

	res, err := f.consistency.CheckAndFix(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, document.StatusApproved, res.Previous)
	require.Equal(t, document.StatusInReview, res.Current)

	again, err := f.consistency.CheckAndFix(context.Background(), f.doc.ID)
	require.NoError(t, err)
	require.False(t, again.Changed)
	require.Equal(t, document.StatusInReview, again.Current)

	entries := f.store.Entries(f.doc.ID)
	require.Equal(t, auditlog.KindReconciled, entries[len(entries)-1].Kind)
}

func TestConsistency_CheckAndFixUnknownDocument(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.consistency.CheckAndFix(context.Background(), uuid.New())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestConsistency_StageAddedAfterInitiationKeepsReview(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	f.decide(t, 0, approval.StatusApproved)

	compliance := f.store.AddStage("Compliance", 4, true)

	res, err := f.consistency.CheckAndFix(ctx, f.doc.ID)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, document.StatusInReview, res.Current)
	require.Equal(t, document.StatusInReview, f.store.Document(f.doc.ID).Status)

	v, err := f.reports.ValidateWorkflow(ctx, f.doc.ID)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, document.StatusInReview, v.DerivedStatus)
	require.Len(t, v.Issues, 1)
	require.Equal(t, workflow.IssueMissingApproval, v.Issues[0].Code)
	require.Equal(t, compliance.ID, *v.Issues[0].StageID)
}

func TestConsistency_ResetInvalidStatus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	orphan := f.store.AddDocument(document.Document{Status: document.StatusInReview})
	res, err := f.consistency.ResetInvalidStatus(ctx, orphan.ID)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, document.StatusDraft, f.store.Document(orphan.ID).Status)
	require.Equal(t, auditlog.KindStatusReset, f.store.Entries(orphan.ID)[0].Kind)

	_, err = f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	res, err = f.consistency.ResetInvalidStatus(ctx, f.doc.ID)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.Equal(t, document.StatusInReview, res.Status)

	draft := f.store.AddDocument(document.Document{})
	res, err = f.consistency.ResetInvalidStatus(ctx, draft.ID)
	require.NoError(t, err)
	require.False(t, res.Changed)
}

func TestConsistency_ReconcileAllPages(t *testing.T) {
	f := newFixture(t, Options{ReconcileBatchSize: 1})
	ctx := context.Background()

	healthy := f.doc
	_, err := f.workflow.Initiate(ctx, healthy.ID, "owner")
	require.NoError(t, err)

	orphan := f.store.AddDocument(document.Document{Status: document.StatusInReview})

	drifted := f.store.AddDocument(document.Document{})
	_, err = f.workflow.Initiate(ctx, drifted.ID, "owner")
	require.NoError(t, err)
	_, err = f.workflow.RecordDecision(ctx, DecisionInput{
		DocumentID: drifted.ID, StageID: f.stages[0].ID, Decision: approval.StatusRejected, ActorID: "legal",
	})
	require.NoError(t, err)
	f.store.SetStatus(drifted.ID, document.StatusInReview)

	f.store.AddDocument(document.Document{Status: document.StatusInReview, Hidden: true})

	out, err := f.consistency.ReconcileAll(ctx, "")
	require.NoError(t, err)
	require.Equal(t, document.StatusInReview, out.Status)
	require.Equal(t, 3, out.Scanned)
	require.Equal(t, 2, out.Changed)
	require.Zero(t, out.Failed)
	require.Equal(t, document.StatusDraft, f.store.Document(orphan.ID).Status)
	require.Equal(t, document.StatusRejected, f.store.Document(drifted.ID).Status)
	require.Equal(t, document.StatusInReview, f.store.Document(healthy.ID).Status)

	_, err = f.consistency.ReconcileAll(ctx, "bogus")
	requireServiceError(t, err, http.StatusBadRequest, CodeInvalidInput)
}

func TestReports_StatsAndAudit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	f.decide(t, 0, approval.StatusApproved)

	stats, err := f.reports.GetApprovalStats(ctx, f.doc.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.Counts{Pending: 2, Approved: 1}, stats.Counts)
	require.Equal(t, 33, stats.CompletionPercent)
	require.NotNil(t, stats.BlockingStage)
	require.Equal(t, "Finance", stats.BlockingStage.StageName)

	_, err = f.workflow.Recall(ctx, f.doc.ID, "owner")
	require.NoError(t, err)

	summary, err := f.reports.GetAuditSummary(ctx, f.doc.ID)
	require.NoError(t, err)
	require.Len(t, summary.Events, 1)
	require.Equal(t, "Legal", summary.Events[0].StageName)
	require.Equal(t, approval.StatusApproved, summary.Events[0].Decision)
	require.Equal(t, "approver", summary.Events[0].ActorID)

	_, err = f.reports.GetAuditSummary(ctx, uuid.New())
	requireServiceError(t, err, http.StatusNotFound, CodeNotFound)
}

func TestReports_ValidateWorkflow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)

	v, err := f.reports.ValidateWorkflow(ctx, f.doc.ID)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Empty(t, v.Issues)

	f.store.InsertApproval(approval.Approval{DocumentID: f.doc.ID, StageID: f.stages[0].ID, Status: approval.StatusPending})
	v, err = f.reports.ValidateWorkflow(ctx, f.doc.ID)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, workflow.IssueDuplicateApproval, v.Issues[0].Code)
}

func TestReports_ExportChangelog(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.workflow.Initiate(ctx, f.doc.ID, "owner")
	require.NoError(t, err)
	comment := "ok, with notes"
	_, err = f.workflow.RecordDecision(ctx, DecisionInput{
		DocumentID: f.doc.ID, StageID: f.stages[0].ID, Decision: approval.StatusApproved, ActorID: "legal", Comment: &comment,
	})
	require.NoError(t, err)

	exp, err := f.reports.ExportChangelog(ctx, f.doc.ID, FormatCSV)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(exp.Filename, ".csv"))
	records, err := csv.NewReader(bytes.NewReader(exp.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, changelogHeader, records[0])
	require.Equal(t, []string{"decided", "Legal", "approved", "legal", "ok, with notes", "in_review", "in_review"}, records[2][1:])

	exp, err = f.reports.ExportChangelog(ctx, f.doc.ID, FormatXLSX)
	require.NoError(t, err)
	book, err := excelize.OpenReader(bytes.NewReader(exp.Body))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(changelogSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "initiated", rows[1][1])

	_, err = f.reports.ExportChangelog(ctx, f.doc.ID, "pdf")
	requireServiceError(t, err, http.StatusBadRequest, CodeInvalidInput)
}

func TestParseExportFormat(t *testing.T) {
	got, err := ParseExportFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, got)
	got, err = ParseExportFormat(" XLSX ")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, got)
	_, err = ParseExportFormat("pdf")
	require.Error(t, err)
}

func TestReports_ListActiveStages(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.AddStage("Archived", 9, false)

	stages, err := f.reports.ListActiveStages(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 3)
	require.Equal(t, "Legal", stages[0].Name)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"approval missing", workflow.ErrApprovalMissing, http.StatusNotFound, CodeNotFound},
		{"not actionable", workflow.ErrStageNotActionable, http.StatusConflict, CodeInvalidState},
		{"invalid decision", workflow.ErrInvalidDecision, http.StatusBadRequest, CodeInvalidInput},
		{"not assignee", ErrNotAssignee, http.StatusForbidden, CodeUnauthorized},
		{"unique violation", &pgconn.PgError{Code: "23505"}, http.StatusConflict, CodeInvalidState},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"syntax error", &pgconn.PgError{Code: "42601"}, http.StatusInternalServerError, CodeInternal},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireServiceError(t, mapError(tc.err), tc.status, tc.code)
		})
	}
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(context.Canceled), context.Canceled)
}
