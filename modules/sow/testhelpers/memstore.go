// Package testhelpers provides in-memory stand-ins for the SOW repositories.
package testhelpers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/modules/sow/domain/events"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

type state struct {
	docs      map[uuid.UUID]document.Document
	stages    []stage.Stage
	approvals []approval.Approval
	entries   []auditlog.Entry
	events    []events.WorkflowEventV1
}

func (s state) clone() state {
	out := state{
		docs:      make(map[uuid.UUID]document.Document, len(s.docs)),
		stages:    append([]stage.Stage(nil), s.stages...),
		approvals: append([]approval.Approval(nil), s.approvals...),
		entries:   append([]auditlog.Entry(nil), s.entries...),
		events:    append([]events.WorkflowEventV1(nil), s.events...),
	}
	for k, v := range s.docs {
		out.docs[k] = v
	}
	return out
}

// Store keeps documents, stages, approvals and audit entries in memory.
// RunInTx serializes callers and rolls the state back when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	// Fail, when set, is returned by every repository call.
	Fail     error
	// FailEmit, when set, is returned by Emit.
	FailEmit error
	Now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		st:  state{docs: map[uuid.UUID]document.Document{}},
		Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.st = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) lock() (func(), error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

// AddDocument stores doc, filling id and defaults.
func (s *Store) AddDocument(doc document.Document) document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = document.StatusDraft
	}
	if doc.Version == 0 {
		doc.Version = 1
		doc.IsLatest = true
	}
	s.st.docs[doc.ID] = doc
	return doc
}

func (s *Store) AddStage(name string, sortOrder int, active bool) stage.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := stage.Stage{ID: uuid.New(), Name: name, SortOrder: sortOrder, Active: active, UpdatedAt: s.Now()}
	s.st.stages = append(s.st.stages, st)
	return st
}

func (s *Store) SetStageAssignee(stageID uuid.UUID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.stages {
		if s.st.stages[i].ID == stageID {
			s.st.stages[i].AssignedUserID = &userID
		}
	}
}

// InsertApproval appends a raw approval row, allowing states the
// repository itself would never produce.
func (s *Store) InsertApproval(a approval.Approval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.st.approvals = append(s.st.approvals, a)
}

func (s *Store) SetStatus(documentID uuid.UUID, status document.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.st.docs[documentID]
	doc.Status = status
	s.st.docs[documentID] = doc
}

func (s *Store) Document(id uuid.UUID) document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.docs[id]
}

func (s *Store) ApprovalsFor(documentID uuid.UUID) []approval.Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approvalsFor(documentID)
}

func (s *Store) approvalsFor(documentID uuid.UUID) []approval.Approval {
	var out []approval.Approval
	for _, a := range s.st.approvals {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Entries(documentID uuid.UUID) []auditlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auditlog.Entry
	for _, e := range s.st.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Documents() document.Repository { return documentRepo{s} }
func (s *Store) Approvals() approval.Repository { return approvalRepo{s} }
func (s *Store) Stages() stage.Repository       { return stageRepo{s} }
func (s *Store) AuditLog() auditlog.Repository  { return auditRepo{s} }

type documentRepo struct{ s *Store }

func (r documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	doc, ok := r.s.st.docs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &doc, nil
}

func (r documentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	return r.GetByID(ctx, id)
}

func (r documentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to document.Status) (bool, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return false, err
	}
	defer unlock()
	doc, ok := r.s.st.docs[id]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	doc.UpdatedAt = r.s.Now()
	r.s.st.docs[id] = doc
	return true, nil
}

func (r documentRepo) ListIDsByStatus(ctx context.Context, status document.Status, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ids []uuid.UUID
	for id, doc := range r.s.st.docs {
		if doc.Status == status && !doc.Hidden && id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type approvalRepo struct{ s *Store }

func (r approvalRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]approval.Approval, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return r.s.approvalsFor(documentID), nil
}

func (r approvalRepo) EnsurePending(ctx context.Context, documentID uuid.UUID, stageIDs []uuid.UUID) error {
	unlock, err := r.s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	now := r.s.Now()
	for _, stageID := range stageIDs {
		found := false
		for i := range r.s.st.approvals {
			a := &r.s.st.approvals[i]
			if a.DocumentID == documentID && a.StageID == stageID {
				a.Status, a.ActorID, a.DecidedAt, a.Comment, a.UpdatedAt = approval.StatusPending, nil, nil, nil, now
				found = true
			}
		}
		if !found {
			r.s.st.approvals = append(r.s.st.approvals, approval.Approval{
				ID: uuid.New(), DocumentID: documentID, StageID: stageID,
				Status: approval.StatusPending, CreatedAt: now, UpdatedAt: now,
			})
		}
	}
	return nil
}

func (r approvalRepo) Decide(ctx context.Context, d approval.Decision) (*approval.Approval, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	for i := range r.s.st.approvals {
		a := &r.s.st.approvals[i]
		if a.DocumentID == d.DocumentID && a.StageID == d.StageID {
			actor, at := d.ActorID, d.DecidedAt
			a.Status, a.ActorID, a.DecidedAt, a.Comment, a.UpdatedAt = d.Status, &actor, &at, d.Comment, r.s.Now()
			out := *a
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r approvalRepo) ResetToPending(ctx context.Context, documentID uuid.UUID, stageIDs ...uuid.UUID) error {
	unlock, err := r.s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	scope := make(map[uuid.UUID]struct{}, len(stageIDs))
	for _, id := range stageIDs {
		scope[id] = struct{}{}
	}
	for i := range r.s.st.approvals {
		a := &r.s.st.approvals[i]
		if a.DocumentID != documentID {
			continue
		}
		if _, ok := scope[a.StageID]; len(scope) > 0 && !ok {
			continue
		}
		a.Status, a.ActorID, a.DecidedAt, a.Comment, a.UpdatedAt = approval.StatusPending, nil, nil, nil, r.s.Now()
	}
	return nil
}

type stageRepo struct{ s *Store }

func (r stageRepo) ListActive(ctx context.Context) ([]stage.Stage, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []stage.Stage
	for _, st := range r.s.st.stages {
		if st.Active {
			out = append(out, st)
		}
	}
	stage.SortByOrder(out)
	return out, nil
}

func (r stageRepo) ListAll(ctx context.Context) ([]stage.Stage, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := append([]stage.Stage(nil), r.s.st.stages...)
	stage.SortByOrder(out)
	return out, nil
}

func (r stageRepo) UpsertByName(ctx context.Context, in *stage.Stage) (*stage.Stage, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	if in.Active {
		for _, st := range r.s.st.stages {
			if st.Active && st.Name != in.Name && st.SortOrder == in.SortOrder {
				return nil, &pgconn.PgError{Code: "23505", ConstraintName: "sow_approval_stages_active_order_key"}
			}
		}
	}
	for i := range r.s.st.stages {
		st := &r.s.st.stages[i]
		if st.Name == in.Name {
			st.SortOrder, st.Active, st.AssignedUserID, st.UpdatedAt = in.SortOrder, in.Active, in.AssignedUserID, r.s.Now()
			out := *st
			return &out, nil
		}
	}
	out := *in
	out.ID = uuid.New()
	out.UpdatedAt = r.s.Now()
	r.s.st.stages = append(r.s.st.stages, out)
	return &out, nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, e *auditlog.Entry) error {
	unlock, err := r.s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	e.ID = int64(len(r.s.st.entries) + 1)
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.s.Now()
	}
	if e.StageID != nil && e.StageName == "" {
		for _, st := range r.s.st.stages {
			if st.ID == *e.StageID {
				e.StageName = st.Name
			}
		}
	}
	r.s.st.entries = append(r.s.st.entries, *e)
	return nil
}

func (r auditRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]auditlog.Entry, error) {
	unlock, err := r.s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []auditlog.Entry
	for _, e := range r.s.st.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Emit records ev as if it had been written to the outbox. Recorded events
// are rolled back together with the rest of the state.
func (s *Store) Emit(ctx context.Context, ev *events.WorkflowEventV1) error {
	if s.FailEmit != nil {
		return s.FailEmit
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	s.st.events = append(s.st.events, *ev)
	return nil
}

func (s *Store) Events() []events.WorkflowEventV1 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.WorkflowEventV1(nil), s.st.events...)
}

func (s *Store) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.st.events))
	for i, ev := range s.st.events {
		out[i] = ev.Topic
	}
	return out
}
