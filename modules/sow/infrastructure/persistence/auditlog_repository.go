package persistence

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/pkg/composables"
)

type AuditLogRepository struct{}

func NewAuditLogRepository() auditlog.Repository {
	return &AuditLogRepository{}
}

func nullIfEmpty[T ~string](v T) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func (r *AuditLogRepository) Append(ctx context.Context, e *auditlog.Entry) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var occurredAt *time.Time
	if !e.OccurredAt.IsZero() {
		occurredAt = &e.OccurredAt
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO sow_approval_events
		    (document_id, stage_id, kind, decision, actor_id, comment, from_status, to_status, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		 RETURNING id, occurred_at`,
		e.DocumentID, e.StageID, string(e.Kind), nullIfEmpty(e.Decision), e.ActorID, e.Comment,
		nullIfEmpty(e.FromStatus), nullIfEmpty(e.ToStatus), occurredAt,
	).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return errors.Wrap(err, "append approval event")
	}
	return nil
}

func (r *AuditLogRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]auditlog.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT e.id, e.document_id, e.stage_id, COALESCE(s.name, ''), e.kind, COALESCE(e.decision, ''),
		        e.actor_id, e.comment, COALESCE(e.from_status, ''), COALESCE(e.to_status, ''), e.occurred_at
		   FROM sow_approval_events e
		   LEFT JOIN sow_approval_stages s ON s.id = e.stage_id
		  WHERE e.document_id = $1
		  ORDER BY e.id`,
		documentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list approval events")
	}
	defer rows.Close()

	var out []auditlog.Entry
	for rows.Next() {
		var e auditlog.Entry
		var kind, decision, from, to string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.StageID, &e.StageName, &kind, &decision,
			&e.ActorID, &e.Comment, &from, &to, &e.OccurredAt); err != nil {
			return nil, errors.Wrap(err, "scan approval event")
		}
		e.Kind = auditlog.Kind(kind)
		e.Decision = approval.Status(decision)
		e.FromStatus = document.Status(from)
		e.ToStatus = document.Status(to)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate approval events")
	}
	return out, nil
}
