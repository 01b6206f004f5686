package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/pkg/composables"
)

const approvalColumns = `id, document_id, stage_id, status, actor_id, decided_at, comment, created_at, updated_at`

type ApprovalRepository struct{}

func NewApprovalRepository() approval.Repository {
	return &ApprovalRepository{}
}

func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var a approval.Approval
	var status string
	if err := row.Scan(
		&a.ID, &a.DocumentID, &a.StageID, &status, &a.ActorID,
		&a.DecidedAt, &a.Comment, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = approval.Status(status)
	return &a, nil
}

func (r *ApprovalRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]approval.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT `+approvalColumns+` FROM sow_approvals WHERE document_id = $1 ORDER BY created_at, id`,
		documentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list approvals")
	}
	defer rows.Close()

	var out []approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan approval")
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate approvals")
	}
	return out, nil
}

func (r *ApprovalRepository) EnsurePending(ctx context.Context, documentID uuid.UUID, stageIDs []uuid.UUID) error {
	if len(stageIDs) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO sow_approvals (document_id, stage_id, status)
		 SELECT $1, stage_id, 'pending' FROM unnest($2::uuid[]) AS stage_id
		 ON CONFLICT (document_id, stage_id) DO UPDATE
		    SET status = 'pending', actor_id = NULL, decided_at = NULL, comment = NULL, updated_at = now()`,
		documentID, pgtype.FlatArray[uuid.UUID](stageIDs),
	)
	if err != nil {
		return errors.Wrap(err, "ensure pending approvals")
	}
	return nil
}

func (r *ApprovalRepository) Decide(ctx context.Context, d approval.Decision) (*approval.Approval, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	a, err := scanApproval(tx.QueryRow(ctx,
		`UPDATE sow_approvals
		    SET status = $3, actor_id = $4, comment = $5, decided_at = $6, updated_at = now()
		  WHERE document_id = $1 AND stage_id = $2
		  RETURNING `+approvalColumns,
		d.DocumentID, d.StageID, string(d.Status), d.ActorID, d.Comment, d.DecidedAt,
	))
	if err != nil {
		return nil, errors.Wrap(err, "decide approval")
	}
	return a, nil
}

func (r *ApprovalRepository) ResetToPending(ctx context.Context, documentID uuid.UUID, stageIDs ...uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	q := `UPDATE sow_approvals
	         SET status = 'pending', actor_id = NULL, decided_at = NULL, comment = NULL, updated_at = now()
	       WHERE document_id = $1`
	args := []any{documentID}
	if len(stageIDs) > 0 {
		q += ` AND stage_id = ANY($2)`
		args = append(args, pgtype.FlatArray[uuid.UUID](stageIDs))
	}
	_, err = tx.Exec(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "reset approvals")
	}
	return nil
}
