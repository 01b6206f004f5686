package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/pkg/composables"
)

const stageColumns = `id, name, sort_order, active, assigned_user_id, updated_at`

type StageRepository struct{}

func NewStageRepository() stage.Repository {
	return &StageRepository{}
}

func scanStage(row pgx.Row) (*stage.Stage, error) {
	var s stage.Stage
	if err := row.Scan(&s.ID, &s.Name, &s.SortOrder, &s.Active, &s.AssignedUserID, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StageRepository) list(ctx context.Context, where string) ([]stage.Stage, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+stageColumns+` FROM sow_approval_stages `+where+` ORDER BY sort_order, name`)
	if err != nil {
		return nil, errors.Wrap(err, "list stages")
	}
	defer rows.Close()

	var out []stage.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stage")
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate stages")
	}
	return out, nil
}

func (r *StageRepository) ListActive(ctx context.Context) ([]stage.Stage, error) {
	return r.list(ctx, `WHERE active`)
}

func (r *StageRepository) ListAll(ctx context.Context) ([]stage.Stage, error) {
	return r.list(ctx, ``)
}

func (r *StageRepository) UpsertByName(ctx context.Context, s *stage.Stage) (*stage.Stage, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	out, err := scanStage(tx.QueryRow(ctx,
		`INSERT INTO sow_approval_stages (name, sort_order, active, assigned_user_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		    SET sort_order = EXCLUDED.sort_order,
		        active = EXCLUDED.active,
		        assigned_user_id = EXCLUDED.assigned_user_id,
		        updated_at = now()
		 RETURNING `+stageColumns,
		s.Name, s.SortOrder, s.Active, s.AssignedUserID,
	))
	if err != nil {
		return nil, errors.Wrapf(err, "upsert stage %q", s.Name)
	}
	return out, nil
}
