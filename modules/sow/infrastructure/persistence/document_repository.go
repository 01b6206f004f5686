package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sowflow/sowflow/modules/sow/domain/document"
	"github.com/sowflow/sowflow/pkg/composables"
)

const documentColumns = `id, title, status, version, is_latest, parent_id, hidden, created_by, created_at, updated_at`

type DocumentRepository struct{}

func NewDocumentRepository() document.Repository {
	return &DocumentRepository{}
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	var status string
	if err := row.Scan(
		&d.ID, &d.Title, &status, &d.Version, &d.IsLatest,
		&d.ParentID, &d.Hidden, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = document.Status(status)
	return &d, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	d, err := scanDocument(tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM sow_documents WHERE id = $1`, id))
	if err != nil {
		return nil, errors.Wrap(err, "get document")
	}
	return d, nil
}

func (r *DocumentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	d, err := scanDocument(tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM sow_documents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, errors.Wrap(err, "lock document")
	}
	return d, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to document.Status) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE sow_documents SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, errors.Wrap(err, "update document status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DocumentRepository) ListIDsByStatus(ctx context.Context, status document.Status, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT id FROM sow_documents
		  WHERE status = $1 AND NOT hidden AND id > $2
		  ORDER BY id
		  LIMIT $3`,
		string(status), after, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list documents by status")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan document id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate documents")
	}
	return ids, nil
}
