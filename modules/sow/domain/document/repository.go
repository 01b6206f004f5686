package document

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Document, error)
	// UpdateStatus writes to only when the stored status still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	// ListIDsByStatus pages visible documents by id, starting after the given id.
	ListIDsByStatus(ctx context.Context, status Status, after uuid.UUID, limit int) ([]uuid.UUID, error)
}
