package stage

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Stage struct {
	ID             uuid.UUID `json:"id" yaml:"-"`
	Name           string    `json:"name" yaml:"name"`
	SortOrder      int       `json:"sort_order" yaml:"sort_order"`
	Active         bool      `json:"active" yaml:"active"`
	AssignedUserID *string   `json:"assigned_user_id,omitempty" yaml:"assigned_user_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Registry is the read side used by the workflow.
type Registry interface {
	// ListActive returns active stages ordered by sort order.
	ListActive(ctx context.Context) ([]Stage, error)
}

// Repository is the administrative side used by tooling.
type Repository interface {
	Registry
	ListAll(ctx context.Context) ([]Stage, error)
	UpsertByName(ctx context.Context, s *Stage) (*Stage, error)
}

func SortByOrder(stages []Stage) {
	sort.SliceStable(stages, func(i, j int) bool {
		if stages[i].SortOrder != stages[j].SortOrder {
			return stages[i].SortOrder < stages[j].SortOrder
		}
		return stages[i].Name < stages[j].Name
	})
}
