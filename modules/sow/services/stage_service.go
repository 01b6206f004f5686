package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StageDefinition is one entry of a stages file.
type StageDefinition struct {
	Name           string  `json:"name" yaml:"name" validate:"required,max=128"`
	SortOrder      int     `json:"sort_order" yaml:"sort_order" validate:"gte=0"`
	Active         *bool   `json:"active,omitempty" yaml:"active"`
	AssignedUserID *string `json:"assigned_user_id,omitempty" yaml:"assigned_user_id" validate:"omitempty,max=255"`
}

type stagesFile struct {
	Stages []StageDefinition `yaml:"stages"`
}

// ParseStageDefinitions reads a YAML document with a top level "stages" list.
func ParseStageDefinitions(r io.Reader) ([]StageDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f stagesFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, invalidInput("stages file is empty")
		}
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidInput, "invalid stages file", err)
	}
	return f.Stages, nil
}

// StageAdminService maintains the stage registry.
type StageAdminService struct {
	stages stage.Repository
	opts   Options
}

func NewStageAdminService(stages stage.Repository, opts Options) *StageAdminService {
	opts.setDefaults()
	return &StageAdminService{stages: stages, opts: opts}
}

func (s *StageAdminService) ListAll(ctx context.Context) ([]stage.Stage, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()
	stages, err := s.stages.ListAll(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return stages, nil
}

// parkMovedStages moves every active stage that items reorder or deactivate
// onto a negative sort order, so the upserts that follow never collide with
// the active sort_order unique index mid-transaction (e.g. when two stages
// swap places).
func (s *StageAdminService) parkMovedStages(ctx context.Context, items []stage.Stage) error {
	current, err := s.stages.ListAll(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]stage.Stage, len(current))
	for _, st := range current {
		byName[st.Name] = st
	}
	parked := 0
	for _, it := range items {
		st, ok := byName[it.Name]
		if !ok || !st.Active || (it.Active && it.SortOrder == st.SortOrder) {
			continue
		}
		parked++
		st.SortOrder = -parked
		if _, err := s.stages.UpsertByName(ctx, &st); err != nil {
			return err
		}
	}
	return nil
}

// Apply upserts every definition by name in one transaction. Stages missing
// from defs are left untouched.
func (s *StageAdminService) Apply(ctx context.Context, defs []StageDefinition) ([]stage.Stage, error) {
	if len(defs) == 0 {
		return nil, invalidInput("no stages to apply")
	}
	names := make(map[string]struct{}, len(defs))
	orders := make(map[int]string, len(defs))
	items := make([]stage.Stage, 0, len(defs))
	for i, def := range defs {
		def.Name = strings.TrimSpace(def.Name)
		if err := validate.Struct(def); err != nil {
			return nil, newServiceError(http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("stage #%d is invalid", i+1), err)
		}
		if _, dup := names[def.Name]; dup {
			return nil, invalidInput(fmt.Sprintf("stage %q is listed twice", def.Name))
		}
		names[def.Name] = struct{}{}

		active := def.Active == nil || *def.Active
		if active {
			if other, dup := orders[def.SortOrder]; dup {
				return nil, invalidInput(fmt.Sprintf("stages %q and %q share sort_order %d", other, def.Name, def.SortOrder))
			}
			orders[def.SortOrder] = def.Name
		}
		items = append(items, stage.Stage{
			Name:           def.Name,
			SortOrder:      def.SortOrder,
			Active:         active,
			AssignedUserID: def.AssignedUserID,
		})
	}

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	out := make([]stage.Stage, 0, len(items))
	err := s.opts.InTx(ctx, func(txCtx context.Context) error {
		if err := s.parkMovedStages(txCtx, items); err != nil {
			return err
		}
		for i := range items {
			saved, err := s.stages.UpsertByName(txCtx, &items[i])
			if err != nil {
				return err
			}
			out = append(out, *saved)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	if inv, ok := s.stages.(interface{ Invalidate(context.Context) }); ok {
		inv.Invalidate(ctx)
	}
	stage.SortByOrder(out)
	s.opts.Logger.WithField("count", len(out)).Info("sow: stages applied")
	return out, nil
}
