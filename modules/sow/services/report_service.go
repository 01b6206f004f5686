package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/domain/auditlog"
	"github.com/sowflow/sowflow/modules/sow/domain/stage"
	"github.com/sowflow/sowflow/modules/sow/domain/workflow"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

func ParseExportFormat(v string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(v))); f {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", invalidInput(fmt.Sprintf("unsupported export format %q", v))
	}
}

type AuditEvent struct {
	ID         int64           `json:"id"`
	StageID    *uuid.UUID      `json:"stage_id,omitempty"`
	StageName  string          `json:"stage_name"`
	Decision   approval.Status `json:"decision"`
	ActorID    string          `json:"actor_id"`
	Comment    *string         `json:"comment,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type AuditSummary struct {
	DocumentID uuid.UUID    `json:"document_id"`
	Events     []AuditEvent `json:"events"`
}

type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReportService answers read-only questions about a document's workflow.
type ReportService struct {
	repos Repositories
	opts  Options
}

func NewReportService(repos Repositories, opts Options) *ReportService {
	opts.setDefaults()
	return &ReportService{repos: repos, opts: opts}
}

func (s *ReportService) snapshot(ctx context.Context, operation string, documentID uuid.UUID) (snap workflow.Snapshot, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "sow."+operation, trace.WithAttributes(
		attribute.String("sow.document_id", documentID.String()),
	))
	defer func() {
		endSpan(span, err)
		observeOperation(operation, started, err)
	}()

	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	doc, err := s.repos.Documents.GetByID(ctx, documentID)
	if err != nil {
		return workflow.Snapshot{}, mapError(err)
	}
	stages, err := s.repos.Stages.ListActive(ctx)
	if err != nil {
		return workflow.Snapshot{}, mapError(err)
	}
	approvals, err := s.repos.Approvals.ListByDocument(ctx, documentID)
	if err != nil {
		return workflow.Snapshot{}, mapError(err)
	}
	return workflow.Snapshot{Document: *doc, Stages: stages, Approvals: approvals}, nil
}

func (s *ReportService) GetApprovalStats(ctx context.Context, documentID uuid.UUID) (workflow.Stats, error) {
	snap, err := s.snapshot(ctx, "stats", documentID)
	if err != nil {
		return workflow.Stats{}, err
	}
	return workflow.ComputeStats(snap), nil
}

func (s *ReportService) ValidateWorkflow(ctx context.Context, documentID uuid.UUID) (workflow.Validation, error) {
	snap, err := s.snapshot(ctx, "validate", documentID)
	if err != nil {
		return workflow.Validation{}, err
	}
	return workflow.Validate(snap), nil
}

func (s *ReportService) entries(ctx context.Context, documentID uuid.UUID) ([]auditlog.Entry, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()
	if _, err := s.repos.Documents.GetByID(ctx, documentID); err != nil {
		return nil, mapError(err)
	}
	entries, err := s.repos.AuditLog.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, mapError(err)
	}
	return entries, nil
}

// GetAuditSummary lists stage decisions oldest first. Decisions voided by a
// later recall are still reported.
func (s *ReportService) GetAuditSummary(ctx context.Context, documentID uuid.UUID) (AuditSummary, error) {
	entries, err := s.entries(ctx, documentID)
	if err != nil {
		return AuditSummary{}, err
	}
	out := AuditSummary{DocumentID: documentID, Events: []AuditEvent{}}
	for _, e := range entries {
		if e.Kind != auditlog.KindDecided {
			continue
		}
		out.Events = append(out.Events, AuditEvent{
			ID:         e.ID,
			StageID:    e.StageID,
			StageName:  e.StageName,
			Decision:   e.Decision,
			ActorID:    e.ActorID,
			Comment:    e.Comment,
			OccurredAt: e.OccurredAt,
		})
	}
	return out, nil
}

var changelogHeader = []string{"occurred_at", "kind", "stage", "decision", "actor_id", "comment", "from_status", "to_status"}

func changelogRow(e auditlog.Entry) []string {
	comment := ""
	if e.Comment != nil {
		comment = *e.Comment
	}
	return []string{
		e.OccurredAt.UTC().Format(time.RFC3339),
		string(e.Kind),
		e.StageName,
		string(e.Decision),
		e.ActorID,
		comment,
		string(e.FromStatus),
		string(e.ToStatus),
	}
}

// ExportChangelog renders the full workflow event log of a document.
func (s *ReportService) ExportChangelog(ctx context.Context, documentID uuid.UUID, format ExportFormat) (*Export, error) {
	entries, err := s.entries(ctx, documentID)
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("sow-%s-changelog", documentID)
	switch format {
	case FormatCSV, "":
		body, err := changelogCSV(entries)
		if err != nil {
			return nil, mapError(err)
		}
		return &Export{Filename: base + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}, nil
	case FormatXLSX:
		body, err := changelogXLSX(entries)
		if err != nil {
			return nil, mapError(err)
		}
		return &Export{
			Filename:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Body:        body,
		}, nil
	default:
		return nil, invalidInput(fmt.Sprintf("unsupported export format %q", format))
	}
}

func changelogCSV(entries []auditlog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(changelogHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write(changelogRow(e)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const changelogSheet = "Changelog"

func changelogXLSX(entries []auditlog.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", changelogSheet); err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, changelogHeader)
	for _, e := range entries {
		rows = append(rows, changelogRow(e))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(changelogSheet, cell, &values); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ReportService) ListActiveStages(ctx context.Context) ([]stage.Stage, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()
	stages, err := s.repos.Stages.ListActive(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if stages == nil {
		stages = []stage.Stage{}
	}
	return stages, nil
}
