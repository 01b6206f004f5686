package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sowflow/sowflow/modules/sow/domain/approval"
	"github.com/sowflow/sowflow/modules/sow/services"
	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/composables"
	"github.com/sowflow/sowflow/pkg/httpapi"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type WorkflowAPIController struct {
	app         application.Application
	workflow    *services.WorkflowService
	consistency *services.ConsistencyService
	reports     *services.ReportService
	apiPrefix   string
}

func NewWorkflowAPIController(app application.Application) application.Controller {
	return &WorkflowAPIController{
		app:         app,
		workflow:    app.Service(services.WorkflowService{}).(*services.WorkflowService),
		consistency: app.Service(services.ConsistencyService{}).(*services.ConsistencyService),
		reports:     app.Service(services.ReportService{}).(*services.ReportService),
		apiPrefix:   "/sow/api",
	}
}

func (c *WorkflowAPIController) Key() string {
	return c.apiPrefix
}

func (c *WorkflowAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/documents/{id}:initiate", instrumentAPI("sow.documents.initiate", c.Initiate)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}:decide", instrumentAPI("sow.documents.decide", c.Decide)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}:recall", instrumentAPI("sow.documents.recall", c.Recall)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}:reconcile", instrumentAPI("sow.documents.reconcile", c.Reconcile)).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}:reset-status", instrumentAPI("sow.documents.reset_status", c.ResetStatus)).Methods(http.MethodPost)

	api.HandleFunc("/documents/{id}/stats", instrumentAPI("sow.documents.stats", c.GetStats)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/audit", instrumentAPI("sow.documents.audit", c.GetAudit)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/validation", instrumentAPI("sow.documents.validation", c.GetValidation)).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/changelog", instrumentAPI("sow.documents.changelog", c.GetChangelog)).Methods(http.MethodGet)

	api.HandleFunc("/stages", instrumentAPI("sow.stages.list", c.ListStages)).Methods(http.MethodGet)
}

func (c *WorkflowAPIController) Initiate(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, actor, ok := c.documentAndActor(w, r, requestID)
	if !ok {
		return
	}
	status, err := c.workflow.Initiate(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: status})
}

func (c *WorkflowAPIController) Decide(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	var req decisionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, "invalid json body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, validationMessage(err))
		return
	}
	actor, ok := resolveActor(w, r, requestID, req.ActorID)
	if !ok {
		return
	}

	status, err := c.workflow.RecordDecision(r.Context(), services.DecisionInput{
		DocumentID: id,
		StageID:    uuid.MustParse(req.StageID),
		Decision:   approval.Status(req.Decision),
		ActorID:    actor,
		Comment:    req.Comment,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Success: true, NewDocumentStatus: status})
}

func (c *WorkflowAPIController) Recall(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, actor, ok := c.documentAndActor(w, r, requestID)
	if !ok {
		return
	}
	status, err := c.workflow.Recall(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: status})
}

func (c *WorkflowAPIController) Reconcile(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	res, err := c.consistency.CheckAndFix(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		Success:        true,
		Changed:        res.Changed,
		PreviousStatus: res.Previous,
		Status:         res.Current,
	})
}

func (c *WorkflowAPIController) ResetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	res, err := c.consistency.ResetInvalidStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Success: true, Changed: res.Changed, Status: res.Status})
}

func (c *WorkflowAPIController) GetStats(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	stats, err := c.reports.GetApprovalStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *WorkflowAPIController) GetAudit(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	summary, err := c.reports.GetAuditSummary(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *WorkflowAPIController) GetValidation(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	v, err := c.reports.ValidateWorkflow(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (c *WorkflowAPIController) GetChangelog(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := documentID(w, r, requestID)
	if !ok {
		return
	}
	format, err := services.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	export, err := c.reports.ExportChangelog(r.Context(), id, format)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	if err := httpapi.WriteFile(w, export.Filename, export.ContentType, export.Body); err != nil {
		if logger, ok := composables.TryUseLogger(r.Context()); ok {
			logger.WithError(err).Warn("sow: changelog download interrupted")
		}
	}
}

func (c *WorkflowAPIController) ListStages(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	stages, err := c.reports.ListActiveStages(r.Context())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, stagesResponse{Stages: stages})
}

func (c *WorkflowAPIController) documentAndActor(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, string, bool) {
	id, ok := documentID(w, r, requestID)
	if !ok {
		return uuid.Nil, "", false
	}
	var req actorRequest
	if err := decodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, "invalid json body")
		return uuid.Nil, "", false
	}
	if err := validate.Struct(req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, validationMessage(err))
		return uuid.Nil, "", false
	}
	actor, ok := resolveActor(w, r, requestID, req.ActorID)
	return id, actor, ok
}

func documentID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, "document id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// resolveActor prefers the body and falls back to the upstream identity
// header.
func resolveActor(w http.ResponseWriter, r *http.Request, requestID, fromBody string) (string, bool) {
	if actor := strings.TrimSpace(fromBody); actor != "" {
		return actor, true
	}
	if actor, ok := composables.UseActor(r.Context()); ok {
		return actor, true
	}
	writeAPIError(w, http.StatusBadRequest, requestID, services.CodeInvalidInput, "actor_id is required")
	return "", false
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		writeAPIError(w, svcErr.Status, requestID, svcErr.Code, svcErr.Message)
		return
	}
	writeAPIError(w, http.StatusInternalServerError, requestID, services.CodeInternal, "internal error")
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	meta := map[string]string{}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	_ = httpapi.WriteError(w, status, code, message, meta)
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
