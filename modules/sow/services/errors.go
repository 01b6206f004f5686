package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sowflow/sowflow/modules/sow/domain/workflow"
	"github.com/sowflow/sowflow/pkg/composables"
)

const (
	CodeNotFound         = "SOW_NOT_FOUND"
	CodeInvalidState     = "SOW_INVALID_STATE"
	CodeUnauthorized     = "SOW_UNAUTHORIZED"
	CodeInvalidInput     = "SOW_INVALID_INPUT"
	CodeStoreUnavailable = "SOW_STORE_UNAVAILABLE"
	CodeInternal         = "SOW_INTERNAL"
)

var ErrNotAssignee = errors.New("actor is not the assigned approver for this stage")

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func invalidInput(message string) *ServiceError {
	return newServiceError(http.StatusBadRequest, CodeInvalidInput, message, nil)
}

// mapError translates domain and store failures into the service taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	switch {
	case errors.Is(err, workflow.ErrApprovalMissing),
		errors.Is(err, workflow.ErrStageNotActive):
		return newServiceError(http.StatusNotFound, CodeNotFound, err.Error(), err)
	case errors.Is(err, pgx.ErrNoRows):
		return newServiceError(http.StatusNotFound, CodeNotFound, "document not found", err)
	case errors.Is(err, workflow.ErrInvalidDecision):
		return newServiceError(http.StatusBadRequest, CodeInvalidInput, err.Error(), err)
	case errors.Is(err, ErrNotAssignee):
		return newServiceError(http.StatusForbidden, CodeUnauthorized, err.Error(), err)
	case errors.Is(err, workflow.ErrNoActiveStages),
		errors.Is(err, workflow.ErrNotInReview),
		errors.Is(err, workflow.ErrStageNotActionable),
		errors.Is(err, workflow.ErrAlreadyDecided),
		errors.Is(err, workflow.ErrCannotInitiate),
		errors.Is(err, workflow.ErrCannotRecall),
		errors.Is(err, workflow.ErrDocumentHidden),
		errors.Is(err, workflow.ErrDocumentNotLatest):
		return newServiceError(http.StatusConflict, CodeInvalidState, err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, composables.ErrNoPool),
		pgconn.Timeout(err):
		return newServiceError(http.StatusServiceUnavailable, CodeStoreUnavailable, "approval store unavailable", err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return newServiceError(http.StatusServiceUnavailable, CodeStoreUnavailable, "approval store unavailable", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return newServiceError(http.StatusConflict, CodeInvalidState, "conflicting approval write", err)
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization_failure, deadlock_detected
			return newServiceError(http.StatusConflict, CodeInvalidState, "concurrent update, retry the operation", err)
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			return newServiceError(http.StatusServiceUnavailable, CodeStoreUnavailable, "approval store unavailable", err)
		}
		return newServiceError(http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}

	return newServiceError(http.StatusInternalServerError, CodeInternal, "internal error", err)
}
