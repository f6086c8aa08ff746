package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dctledger/internal/ingest"
	"dctledger/internal/store"
)

// DomainError is an error the HTTP layer reports verbatim.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func unknownIdeaError(missing []string, take int) *DomainError {
	return domainError(http.StatusBadRequest, "UNKNOWN_IDEA",
		fmt.Sprintf("Unknown ideaId (no prior create found): %s", strings.Join(missing, ", ")),
		map[string]any{"ideaIds": missing, "take": take})
}

func invalidEdgeError(ideaID string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_EDGE", "from and to cannot be the same ideaId", map[string]any{"ideaId": ideaID})
}

func invalidBatchError(err error) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_BATCH", err.Error(), nil)
}

// mapError turns service errors into HTTP status, code, message and details.
// Envelope and payload rejections are 422 with one entry per field.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if ingest.IsValidation(err) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), ingest.FieldErrors(err)
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
