package app

import (
	"errors"
	"fmt"
	"net/http"

	"collabcanvas/api/internal/auth"
	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/export"
	"collabcanvas/api/internal/history"
	"collabcanvas/api/internal/lease"
	"collabcanvas/api/internal/mutation"
	"collabcanvas/api/internal/room"
	"collabcanvas/api/internal/shape"
)

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
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *command.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]any{"field": validationErr.Field}
	}
	var contention *lease.ContentionError
	if errors.As(err, &contention) {
		return http.StatusConflict, "LOCK_CONTENTION", "Shapes are being edited, try again", map[string]any{"shapeIds": contention.IDs}
	}
	switch {
	case errors.Is(err, mutation.ErrNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error(), nil
	case errors.Is(err, command.ErrValidation), errors.Is(err, shape.ErrInvalid), errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, lease.ErrHeld):
		return http.StatusConflict, "LOCK_CONTENTION", "Shapes are being edited, try again", nil
	case errors.Is(err, mutation.ErrUnavailable), room.IsUnavailable(err):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Canvas store unavailable", nil
	case errors.Is(err, export.ErrHistoryUnavailable), errors.Is(err, export.ErrStorageUnavailable), errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
