package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/coursegen/internal/api/shared"
	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/phrazzld/coursegen/internal/task"
)

// ErrInvalidBody is returned when a request body cannot be decoded.
var ErrInvalidBody = errors.New("invalid request body")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, task.ErrNodeNotFound),
		errors.Is(err, task.ErrItemNotFound),
		errors.Is(err, store.ErrSnapshotNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, task.ErrItemNotRetryable):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, ErrInvalidBody),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, chat.ErrEmptyQuestion),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, chat.ErrNoTarget),
		errors.Is(err, generation.ErrContentBlocked):
		return http.StatusUnprocessableEntity

	// Upstream errors
	case errors.Is(err, generation.ErrRemoteStatus),
		errors.Is(err, generation.ErrNoStream),
		errors.Is(err, generation.ErrInvalidResponse),
		errors.Is(err, generation.ErrTransientFailure):
		return http.StatusBadGateway

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Course not found"

	case errors.Is(err, task.ErrNodeNotFound):
		return "Node not found"

	case errors.Is(err, task.ErrItemNotFound):
		return "Queue item not found"

	case errors.Is(err, task.ErrItemNotRetryable):
		return "Only failed queue items can be retried"

	case errors.Is(err, store.ErrSnapshotNotFound):
		return "No saved state"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(err)

	case errors.Is(err, ErrInvalidBody):
		return "Invalid request format"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, generation.ErrInvalidRequest):
		return "Invalid request"

	case errors.Is(err, chat.ErrEmptyQuestion):
		return "Question is required"

	case errors.Is(err, chat.ErrNoTarget):
		return "Course has no sections to ask about"

	case errors.Is(err, generation.ErrContentBlocked):
		return "Content was blocked by the model"

	case errors.Is(err, generation.ErrRemoteStatus),
		errors.Is(err, generation.ErrNoStream),
		errors.Is(err, generation.ErrInvalidResponse),
		errors.Is(err, generation.ErrTransientFailure):
		return "Generation service unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted cause. fallbackMsg replaces the generic message of unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}

	var opts []shared.ResponseOption
	if status == http.StatusBadGateway {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err, opts...)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		fe := validationErrs[0]
		return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'Request.Question' Error:Field validation for 'Question' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
