package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced by the admission core.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
	CodeDuplicateSession       = "DUPLICATE_SESSION"
	CodeQueueInactive          = "QUEUE_INACTIVE"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeQueueNotFound          = "QUEUE_NOT_FOUND"
	CodeSessionNotWaiting      = "SESSION_NOT_WAITING"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeCapacityExceeded       = "CAPACITY_EXCEEDED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewDuplicateSession signals an open session already exists for the
// (queue, user identifier) pair. Details carry the existing session id so
// callers can resume it.
func NewDuplicateSession(existingSessionID string) error {
	return NewDomainError(CodeDuplicateSession, "an open session already exists for this user", http.StatusConflict,
		map[string]any{"existing_session_id": existingSessionID})
}

// NewQueueInactive signals a disabled queue or a closed schedule window.
func NewQueueInactive(queueID string) error {
	return NewDomainError(CodeQueueInactive, "queue is not accepting entrants", http.StatusConflict,
		map[string]any{"queue_id": queueID})
}

func NewQueueNotFound(queueID string) error {
	return NewDomainError(CodeQueueNotFound, "queue not found", http.StatusNotFound,
		map[string]any{"queue_id": queueID})
}

func NewSessionNotFound(sessionID string) error {
	return NewDomainError(CodeSessionNotFound, "session not found", http.StatusNotFound,
		map[string]any{"session_id": sessionID})
}

// NewSessionNotWaiting signals a Leave or Drop against a session that is
// no longer in the Waiting state.
func NewSessionNotWaiting(sessionID, status string) error {
	return NewDomainError(CodeSessionNotWaiting, "session is not waiting", http.StatusConflict,
		map[string]any{"session_id": sessionID, "status": status})
}

// NewInvalidStateTransition signals a mutation attempt against a terminal
// session or an illegal edge in the state machine.
func NewInvalidStateTransition(sessionID, from, to string) error {
	return NewDomainError(CodeInvalidStateTransition, "invalid session state transition", http.StatusConflict,
		map[string]any{"session_id": sessionID, "from": from, "to": to})
}

// NewCapacityExceeded is internal only; the public Promote contract clamps
// instead of erroring.
func NewCapacityExceeded(queueID string, requested, free int) error {
	return NewDomainError(CodeCapacityExceeded, "promotion request exceeds free capacity", http.StatusConflict,
		map[string]any{"queue_id": queueID, "requested": requested, "free": free})
}

// NewConcurrentModification surfaces store contention that outlived the
// bounded retry budget.
func NewConcurrentModification(err error) error {
	return &DomainError{
		Code:       CodeConcurrentModification,
		Message:    "concurrent modification conflict",
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// IsCode reports whether err is a DomainError carrying the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
