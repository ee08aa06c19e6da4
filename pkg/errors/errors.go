package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so sentinels match their clones.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid call sign, email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Authorization and identity errors.
var (
	ErrNotAuthenticated = New("NOT_AUTHENTICATED", http.StatusUnauthorized, "authentication required")
	ErrIdentityNotFound = New("IDENTITY_NOT_FOUND", http.StatusUnauthorized, "identity not found")
	ErrNoSystemAccess   = New("NO_SYSTEM_ACCESS", http.StatusForbidden, "identity has no system access")
	ErrInsufficientRole = New("INSUFFICIENT_ROLE", http.StatusForbidden, "insufficient role")
	ErrSessionRevoked   = New("SESSION_INVALIDATED", http.StatusUnauthorized, "session has been invalidated, please sign in again")
)

// Roster and assignment errors.
var (
	ErrPersonnelNotFound      = New("PERSONNEL_NOT_FOUND", http.StatusNotFound, "personnel not found")
	ErrRoleNotFound           = New("ROLE_NOT_FOUND", http.StatusNotFound, "role not found")
	ErrSchoolNotFound         = New("SCHOOL_NOT_FOUND", http.StatusNotFound, "school not found")
	ErrQualificationNotFound  = New("QUALIFICATION_NOT_FOUND", http.StatusNotFound, "qualification not found")
	ErrNotAnInstructor        = New("NOT_AN_INSTRUCTOR", http.StatusUnprocessableEntity, "personnel does not hold the instructor role")
	ErrAlreadyAssigned        = New("ALREADY_ASSIGNED", http.StatusConflict, "instructor is already assigned to this school")
	ErrAssignmentNotFound     = New("ASSIGNMENT_NOT_FOUND", http.StatusNotFound, "school assignment not found")
	ErrMigrationInconsistency = New("MIGRATION_INCONSISTENCY", http.StatusInternalServerError, "legacy data could not be classified")
)

// InsufficientRole builds an INSUFFICIENT_ROLE error naming the role a caller lacks.
func InsufficientRole(required string) *Error {
	e := Clone(ErrInsufficientRole, fmt.Sprintf("requires %s role or higher", required))
	e.Details = map[string]interface{}{"requiredRole": required}
	return e
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}
