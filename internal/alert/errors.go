package alert

import "fmt"

// Kind classifies a business rule violation.
type Kind string

const (
	KindInvalidTransition Kind = "invalid_transition"
	KindPrecondition      Kind = "precondition_failed"
	KindAlertClosed       Kind = "alert_closed"
	KindEmptyDistribution Kind = "empty_distribution"
	KindReportRequired    Kind = "report_required"
	KindTeamEmpty         Kind = "team_empty"
	KindVersionConflict   Kind = "version_conflict"
	KindValidation        Kind = "validation_failed"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
)

// Error is a terminal business error. Field names the offending input or
// sub-record so callers can render a specific message.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return string(e.Kind)
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below work with errors.Is regardless of field and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrPrecondition      = &Error{Kind: KindPrecondition}
	ErrAlertClosed       = &Error{Kind: KindAlertClosed}
	ErrEmptyDistribution = &Error{Kind: KindEmptyDistribution}
	ErrReportRequired    = &Error{Kind: KindReportRequired}
	ErrTeamEmpty         = &Error{Kind: KindTeamEmpty}
	ErrVersionConflict   = &Error{Kind: KindVersionConflict}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func newError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// VersionConflict builds the error stores return when a save loses a race.
func VersionConflict(id string, expected, actual int64) *Error {
	return newError(KindVersionConflict, "version", "alert %s is at version %d, expected %d", id, actual, expected)
}

// NotFound builds the error returned for an unknown alert id.
func NotFound(id string) *Error {
	return newError(KindNotFound, "id", "alert %s not found", id)
}

// Forbidden builds an authorization error for the given field.
func Forbidden(field, format string, args ...any) *Error {
	return newError(KindForbidden, field, format, args...)
}

// Invalid builds a validation error for the given field.
func Invalid(field, format string, args ...any) *Error {
	return newError(KindValidation, field, format, args...)
}
