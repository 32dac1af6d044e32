package domain

import (
	"errors"
	"fmt"
)

// Error categories. Specific errors below wrap one of these so callers can
// branch with errors.Is on either level.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrDuplicateAnswer = errors.New("answer already recorded")
	ErrVersionConflict = errors.New("session version conflict")
	ErrValidation      = errors.New("validation failed")
)

var (
	// ErrSessionNotFound is returned when no session exists for a join code.
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	// ErrPlayerNotFound is returned when a connection acts on a session it has not joined.
	ErrPlayerNotFound = fmt.Errorf("player %w", ErrNotFound)
	// ErrQuestionNotFound indicates a question ID is unknown or not the player's current one.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrJoinCodeTaken is returned by repositories when a generated code collides.
	ErrJoinCodeTaken = errors.New("join code already in use")
)

// Wire codes reported to clients.
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeDuplicateAnswer = "duplicate_answer"
	CodeConflict        = "conflict"
	CodeValidation      = "validation"
	CodeInternal        = "internal"
)

// ErrorCode maps an error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrDuplicateAnswer):
		return CodeDuplicateAnswer
	case errors.Is(err, ErrVersionConflict):
		return CodeConflict
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidStatef builds an ErrInvalidState with a formatted reason.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
