package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTargetNotFound     = errors.New("target not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrBackupNotFound     = errors.New("backup not found")
	ErrTargetInUse        = errors.New("target is referenced by schedule jobs")
	ErrInvalidSchedule    = errors.New("schedule never fires within search bound")
	ErrDatabaseNotFound   = errors.New("database not found on target")
	ErrConnectionFailure  = errors.New("target unreachable")
	ErrStorageFailure     = errors.New("artifact storage failure")
	ErrExecutionTimeout   = errors.New("execution timed out")
	ErrPartialRestore     = errors.New("restore interrupted mid-stream")
	ErrInvalidBackupState = errors.New("backup is not in a restorable state")
)

// ValidationError rejects bad CRUD or schedule input synchronously,
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
