package verdict

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the verdict package.
var (
	// ErrInvalidObservation is returned when experiment counts violate a
	// construction constraint.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrUnknownTestMethod is returned when a test method tag is not one of
	// z_test, t_test or chi_square.
	ErrUnknownTestMethod = errors.New("unknown test method")

	// ErrExperimentNotFound is returned when an experiment ID is not present
	// in the store.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrExperimentExists is returned when creating an experiment whose ID is
	// already taken.
	ErrExperimentExists = errors.New("experiment already exists")

	// ErrExperimentCompleted is returned when recording trials on a completed
	// experiment.
	ErrExperimentCompleted = errors.New("experiment is completed")

	// ErrNoData is returned when an analysis is requested before both arms
	// have recorded trials.
	ErrNoData = errors.New("no trial data recorded")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// store.
	ErrStoreClosed = errors.New("store is closed")
)

// ObservationError reports which field of an observation violated which
// constraint. It matches ErrInvalidObservation via errors.Is.
type ObservationError struct {
	Field      string // "n_a", "conv_a", "n_b" or "conv_b"
	Constraint string
	Value      int64
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("invalid observation: %s %s (got %d)", e.Field, e.Constraint, e.Value)
}

// Is implements error matching for ObservationError.
func (e *ObservationError) Is(target error) bool {
	return target == ErrInvalidObservation
}

// newObservationError creates a new ObservationError.
func newObservationError(field, constraint string, value int64) *ObservationError {
	return &ObservationError{
		Field:      field,
		Constraint: constraint,
		Value:      value,
	}
}

// MethodError reports an unrecognized test method tag. It matches
// ErrUnknownTestMethod via errors.Is.
type MethodError struct {
	Tag string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("unknown test method %q", e.Tag)
}

// Is implements error matching for MethodError.
func (e *MethodError) Is(target error) bool {
	return target == ErrUnknownTestMethod
}

// newMethodError creates a new MethodError.
func newMethodError(tag string) *MethodError {
	return &MethodError{Tag: tag}
}

// StoreErrorType categorizes store errors.
type StoreErrorType int

const (
	// StoreErrorTypeUnknown is an unclassified store error.
	StoreErrorTypeUnknown StoreErrorType = iota
	// StoreErrorTypeNotFound indicates a missing experiment or result.
	StoreErrorTypeNotFound
	// StoreErrorTypeRead indicates a read failure.
	StoreErrorTypeRead
	// StoreErrorTypeWrite indicates a write failure.
	StoreErrorTypeWrite
	// StoreErrorTypeClosed indicates use after Close.
	StoreErrorTypeClosed
)

// StoreError provides detailed information about persistence failures.
type StoreError struct {
	Type  StoreErrorType
	Op    string
	Key   string
	Cause error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("store %s [%s]: %v", e.Op, e.Key, e.Cause)
		}
		return fmt.Sprintf("store %s [%s] failed", e.Op, e.Key)
	}
	if e.Cause != nil {
		return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("store %s failed", e.Op)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StoreError.
func (e *StoreError) Is(target error) bool {
	switch e.Type {
	case StoreErrorTypeNotFound:
		return target == ErrExperimentNotFound
	case StoreErrorTypeClosed:
		return target == ErrStoreClosed
	}
	return false
}

// newStoreError creates a new StoreError.
func newStoreError(errType StoreErrorType, op, key string, cause error) *StoreError {
	return &StoreError{
		Type:  errType,
		Op:    op,
		Key:   key,
		Cause: cause,
	}
}
