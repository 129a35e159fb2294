package registry

import (
	"errors"
	"fmt"
)

// ErrPlanNotFound is returned when a plan id has no record.
var ErrPlanNotFound = errors.New("plan not found")

// InvalidTransitionError reports a status transition the state machine
// forbids. This is an expected, recoverable-by-caller condition.
type InvalidTransitionError struct {
	PlanID string
	From   PlanStatus
	To     PlanStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for plan %s: %s -> %s", e.PlanID, e.From, e.To)
}

// ContentIntegrityError reports a tamper/corruption condition: a read path
// recomputed the content hash and it no longer matches the stored value.
// Never silently accepted.
type ContentIntegrityError struct {
	PlanID       string
	ExpectedHash string
	ActualHash   string
}

func (e *ContentIntegrityError) Error() string {
	return fmt.Sprintf("content integrity violation for plan %s: stored hash %s, recomputed %s",
		e.PlanID, e.ExpectedHash, e.ActualHash)
}

// PersistenceError wraps a registry write failure. Fatal for the call; plan
// state must not be assumed changed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("registry persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
