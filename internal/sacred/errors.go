package sacred

import (
	"errors"
	"fmt"
)

// Expected approval rejections. Handed back to callers as (ok=false, message)
// rather than errors; these sentinels exist for callers that need to branch.
var (
	ErrVerificationCodeMismatch = errors.New("verification code does not match")
	ErrSecondaryKeyMismatch     = errors.New("secondary approval key does not match")
)

// IndexingError reports a plan that was approved in the registry but whose
// chunks could not all be pushed into the vector collection. The approval
// itself stands; the plan needs reindexing.
type IndexingError struct {
	PlanID string
	Err    error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("plan %s approved but indexing failed: %v", e.PlanID, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}
