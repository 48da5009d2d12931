package terminology

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnresolvedTerminology is returned when an operation needs a remote
// identity that the terminology does not have.
var ErrUnresolvedTerminology = errors.New("terminology has no uuid")

// PartialLoadError reports that posting concepts stopped at the first
// rejected concept. Loaded lists the concepts that landed before the failure;
// retrying only NotAttempted plus Failed avoids duplicate codes.
type PartialLoadError struct {
	Terminology  uuid.UUID
	Loaded       []Concept
	Failed       Concept
	NotAttempted []Concept
	Err          error
}

func (e *PartialLoadError) Error() string {
	return fmt.Sprintf("partial load into terminology %s: %d loaded, failed at %s, %d not attempted: %v",
		e.Terminology, len(e.Loaded), e.Failed, len(e.NotAttempted), e.Err)
}

func (e *PartialLoadError) Unwrap() error { return e.Err }
