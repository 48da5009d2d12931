package incrementalload

import (
	"context"
	"errors"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/registry"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

var (
	// ErrStaleConceptMapVersion means a value set referenced by the resolved
	// concept map version is no longer the most recent active version.
	ErrStaleConceptMapVersion = errors.New("stale concept map version")

	// ErrAmbiguousSourceTerminology means the source value set expansion does
	// not reference exactly one terminology, so there is no single place to
	// load new codes into.
	ErrAmbiguousSourceTerminology = errors.New("ambiguous source terminology")
)

// State is a step of the per-batch protocol.
type State string

const (
	StateResolving              State = "Resolving"
	StateValidating             State = "Validating"
	StateSingleTerminologyCheck State = "SingleTerminologyCheck"
	StateLoadingConcepts        State = "LoadingConcepts"
	StateVersioningValueSet     State = "VersioningValueSet"
	StateVersioningConceptMap   State = "VersioningConceptMap"
	StatePublishing             State = "Publishing"
	StateDone                   State = "Done"
	StateFailed                 State = "Failed"
)

// mutates reports whether reaching s means the remote store may already have
// been changed by this batch.
func (s State) mutates() bool {
	switch s {
	case StateLoadingConcepts, StateVersioningValueSet, StateVersioningConceptMap, StatePublishing:
		return true
	}
	return false
}

// Kind names the class of a batch failure in reports and metrics.
type Kind string

const (
	KindNone                       Kind = ""
	KindDataExtraction             Kind = "DataExtractionError"
	KindRegistryResolution         Kind = "RegistryResolutionError"
	KindStaleConceptMapVersion     Kind = "StaleConceptMapVersionError"
	KindAmbiguousSourceTerminology Kind = "AmbiguousSourceTerminologyError"
	KindRemoteCall                 Kind = "RemoteCallError"
	KindPartialLoad                Kind = "PartialLoadError"
	KindCanceled                   Kind = "Canceled"
	KindInternal                   Kind = "InternalError"
)

// Classify maps an error to its Kind, most specific first. A registry
// failure caused by a remote call is still a registry failure, and a partial
// load caused by a remote call is still a partial load. A source terminology
// that cannot be identified at all counts as ambiguous.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var partial *terminology.PartialLoadError
	var remote *terminologyapi.RemoteCallError
	switch {
	case errors.Is(err, normalization.ErrDataExtraction):
		return KindDataExtraction
	case errors.Is(err, registry.ErrRegistryResolution):
		return KindRegistryResolution
	case errors.Is(err, ErrStaleConceptMapVersion):
		return KindStaleConceptMapVersion
	case errors.Is(err, ErrAmbiguousSourceTerminology), errors.Is(err, terminology.ErrUnresolvedTerminology):
		return KindAmbiguousSourceTerminology
	case errors.As(err, &partial):
		return KindPartialLoad
	case errors.As(err, &remote):
		return KindRemoteCall
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
