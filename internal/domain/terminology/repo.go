package terminology

import (
	"context"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Repository is the subset of the terminology API used by this package.
// *terminologyapi.Client satisfies it.
type Repository interface {
	FindTerminology(ctx context.Context, fhirURI, version string) (*terminologyapi.TerminologyPayload, error)
	GetTerminology(ctx context.Context, id uuid.UUID) (*terminologyapi.TerminologyPayload, error)
	PostNewCode(ctx context.Context, req terminologyapi.NewCodeRequest) error
}
