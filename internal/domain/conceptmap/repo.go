package conceptmap

import (
	"context"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

type Repository interface {
	GetConceptMapVersion(ctx context.Context, conceptMapUUID uuid.UUID, version int) (*terminologyapi.ConceptMapPayload, error)
	NewConceptMapVersion(ctx context.Context, req terminologyapi.NewConceptMapVersionRequest) (*terminologyapi.NewConceptMapVersionResponse, error)
	PublishConceptMapVersion(ctx context.Context, versionUUID uuid.UUID) error
}
