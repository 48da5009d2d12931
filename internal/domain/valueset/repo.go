package valueset

import (
	"context"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

type Repository interface {
	ExpandValueSetVersion(ctx context.Context, versionUUID uuid.UUID) (*terminologyapi.ValueSetVersionPayload, error)
	MostRecentActiveVersion(ctx context.Context, valueSetUUID uuid.UUID) (*terminologyapi.ValueSetVersionRef, error)
	NewValueSetVersion(ctx context.Context, valueSetUUID uuid.UUID, req terminologyapi.NewValueSetVersionRequest) (*terminologyapi.NewValueSetVersionResponse, error)
	UpdateTerminologyRules(ctx context.Context, versionUUID uuid.UUID, req terminologyapi.UpdateTerminologyRequest) error
	PublishValueSetVersion(ctx context.Context, versionUUID uuid.UUID) error
}
