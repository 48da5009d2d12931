package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/conceptmap"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Repository fetches the registry listing.
type Repository interface {
	GetRegistry(ctx context.Context) ([]terminologyapi.RegistryEntry, error)
}

// Resolver finds the concept map version that is authoritative for a
// (resource type, organization) pair.
type Resolver struct {
	repo        Repository
	conceptMaps *conceptmap.Service
	logger      zerolog.Logger
}

func NewResolver(repo Repository, conceptMaps *conceptmap.Service, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, conceptMaps: conceptMaps, logger: logger}
}

// ResolveRef selects the registry entry without loading the concept map.
// The same registry snapshot always yields the same reference.
func (r *Resolver) ResolveRef(ctx context.Context, resourceType normalization.ResourceType, org normalization.Organization) (ConceptMapVersionRef, error) {
	rows, err := r.repo.GetRegistry(ctx)
	if err != nil {
		return ConceptMapVersionRef{}, fmt.Errorf("%w: fetch registry: %w", ErrRegistryResolution, err)
	}
	if len(rows) == 0 {
		return ConceptMapVersionRef{}, fmt.Errorf("%w: registry is empty", ErrRegistryResolution)
	}

	ref, err := SelectEntry(entriesFromPayload(rows), resourceType, org)
	if err != nil {
		return ConceptMapVersionRef{}, err
	}
	r.logger.Debug().
		Str("resource_type", string(resourceType)).
		Str("organization", org.ID).
		Str("concept_map", ref.String()).
		Msg("registry entry selected")
	return ref, nil
}

// Resolve selects the registry entry and loads the concept map version it
// points to, including its source and target value set versions.
func (r *Resolver) Resolve(ctx context.Context, resourceType normalization.ResourceType, org normalization.Organization) (*conceptmap.ConceptMapVersion, ConceptMapVersionRef, error) {
	ref, err := r.ResolveRef(ctx, resourceType, org)
	if err != nil {
		return nil, ConceptMapVersionRef{}, err
	}
	cm, err := r.conceptMaps.Load(ctx, ref.ConceptMapUUID, ref.Version)
	if err != nil {
		return nil, ref, fmt.Errorf("%w: %w", ErrRegistryResolution, err)
	}
	return cm, ref, nil
}
