package conceptmap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/valueset"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

var ErrDescriptionRequired = errors.New("new concept map version requires a description")

// NewVersionParams describes the version derived by Service.NewVersion.
type NewVersionParams struct {
	Description               string
	VersionNum                int
	SourceValueSetVersionUUID uuid.UUID
	TargetValueSetVersionUUID uuid.UUID
}

// Service provides concept map version operations against the remote store.
type Service struct {
	repo      Repository
	valueSets *valueset.Service
}

// NewService creates a new concept map service. valueSets is used by Load to
// expand the source and target value set versions.
func NewService(repo Repository, valueSets *valueset.Service) *Service {
	return &Service{repo: repo, valueSets: valueSets}
}

// Load fetches a concept map version and expands its source and target
// value set versions.
func (s *Service) Load(ctx context.Context, conceptMapUUID uuid.UUID, version int) (*ConceptMapVersion, error) {
	p, err := s.repo.GetConceptMapVersion(ctx, conceptMapUUID, version)
	if err != nil {
		return nil, fmt.Errorf("load concept map %s v%d: %w", conceptMapUUID, version, err)
	}

	v := Deserialize(p)
	v.ConceptMapUUID = conceptMapUUID
	v.Version = version

	if v.SourceValueSetVersion, err = s.valueSets.Load(ctx, v.SourceValueSetVersionUUID); err != nil {
		return nil, fmt.Errorf("load concept map %s v%d source: %w", conceptMapUUID, version, err)
	}
	if v.TargetValueSetVersion, err = s.valueSets.Load(ctx, v.TargetValueSetVersionUUID); err != nil {
		return nil, fmt.Errorf("load concept map %s v%d target: %w", conceptMapUUID, version, err)
	}
	return v, nil
}

// NewVersion derives a new, unpublished version from prev. Mappings are not
// copied locally; the store carries them forward.
func (s *Service) NewVersion(ctx context.Context, prev *ConceptMapVersion, params NewVersionParams) (*ConceptMapVersion, error) {
	if strings.TrimSpace(params.Description) == "" {
		return nil, ErrDescriptionRequired
	}
	resp, err := s.repo.NewConceptMapVersion(ctx, terminologyapi.NewConceptMapVersionRequest{
		PreviousVersionUUID:          prev.UUID,
		NewVersionDescription:        params.Description,
		NewVersionNum:                params.VersionNum,
		NewSourceValueSetVersionUUID: params.SourceValueSetVersionUUID,
		NewTargetValueSetVersionUUID: params.TargetValueSetVersionUUID,
	})
	if err != nil {
		return nil, fmt.Errorf("new version of concept map %s: %w", prev.ConceptMapUUID, err)
	}

	version := resp.Version
	if version == 0 {
		version = params.VersionNum
	}
	return &ConceptMapVersion{
		UUID:                      resp.UUID,
		ConceptMapUUID:            prev.ConceptMapUUID,
		Version:                   version,
		SourceValueSetVersionUUID: params.SourceValueSetVersionUUID,
		TargetValueSetVersionUUID: params.TargetValueSetVersionUUID,
	}, nil
}

// Publish marks v live.
func (s *Service) Publish(ctx context.Context, v *ConceptMapVersion) error {
	if err := s.repo.PublishConceptMapVersion(ctx, v.UUID); err != nil {
		return fmt.Errorf("publish concept map version %s: %w", v.UUID, err)
	}
	return nil
}
