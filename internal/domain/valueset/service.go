package valueset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// ErrDescriptionRequired is returned by NewVersion for a blank description.
var ErrDescriptionRequired = errors.New("new value set version requires a description")

// Service provides value set version operations against the remote store.
type Service struct {
	repo Repository
}

// NewService creates a new value set service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Load expands a value set version by its version uuid.
func (s *Service) Load(ctx context.Context, versionUUID uuid.UUID) (*ValueSetVersion, error) {
	p, err := s.repo.ExpandValueSetVersion(ctx, versionUUID)
	if err != nil {
		return nil, fmt.Errorf("load value set version %s: %w", versionUUID, err)
	}
	return fromPayload(p), nil
}

// MostRecentActiveVersion returns the uuid of the latest active version of a value set.
func (s *Service) MostRecentActiveVersion(ctx context.Context, valueSetUUID uuid.UUID) (uuid.UUID, error) {
	ref, err := s.repo.MostRecentActiveVersion(ctx, valueSetUUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("most recent active version of value set %s: %w", valueSetUUID, err)
	}
	return ref.UUID, nil
}

// NewVersion creates a new, unpublished version of the value set that from
// belongs to. The returned version carries from's metadata with the identity
// assigned by the store; its expansion is not populated.
func (s *Service) NewVersion(ctx context.Context, from *ValueSetVersion, description string) (*ValueSetVersion, error) {
	if strings.TrimSpace(description) == "" {
		return nil, ErrDescriptionRequired
	}
	resp, err := s.repo.NewValueSetVersion(ctx, from.ValueSetUUID, terminologyapi.NewValueSetVersionRequest{Description: description})
	if err != nil {
		return nil, fmt.Errorf("new version of value set %s: %w", from.ValueSetUUID, err)
	}

	next := *from
	next.UUID = resp.UUID
	next.Version = resp.Version
	next.Status = resp.Status
	next.Description = description
	if resp.Description != "" {
		next.Description = resp.Description
	}
	next.Expansion = Expansion{}
	return &next, nil
}

// UpdateRulesForNewTerminologyVersion repoints the rules of v from one
// terminology version to another.
func (s *Service) UpdateRulesForNewTerminologyVersion(ctx context.Context, v *ValueSetVersion, oldTerminologyVersion, newTerminologyVersion uuid.UUID) error {
	err := s.repo.UpdateTerminologyRules(ctx, v.UUID, terminologyapi.UpdateTerminologyRequest{
		OldTerminologyVersionUUID: oldTerminologyVersion,
		NewTerminologyVersionUUID: newTerminologyVersion,
	})
	if err != nil {
		return fmt.Errorf("update terminology rules of value set version %s: %w", v.UUID, err)
	}
	return nil
}

// Publish marks v live.
func (s *Service) Publish(ctx context.Context, v *ValueSetVersion) error {
	if err := s.repo.PublishValueSetVersion(ctx, v.UUID); err != nil {
		return fmt.Errorf("publish value set version %s: %w", v.UUID, err)
	}
	v.Status = "active"
	return nil
}
