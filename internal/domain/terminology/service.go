package terminology

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Service loads terminologies from the remote store and appends concepts to them.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

// NewService creates a new terminology service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get loads a terminology version by uuid.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Terminology, error) {
	if id == uuid.Nil {
		return nil, ErrUnresolvedTerminology
	}
	p, err := s.repo.GetTerminology(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get terminology %s: %w", id, err)
	}
	return fromPayload(p), nil
}

// Resolve returns the authoritative terminology for a placeholder, looked up
// by (fhir_uri, version). A placeholder without a version resolves to the
// store's current version for the URI. A terminology that already has a uuid
// is returned unchanged.
func (s *Service) Resolve(ctx context.Context, t *Terminology) (*Terminology, error) {
	if !t.Placeholder() {
		return t, nil
	}
	if t.FHIRURI == "" {
		return nil, fmt.Errorf("%w: placeholder needs a fhir_uri, got %q|%q", ErrUnresolvedTerminology, t.FHIRURI, t.Version)
	}

	p, err := s.repo.FindTerminology(ctx, t.FHIRURI, t.Version)
	if err != nil {
		return nil, fmt.Errorf("resolve terminology %s|%s: %w", t.FHIRURI, t.Version, err)
	}
	resolved := fromPayload(p)

	want := Key{Kind: KeyByURIVersion, Value: t.FHIRURI, Version: t.Version}
	if t.Version == "" {
		want.Version = resolved.Version
	}
	if !resolved.HasKey(want) {
		return nil, fmt.Errorf("resolve terminology %s: store returned %s: %w", want, resolved, terminologyapi.ErrMalformedPayload)
	}
	return resolved, nil
}

// LoadAdditionalConcepts posts each concept to the terminology, one call per
// concept, in order. It stops at the first rejected concept and returns a
// *PartialLoadError describing what landed. Posting the same concept twice
// creates a duplicate unless the store deduplicates it.
func (s *Service) LoadAdditionalConcepts(ctx context.Context, t *Terminology, concepts []Concept) error {
	if t.Placeholder() {
		return ErrUnresolvedTerminology
	}

	for i, c := range concepts {
		err := s.repo.PostNewCode(ctx, terminologyapi.NewCodeRequest{
			Code:                   c.Code,
			Display:                c.Display,
			System:                 c.System,
			Version:                c.Version,
			TerminologyVersionUUID: t.UUID,
		})
		if err != nil {
			return &PartialLoadError{
				Terminology:  t.UUID,
				Loaded:       append([]Concept(nil), concepts[:i]...),
				Failed:       c,
				NotAttempted: append([]Concept(nil), concepts[i+1:]...),
				Err:          err,
			}
		}
		t.Codes = append(t.Codes, c)
	}

	s.logger.Debug().
		Str("terminology", t.UUID.String()).
		Int("concepts", len(concepts)).
		Msg("concepts loaded")
	return nil
}
