package conceptmap

import (
	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/valueset"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Equivalence classifies how a source concept relates to its target.
type Equivalence string

const (
	EquivalenceRelatedTo   Equivalence = "relatedto"
	EquivalenceEquivalent  Equivalence = "equivalent"
	EquivalenceEqual       Equivalence = "equal"
	EquivalenceWider       Equivalence = "wider"
	EquivalenceSubsumes    Equivalence = "subsumes"
	EquivalenceNarrower    Equivalence = "narrower"
	EquivalenceSpecializes Equivalence = "specializes"
	EquivalenceInexact     Equivalence = "inexact"
	EquivalenceUnmatched   Equivalence = "unmatched"
	EquivalenceDisjoint    Equivalence = "disjoint"
)

// Known reports whether e is one of the FHIR R4 equivalence codes. Unknown
// codes are kept as-is.
func (e Equivalence) Known() bool {
	switch e {
	case EquivalenceRelatedTo, EquivalenceEquivalent, EquivalenceEqual, EquivalenceWider,
		EquivalenceSubsumes, EquivalenceNarrower, EquivalenceSpecializes, EquivalenceInexact,
		EquivalenceUnmatched, EquivalenceDisjoint:
		return true
	}
	return false
}

// Mapping relates one source concept to one target concept.
type Mapping struct {
	Source      terminology.Concept
	Target      terminology.Concept
	Equivalence Equivalence
}

// ConceptMapVersion is one version of a concept map, linking a source value
// set version to a target value set version.
type ConceptMapVersion struct {
	// UUID is the version identity; ConceptMapUUID and Version address it
	// through the registry.
	UUID           uuid.UUID
	ConceptMapUUID uuid.UUID
	Version        int

	SourceValueSetVersionUUID uuid.UUID
	TargetValueSetVersionUUID uuid.UUID

	// Populated by Service.Load; nil after Deserialize.
	SourceValueSetVersion *valueset.ValueSetVersion
	TargetValueSetVersion *valueset.ValueSetVersion

	Mappings []Mapping
}

// Deserialize builds a ConceptMapVersion from its wire payload without any
// remote calls. Each group contributes the cross product of its elements and
// their targets, carrying the group's source and target system and version.
func Deserialize(p *terminologyapi.ConceptMapPayload) *ConceptMapVersion {
	v := &ConceptMapVersion{UUID: p.ID}
	if p.InternalData != nil {
		v.SourceValueSetVersionUUID = p.InternalData.SourceValueSetVersionUUID
		v.TargetValueSetVersionUUID = p.InternalData.TargetValueSetVersionUUID
	}

	for _, g := range p.Group {
		for _, el := range g.Element {
			source := terminology.Concept{
				Code:    el.Code,
				Display: el.Display,
				System:  g.Source,
				Version: g.SourceVersion,
			}
			for _, tg := range el.Target {
				v.Mappings = append(v.Mappings, Mapping{
					Source: source,
					Target: terminology.Concept{
						Code:    tg.Code,
						Display: tg.Display,
						System:  g.Target,
						Version: g.TargetVersion,
					},
					Equivalence: Equivalence(tg.Equivalence),
				})
			}
		}
	}
	return v
}
