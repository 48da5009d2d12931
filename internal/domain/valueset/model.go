package valueset

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Expansion is the materialized list of concepts in a value set version.
type Expansion struct {
	Timestamp string
	Contains  []terminology.Concept
}

// ValueSetVersion is one version of a value set. Versions are append-only:
// changes produce a new version through Service.NewVersion.
type ValueSetVersion struct {
	UUID         uuid.UUID
	ValueSetUUID uuid.UUID

	ResourceType string
	URL          string
	Name         string
	Title        string
	Version      string
	Status       string
	Publisher    string
	Purpose      string
	Description  string
	Experimental bool
	Immutable    bool
	Contact      json.RawMessage
	Extension    json.RawMessage
	Meta         json.RawMessage

	// Expansion is empty for versions returned by NewVersion until they are
	// loaded again.
	Expansion Expansion
}

// LookupTerminologies derives the distinct (system, version) pairs in the
// expansion, in order of first appearance, as unresolved Terminology
// placeholders. This is a derived view of the expansion, not an
// authoritative lookup: the placeholders carry no uuid or name and must be
// passed to terminology.Service.Resolve before use.
func (v *ValueSetVersion) LookupTerminologies() []*terminology.Terminology {
	type pair struct{ system, version string }
	seen := make(map[pair]bool)
	var out []*terminology.Terminology
	for _, c := range v.Expansion.Contains {
		p := pair{c.System, c.Version}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, &terminology.Terminology{FHIRURI: c.System, Version: c.Version})
	}
	return out
}

func fromPayload(p *terminologyapi.ValueSetVersionPayload) *ValueSetVersion {
	v := &ValueSetVersion{
		UUID:         p.ID,
		ValueSetUUID: p.AdditionalData.ValueSetUUID,
		ResourceType: p.ResourceType,
		URL:          p.URL,
		Name:         p.Name,
		Title:        p.Title,
		Version:      p.Version,
		Status:       p.Status,
		Publisher:    p.Publisher,
		Purpose:      p.Purpose,
		Description:  p.Description,
		Experimental: p.Experimental,
		Immutable:    p.Immutable,
		Contact:      p.Contact,
		Extension:    p.Extension,
		Meta:         p.Meta,
	}
	if p.Expansion != nil {
		v.Expansion.Timestamp = p.Expansion.Timestamp
		v.Expansion.Contains = make([]terminology.Concept, 0, len(p.Expansion.Contains))
		for _, c := range p.Expansion.Contains {
			v.Expansion.Contains = append(v.Expansion.Contains, terminology.Concept{
				Code:    c.Code,
				Display: c.Display,
				System:  c.System,
				Version: c.Version,
			})
		}
	}
	return v
}
