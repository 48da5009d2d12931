package terminologyapi

import (
	"encoding/json"

	"github.com/google/uuid"
)

// validator is implemented by every response payload. Validate reports the
// first required field that is missing.
type validator interface {
	Validate() error
}

// ---------------------------------------------------------------------------
// Data normalization registry
// ---------------------------------------------------------------------------

// RegistryEntry is one row of GET /data_normalization/registry.
type RegistryEntry struct {
	DataElement    string    `json:"data_element"`
	TenantID       *string   `json:"tenant_id"`
	ConceptMapUUID uuid.UUID `json:"concept_map_uuid"`
	Version        *int      `json:"version"`
}

// Registry is the full registry listing.
type Registry []RegistryEntry

func (r Registry) Validate() error {
	for i, e := range r {
		if e.DataElement == "" {
			return malformed("registry entry %d: data_element is required", i)
		}
		if e.ConceptMapUUID == uuid.Nil {
			return malformed("registry entry %d: concept_map_uuid is required", i)
		}
		if e.Version == nil {
			return malformed("registry entry %d: version is required", i)
		}
		// Only null marks the tenant-agnostic default.
		if e.TenantID != nil && *e.TenantID == "" {
			return malformed("registry entry %d: tenant_id is empty, want null or a tenant", i)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Concept maps
// ---------------------------------------------------------------------------

// ConceptMapPayload is the concept map version returned by GET /ConceptMaps/.
type ConceptMapPayload struct {
	ID           uuid.UUID               `json:"id"`
	InternalData *ConceptMapInternalData `json:"internalData"`
	Group        []ConceptMapGroup       `json:"group"`
}

type ConceptMapInternalData struct {
	SourceValueSetVersionUUID uuid.UUID `json:"source_value_set_version_uuid"`
	TargetValueSetVersionUUID uuid.UUID `json:"target_value_set_version_uuid"`
}

type ConceptMapGroup struct {
	Source        string              `json:"source"`
	SourceVersion string              `json:"sourceVersion"`
	Target        string              `json:"target"`
	TargetVersion string              `json:"targetVersion"`
	Element       []ConceptMapElement `json:"element"`
}

type ConceptMapElement struct {
	Code    string             `json:"code"`
	Display string             `json:"display"`
	Target  []ConceptMapTarget `json:"target"`
}

type ConceptMapTarget struct {
	Code        string `json:"code"`
	Display     string `json:"display"`
	Equivalence string `json:"equivalence"`
}

func (p *ConceptMapPayload) Validate() error {
	if p.ID == uuid.Nil {
		return malformed("concept map: id is required")
	}
	if p.InternalData == nil {
		return malformed("concept map %s: internalData is required", p.ID)
	}
	if p.InternalData.SourceValueSetVersionUUID == uuid.Nil {
		return malformed("concept map %s: internalData.source_value_set_version_uuid is required", p.ID)
	}
	if p.InternalData.TargetValueSetVersionUUID == uuid.Nil {
		return malformed("concept map %s: internalData.target_value_set_version_uuid is required", p.ID)
	}
	for gi, g := range p.Group {
		for ei, el := range g.Element {
			if el.Code == "" {
				return malformed("concept map %s: group[%d].element[%d].code is required", p.ID, gi, ei)
			}
			for ti, t := range el.Target {
				if t.Equivalence == "" {
					return malformed("concept map %s: group[%d].element[%d].target[%d].equivalence is required", p.ID, gi, ei, ti)
				}
			}
		}
	}
	return nil
}

// NewConceptMapVersionRequest is the body of
// POST /ConceptMaps/actions/new_version_from_previous.
type NewConceptMapVersionRequest struct {
	PreviousVersionUUID          uuid.UUID `json:"previous_version_uuid"`
	NewVersionDescription        string    `json:"new_version_description"`
	NewVersionNum                int       `json:"new_version_num"`
	NewSourceValueSetVersionUUID uuid.UUID `json:"new_source_value_set_version_uuid"`
	NewTargetValueSetVersionUUID uuid.UUID `json:"new_target_value_set_version_uuid"`
}

type NewConceptMapVersionResponse struct {
	UUID    uuid.UUID `json:"uuid"`
	Version int       `json:"version"`
}

func (r *NewConceptMapVersionResponse) Validate() error {
	if r.UUID == uuid.Nil {
		return malformed("new concept map version: uuid is required")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Value sets
// ---------------------------------------------------------------------------

// ValueSetVersionPayload is the value set version returned by
// GET /ValueSet/{uuid}/$expand. Contact, extension and meta are kept opaque.
type ValueSetVersionPayload struct {
	ResourceType   string                 `json:"resourceType"`
	ID             uuid.UUID              `json:"id"`
	URL            string                 `json:"url"`
	Name           string                 `json:"name"`
	Title          string                 `json:"title"`
	Version        string                 `json:"version"`
	Status         string                 `json:"status"`
	Publisher      string                 `json:"publisher"`
	Purpose        string                 `json:"purpose"`
	Description    string                 `json:"description"`
	Experimental   bool                   `json:"experimental"`
	Immutable      bool                   `json:"immutable"`
	Contact        json.RawMessage        `json:"contact,omitempty"`
	Extension      json.RawMessage        `json:"extension,omitempty"`
	Meta           json.RawMessage        `json:"meta,omitempty"`
	AdditionalData ValueSetAdditionalData `json:"additionalData"`
	Expansion      *ValueSetExpansion     `json:"expansion"`
}

type ValueSetAdditionalData struct {
	ValueSetUUID uuid.UUID `json:"value_set_uuid"`
}

type ValueSetExpansion struct {
	Timestamp string             `json:"timestamp"`
	Contains  []ExpansionConcept `json:"contains"`
}

type ExpansionConcept struct {
	Code    string `json:"code"`
	Display string `json:"display"`
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
}

func (p *ValueSetVersionPayload) Validate() error {
	if p.ID == uuid.Nil {
		return malformed("value set version: id is required")
	}
	if p.AdditionalData.ValueSetUUID == uuid.Nil {
		return malformed("value set version %s: additionalData.value_set_uuid is required", p.ID)
	}
	if p.Expansion == nil {
		return malformed("value set version %s: expansion is required", p.ID)
	}
	for i, c := range p.Expansion.Contains {
		if c.Code == "" || c.Display == "" {
			return malformed("value set version %s: expansion.contains[%d] requires code and display", p.ID, i)
		}
	}
	return nil
}

// ValueSetVersionRef is returned by GET /ValueSets/{id}/most_recent_active_version.
type ValueSetVersionRef struct {
	UUID    uuid.UUID `json:"uuid"`
	Version string    `json:"version,omitempty"`
	Status  string    `json:"status,omitempty"`
}

func (r *ValueSetVersionRef) Validate() error {
	if r.UUID == uuid.Nil {
		return malformed("most recent active version: uuid is required")
	}
	return nil
}

type NewValueSetVersionRequest struct {
	Description string `json:"description"`
}

type NewValueSetVersionResponse struct {
	UUID        uuid.UUID `json:"uuid"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
}

func (r *NewValueSetVersionResponse) Validate() error {
	if r.UUID == uuid.Nil {
		return malformed("new value set version: uuid is required")
	}
	return nil
}

type UpdateTerminologyRequest struct {
	OldTerminologyVersionUUID uuid.UUID `json:"old_terminology_version_uuid"`
	NewTerminologyVersionUUID uuid.UUID `json:"new_terminology_version_uuid"`
}

// ---------------------------------------------------------------------------
// Terminologies
// ---------------------------------------------------------------------------

// TerminologyPayload describes one terminology version.
type TerminologyPayload struct {
	UUID           uuid.UUID `json:"uuid"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	EffectiveStart string    `json:"effective_start,omitempty"`
	EffectiveEnd   string    `json:"effective_end,omitempty"`
	FHIRURI        string    `json:"fhir_uri"`
}

func (p *TerminologyPayload) Validate() error {
	if p.UUID == uuid.Nil {
		return malformed("terminology: uuid is required")
	}
	if p.Version == "" {
		return malformed("terminology %s: version is required", p.UUID)
	}
	if p.Name == "" && p.FHIRURI == "" {
		return malformed("terminology %s: name or fhir_uri is required", p.UUID)
	}
	return nil
}

// NewCodeRequest is the body of POST /terminology/new_code.
type NewCodeRequest struct {
	Code                   string    `json:"code"`
	Display                string    `json:"display"`
	System                 string    `json:"system,omitempty"`
	Version                string    `json:"version,omitempty"`
	TerminologyVersionUUID uuid.UUID `json:"terminology_version_uuid"`
}
