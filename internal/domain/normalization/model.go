package normalization

import (
	"fmt"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
)

// Organization is a tenant. Two organizations are equal when their ids are.
type Organization struct {
	ID string
}

// ResourceType is a clinical resource kind. Its value is the registry's
// data_element code.
type ResourceType string

const (
	ResourceTypeObservation ResourceType = "Observation"
	ResourceTypeCondition   ResourceType = "Condition"
	ResourceTypeMedication  ResourceType = "Medication"
	// ResourceTypeTelecomUse is only used by tests until a real data type is live.
	ResourceTypeTelecomUse ResourceType = "Practitioner.telecom.use"
)

var resourceTypes = []ResourceType{
	ResourceTypeObservation,
	ResourceTypeCondition,
	ResourceTypeMedication,
	ResourceTypeTelecomUse,
}

// ParseResourceType maps a data_element code to a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	for _, rt := range resourceTypes {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// DataElement returns the registry code for the resource type.
func (r ResourceType) DataElement() string { return string(r) }

// ErrorRecord is one normalization failure reported by the ingestion
// pipeline: a code that did not map through the current concept map.
type ErrorRecord struct {
	ID           string `json:"id"`
	Organization string `json:"organization_id"`
	ResourceType string `json:"resource_type"`
	Code         string `json:"code"`
	Display      string `json:"display"`
	System       string `json:"system,omitempty"`
	Version      string `json:"version,omitempty"`
}

// BatchKey identifies one unit of reconciliation work.
type BatchKey struct {
	Organization Organization
	ResourceType ResourceType
}

func (k BatchKey) String() string {
	return fmt.Sprintf("%s/%s", k.Organization.ID, k.ResourceType)
}

// Batch holds the concepts to load for one (organization, resource type)
// pair together with the error records they came from.
type Batch struct {
	Key       BatchKey
	Concepts  []terminology.Concept
	RecordIDs []string
}
