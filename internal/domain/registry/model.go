package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// ErrRegistryResolution is wrapped by every failure to determine the
// authoritative concept map version for a (resource type, organization).
var ErrRegistryResolution = errors.New("registry resolution failed")

// Entry is one row of the data normalization registry. An empty TenantID
// marks the tenant-agnostic default for the data element; it comes from a
// null tenant_id, since the client rejects empty strings.
type Entry struct {
	DataElement    string
	TenantID       string
	ConceptMapUUID uuid.UUID
	Version        int
}

// TenantAgnostic reports whether the entry applies to every organization.
func (e Entry) TenantAgnostic() bool { return e.TenantID == "" }

// ConceptMapVersionRef addresses the concept map version selected for a
// batch.
type ConceptMapVersionRef struct {
	ConceptMapUUID uuid.UUID
	Version        int
	TenantSpecific bool
}

func (r ConceptMapVersionRef) String() string {
	scope := "default"
	if r.TenantSpecific {
		scope = "tenant"
	}
	return fmt.Sprintf("%s v%d (%s)", r.ConceptMapUUID, r.Version, scope)
}

func (e Entry) ref() ConceptMapVersionRef {
	return ConceptMapVersionRef{ConceptMapUUID: e.ConceptMapUUID, Version: e.Version, TenantSpecific: !e.TenantAgnostic()}
}

func entriesFromPayload(rows []terminologyapi.RegistryEntry) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{DataElement: row.DataElement, ConceptMapUUID: row.ConceptMapUUID}
		if row.TenantID != nil {
			e.TenantID = *row.TenantID
		}
		if row.Version != nil {
			e.Version = *row.Version
		}
		entries = append(entries, e)
	}
	return entries
}

// SelectEntry picks the authoritative entry for (resourceType, org). An entry
// for the organization always wins over the tenant-agnostic default; the
// default is used only when no tenant entry exists. Several distinct entries
// at the winning level are ambiguous and rejected. Identical duplicates are
// tolerated.
func SelectEntry(entries []Entry, resourceType normalization.ResourceType, org normalization.Organization) (ConceptMapVersionRef, error) {
	var tenant, agnostic []Entry
	for _, e := range entries {
		if e.DataElement != resourceType.DataElement() {
			continue
		}
		switch {
		case e.TenantAgnostic():
			agnostic = append(agnostic, e)
		case e.TenantID == org.ID:
			tenant = append(tenant, e)
		}
	}

	if len(tenant) > 0 {
		return pick(tenant, resourceType, org)
	}
	if len(agnostic) > 0 {
		return pick(agnostic, resourceType, org)
	}
	return ConceptMapVersionRef{}, fmt.Errorf("%w: no registry entry for %s (organization %s)", ErrRegistryResolution, resourceType, org.ID)
}

func pick(candidates []Entry, resourceType normalization.ResourceType, org normalization.Organization) (ConceptMapVersionRef, error) {
	first := candidates[0]
	for _, e := range candidates[1:] {
		if e.ConceptMapUUID != first.ConceptMapUUID || e.Version != first.Version {
			return ConceptMapVersionRef{}, fmt.Errorf("%w: %d conflicting registry entries for %s (organization %s)",
				ErrRegistryResolution, len(candidates), resourceType, org.ID)
		}
	}
	return first.ref(), nil
}
