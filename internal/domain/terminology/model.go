package terminology

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

// Concept is one code system entry. Concepts are compared by value.
type Concept struct {
	Code    string `json:"code"`
	Display string `json:"display"`
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
}

func (c Concept) String() string {
	if c.System == "" {
		return c.Code
	}
	return fmt.Sprintf("%s|%s", c.System, c.Code)
}

// KeyKind selects which pair of fields a Key was built from.
type KeyKind int

const (
	KeyByURIVersion KeyKind = iota + 1
	KeyByNameVersion
)

func (k KeyKind) String() string {
	switch k {
	case KeyByURIVersion:
		return "uri"
	case KeyByNameVersion:
		return "name"
	default:
		return "unknown"
	}
}

// Key identifies a terminology version either by (fhir_uri, version) or by
// (name, version). The remote store exposes records under either form.
type Key struct {
	Kind    KeyKind
	Value   string
	Version string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s|%s", k.Kind, k.Value, k.Version)
}

// Terminology is a versioned code system. UUID is uuid.Nil until the
// terminology has been resolved against the remote store.
type Terminology struct {
	UUID           uuid.UUID
	Name           string
	Version        string
	EffectiveStart string
	EffectiveEnd   string
	FHIRURI        string

	// Codes accumulates the concepts added during this process. It does not
	// reflect the full remote state.
	Codes []Concept
}

// Placeholder reports whether the terminology has no remote identity yet.
func (t *Terminology) Placeholder() bool { return t.UUID == uuid.Nil }

// Keys returns the lookup keys the terminology can be found under. A key is
// only produced when both of its fields are known.
func (t *Terminology) Keys() []Key {
	var keys []Key
	if t.FHIRURI != "" {
		keys = append(keys, Key{Kind: KeyByURIVersion, Value: t.FHIRURI, Version: t.Version})
	}
	if t.Name != "" {
		keys = append(keys, Key{Kind: KeyByNameVersion, Value: t.Name, Version: t.Version})
	}
	return keys
}

// HasKey reports whether k is one of the terminology's keys.
func (t *Terminology) HasKey(k Key) bool {
	for _, own := range t.Keys() {
		if own == k {
			return true
		}
	}
	return false
}

// SameAs reports whether two terminologies denote the same version: they must
// share at least one key and agree on identity (both unresolved, or the same
// uuid).
func (t *Terminology) SameAs(other *Terminology) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.UUID != other.UUID {
		return false
	}
	for _, k := range t.Keys() {
		if other.HasKey(k) {
			return true
		}
	}
	return false
}

func (t *Terminology) String() string {
	if t.Placeholder() {
		return fmt.Sprintf("%s|%s (unresolved)", t.FHIRURI, t.Version)
	}
	return fmt.Sprintf("%s %s (%s)", t.Name, t.Version, t.UUID)
}

func fromPayload(p *terminologyapi.TerminologyPayload) *Terminology {
	return &Terminology{
		UUID:           p.UUID,
		Name:           p.Name,
		Version:        p.Version,
		EffectiveStart: p.EffectiveStart,
		EffectiveEnd:   p.EffectiveEnd,
		FHIRURI:        p.FHIRURI,
	}
}
