package normalization

import (
	"errors"
	"fmt"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
)

// ErrDataExtraction is wrapped by every error caused by a malformed error
// record. Records are never dropped silently: a concept lost here misses the
// current run.
var ErrDataExtraction = errors.New("data extraction failed")

// Extract groups error records into batches keyed by (organization, resource
// type). Batches come out in order of first appearance; within a batch,
// concepts keep their first-appearance order and identical concepts are
// kept once. Every record id is retained so the batch can be acknowledged.
func Extract(records []ErrorRecord) ([]Batch, error) {
	var batches []Batch
	index := make(map[BatchKey]int)
	seen := make(map[BatchKey]map[terminology.Concept]bool)

	for i, r := range records {
		key, concept, err := parseRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d (id %q): %v", ErrDataExtraction, i, r.ID, err)
		}

		pos, ok := index[key]
		if !ok {
			pos = len(batches)
			index[key] = pos
			seen[key] = make(map[terminology.Concept]bool)
			batches = append(batches, Batch{Key: key})
		}

		b := &batches[pos]
		if r.ID != "" {
			b.RecordIDs = append(b.RecordIDs, r.ID)
		}
		if seen[key][concept] {
			continue
		}
		seen[key][concept] = true
		b.Concepts = append(b.Concepts, concept)
	}
	return batches, nil
}

func parseRecord(r ErrorRecord) (BatchKey, terminology.Concept, error) {
	switch {
	case r.Organization == "":
		return BatchKey{}, terminology.Concept{}, errors.New("organization is required")
	case r.ResourceType == "":
		return BatchKey{}, terminology.Concept{}, errors.New("resource type is required")
	case r.Code == "":
		return BatchKey{}, terminology.Concept{}, errors.New("code is required")
	case r.Display == "":
		return BatchKey{}, terminology.Concept{}, errors.New("display is required")
	}

	rt, err := ParseResourceType(r.ResourceType)
	if err != nil {
		return BatchKey{}, terminology.Concept{}, err
	}

	key := BatchKey{Organization: Organization{ID: r.Organization}, ResourceType: rt}
	concept := terminology.Concept{Code: r.Code, Display: r.Display, System: r.System, Version: r.Version}
	return key, concept, nil
}
