package incrementalload

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/terminology"
)

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Organization string `json:"organization"`
	ResourceType string `json:"resource_type"`
	State        State  `json:"state"`
	FailedAt     State  `json:"failed_at,omitempty"`
	Kind         Kind   `json:"error_kind,omitempty"`
	Detail       string `json:"detail,omitempty"`

	ConceptMapUUID           uuid.UUID             `json:"concept_map_uuid"`
	ConceptMapVersion        int                   `json:"concept_map_version,omitempty"`
	TerminologyUUID          uuid.UUID             `json:"terminology_uuid"`
	ConceptsRequested        int                   `json:"concepts_requested"`
	ConceptsLoaded           []terminology.Concept `json:"concepts_loaded"`
	NewValueSetVersionUUID   uuid.UUID             `json:"new_value_set_version_uuid"`
	NewConceptMapVersionUUID uuid.UUID             `json:"new_concept_map_version_uuid"`
	NewConceptMapVersion     int                   `json:"new_concept_map_version,omitempty"`

	// PartialState is set when the batch failed after concepts had already
	// been added to the terminology. Operators must reconcile by hand.
	PartialState bool          `json:"partial_state"`
	AckError     string        `json:"ack_error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`

	Err error `json:"-"`
}

// Succeeded reports whether the batch reached Done.
func (r BatchResult) Succeeded() bool { return r.State == StateDone }

// Status renders the outcome as "Done" or "Failed(kind, detail)".
func (r BatchResult) Status() string {
	if r.Succeeded() {
		return string(StateDone)
	}
	return fmt.Sprintf("Failed(%s, %s)", r.Kind, r.Detail)
}

// Report summarizes a run.
type Report struct {
	RunID      uuid.UUID     `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Batches    []BatchResult `json:"batches"`
}

func (r *Report) Succeeded() int {
	n := 0
	for _, b := range r.Batches {
		if b.Succeeded() {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int { return len(r.Batches) - r.Succeeded() }

// HasPartialState reports whether any batch left the store half-updated.
func (r *Report) HasPartialState() bool {
	for _, b := range r.Batches {
		if b.PartialState {
			return true
		}
	}
	return false
}

// WriteTable prints one line per batch followed by a totals line.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORGANIZATION\tRESOURCE TYPE\tLOADED\tVALUE SET VERSION\tCONCEPT MAP VERSION\tPARTIAL\tSTATUS")
	for _, b := range r.Batches {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%t\t%s\n",
			b.Organization,
			b.ResourceType,
			len(b.ConceptsLoaded), b.ConceptsRequested,
			shortID(b.NewValueSetVersionUUID),
			shortID(b.NewConceptMapVersionUUID),
			b.PartialState,
			b.Status(),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d batches, %d done, %d failed\n", r.RunID, len(r.Batches), r.Succeeded(), r.Failed())
	return err
}

func shortID(id uuid.UUID) string {
	if id == uuid.Nil {
		return "-"
	}
	return id.String()
}
