package normalization

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Source supplies unresolved error records and accepts acknowledgements for
// records whose concepts have been loaded and published.
type Source interface {
	Records(ctx context.Context) ([]ErrorRecord, error)
	Ack(ctx context.Context, ids []string) error
}

// FileSource reads error records from a JSON array on disk. Ack is a no-op:
// the file is an operator-managed snapshot.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Records(_ context.Context) ([]ErrorRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read error file %s: %w", s.path, err)
	}
	var records []ErrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: decode error file %s: %v", ErrDataExtraction, s.path, err)
	}
	return records, nil
}

func (s *FileSource) Ack(_ context.Context, _ []string) error { return nil }
