//go:build !tiledb

package snapshot

import (
	"fmt"
	"os"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

// Reader is a stub when built without "-tags tiledb".
type Reader struct {
	arrayURI string
}

// NewReader creates a snapshot reader (stub). It still resolves and validates
// the array path, so config issues can be caught early, but all read methods
// return ErrUnsupported.
func NewReader(path string) (*Reader, error) {
	uri, err := ResolveSnapshotURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("snapshot array not found at %s: %w", uri, statErr)
	}
	return &Reader{arrayURI: uri}, nil
}

func (r *Reader) Supported() bool { return false }

func (r *Reader) ArrayURI() string { return r.arrayURI }

func (r *Reader) Persons() ([]lifeapi.VisualizationPerson, error) {
	return nil, ErrUnsupported
}

// EventCounts returns person_id -> total_events for intensity coloring.
func (r *Reader) EventCounts() (map[string]int, error) {
	return nil, ErrUnsupported
}
