// Package snapshot provides minimal, read-only access to a dataset snapshot
// stored as a local TileDB array.
//
// A snapshot is a sparse array named "persons" with one row per person:
//   - dim "row" (int64)
//   - attrs person_id, name (var-length strings), x, y, z (float64),
//     cluster_id (int32, nullable), cluster_label (var-length string,
//     nullable), total_events (int32)
//
// Snapshots are exported by the upstream service's tooling; this package only
// reads them so the CLI can render scenes without a live upstream.
package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

var (
	// ErrUnsupported indicates this binary was built without TileDB support.
	ErrUnsupported = errors.New("snapshot support is not enabled in this build (build with: go build -tags tiledb)")
)

// ResolveSnapshotURI accepts either:
//   - /path/to/.../snapshot/persons  (the persons array itself)
//   - /path/to/.../snapshot          (parent directory)
//
// and returns the persons array path.
func ResolveSnapshotURI(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty snapshot path")
	}
	p = os.ExpandEnv(p)
	p = filepath.Clean(p)

	if filepath.Base(p) == "persons" {
		return p, nil
	}
	return filepath.Join(p, "persons"), nil
}

// DeriveClusters rebuilds per-cluster summaries by grouping snapshot rows.
// Snapshots carry person rows only, so cluster metadata that the live API
// would serve (person count, centroid, label, top occupations) is
// reconstructed here. Unclustered rows are skipped. Results are sorted by
// cluster id.
func DeriveClusters(persons []lifeapi.VisualizationPerson) []lifeapi.ClusterInfo {
	type group struct {
		info       lifeapi.ClusterInfo
		sx, sy, sz float64
		occ        map[string]int
	}
	groups := make(map[int]*group)
	for _, p := range persons {
		if p.ClusterID == nil {
			continue
		}
		g, ok := groups[*p.ClusterID]
		if !ok {
			g = &group{info: lifeapi.ClusterInfo{ClusterID: *p.ClusterID}, occ: make(map[string]int)}
			groups[*p.ClusterID] = g
		}
		g.info.PersonCount++
		g.sx += p.X
		g.sy += p.Y
		g.sz += p.Z
		if g.info.ClusterLabel == "" && p.ClusterLabel != nil {
			g.info.ClusterLabel = *p.ClusterLabel
		}
		for _, o := range p.Occupation {
			if o != "" {
				g.occ[o]++
			}
		}
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]lifeapi.ClusterInfo, 0, len(ids))
	for _, id := range ids {
		g := groups[id]
		n := float64(g.info.PersonCount)
		g.info.AvgCoordinates = lifeapi.Coordinate3D{X: g.sx / n, Y: g.sy / n, Z: g.sz / n}
		g.info.TopOccupations = topOccupations(g.occ, 5)
		out = append(out, g.info)
	}
	return out
}

func topOccupations(counts map[string]int, limit int) []lifeapi.OccupationCount {
	if len(counts) == 0 {
		return nil
	}
	occ := make([]lifeapi.OccupationCount, 0, len(counts))
	for name, n := range counts {
		occ = append(occ, lifeapi.OccupationCount{Occupation: name, Count: n})
	}
	sort.Slice(occ, func(i, j int) bool {
		if occ[i].Count != occ[j].Count {
			return occ[i].Count > occ[j].Count
		}
		return occ[i].Occupation < occ[j].Occupation
	})
	if len(occ) > limit {
		occ = occ[:limit]
	}
	return occ
}

// Source adapts a Reader to the dataset store's loading interface, so a
// snapshot can stand in for the live upstream API.
type Source struct {
	r *Reader
}

func NewSource(r *Reader) *Source { return &Source{r: r} }

func (s *Source) Visualization(ctx context.Context) (*lifeapi.VisualizationData, error) {
	persons, err := s.r.Persons()
	if err != nil {
		return nil, err
	}
	return &lifeapi.VisualizationData{
		Persons: persons,
		Metadata: lifeapi.VisualizationMetadata{
			TotalPersons: len(persons),
			NumClusters:  len(DeriveClusters(persons)),
		},
	}, nil
}

func (s *Source) Clusters(ctx context.Context) ([]lifeapi.ClusterInfo, error) {
	persons, err := s.r.Persons()
	if err != nil {
		return nil, err
	}
	return DeriveClusters(persons), nil
}
