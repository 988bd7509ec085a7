// Package dataset owns the fetched person/cluster dataset for a view session.
//
// The store is the single source of truth: one writer (LoadAll), many readers.
// Loads are all-or-nothing; a dataset is installed only when both fetches
// succeed, and each successful load replaces the previous dataset wholesale.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

// ErrNotReady indicates no dataset has been loaded successfully yet.
var ErrNotReady = errors.New("dataset not loaded")

// Source provides the two dataset fetches. *lifeapi.Client satisfies it.
type Source interface {
	Visualization(ctx context.Context) (*lifeapi.VisualizationData, error)
	Clusters(ctx context.Context) ([]lifeapi.ClusterInfo, error)
}

// Meta summarizes the loaded dataset.
type Meta struct {
	TotalPersons int `json:"total_persons"`
	NumClusters  int `json:"num_clusters"`
}

// Store holds the current dataset.
type Store struct {
	source Source

	mu        sync.RWMutex
	ready     bool
	persons   []lifeapi.VisualizationPerson
	clusters  []lifeapi.ClusterInfo
	meta      Meta
	byPerson  map[string]int
	byCluster map[int]int
}

// NewStore creates an empty store reading from source.
func NewStore(source Source) *Store {
	return &Store{source: source}
}

// LoadAll fetches persons and clusters concurrently and installs both at once.
// The two fetches may complete in either order; the store becomes ready only
// after both have. Either failure fails the whole load: nothing fetched is
// kept and any previously loaded dataset is dropped, so a failed load always
// leaves the view with zero persons and a single error to surface.
func (s *Store) LoadAll(ctx context.Context) error {
	var (
		wg          sync.WaitGroup
		viz         *lifeapi.VisualizationData
		clusters    []lifeapi.ClusterInfo
		vizErr      error
		clustersErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		viz, vizErr = s.source.Visualization(ctx)
	}()
	go func() {
		defer wg.Done()
		clusters, clustersErr = s.source.Clusters(ctx)
	}()
	wg.Wait()

	if vizErr != nil || clustersErr != nil {
		s.clear()
		if vizErr != nil {
			return fmt.Errorf("loading dataset: %w", vizErr)
		}
		return fmt.Errorf("loading dataset: %w", clustersErr)
	}

	s.install(viz, clusters)
	return nil
}

func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.persons = nil
	s.clusters = nil
	s.meta = Meta{}
	s.byPerson = nil
	s.byCluster = nil
}

// install replaces the dataset. Never merges with previous contents.
func (s *Store) install(viz *lifeapi.VisualizationData, clusters []lifeapi.ClusterInfo) {
	byPerson := make(map[string]int, len(viz.Persons))
	for i, p := range viz.Persons {
		byPerson[p.PersonID] = i
	}
	byCluster := make(map[int]int, len(clusters))
	for i, c := range clusters {
		byCluster[c.ClusterID] = i
	}

	meta := Meta{
		TotalPersons: viz.Metadata.TotalPersons,
		NumClusters:  viz.Metadata.NumClusters,
	}
	if meta.TotalPersons == 0 {
		meta.TotalPersons = len(viz.Persons)
	}
	if meta.NumClusters == 0 {
		meta.NumClusters = len(clusters)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	s.persons = viz.Persons
	s.clusters = clusters
	s.meta = meta
	s.byPerson = byPerson
	s.byCluster = byCluster
}

// Ready reports whether a dataset is loaded.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Persons returns the current person list. Callers must not mutate it.
func (s *Store) Persons() []lifeapi.VisualizationPerson {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persons
}

// Clusters returns the current cluster list. Callers must not mutate it.
func (s *Store) Clusters() []lifeapi.ClusterInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clusters
}

// Meta returns dataset summary counters.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// PersonByID looks up a person point by id.
func (s *Store) PersonByID(id string) (lifeapi.VisualizationPerson, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byPerson[id]
	if !ok {
		return lifeapi.VisualizationPerson{}, false
	}
	return s.persons[i], true
}

// ClusterByID looks up cluster metadata by id.
func (s *Store) ClusterByID(id int) (lifeapi.ClusterInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCluster[id]
	if !ok {
		return lifeapi.ClusterInfo{}, false
	}
	return s.clusters[i], true
}

// NearestCluster returns the cluster whose centroid is closest to pos, or nil
// when no clusters are loaded.
func (s *Store) NearestCluster(pos lifeapi.Coordinate3D) *lifeapi.ClusterInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *lifeapi.ClusterInfo
	bestDist := math.Inf(1)
	for i := range s.clusters {
		c := s.clusters[i]
		d := distance(pos, c.AvgCoordinates)
		if d < bestDist {
			bestDist = d
			best = &c
		}
	}
	return best
}

// SimilarPersons returns the k persons closest to pos by 3D euclidean
// distance, ascending. similarity_score is 1/(1+distance).
func (s *Store) SimilarPersons(pos lifeapi.Coordinate3D, k int) []lifeapi.SimilarPerson {
	s.mu.RLock()
	persons := s.persons
	s.mu.RUnlock()

	if k <= 0 || len(persons) == 0 {
		return nil
	}

	type ranked struct {
		idx  int
		dist float64
	}
	all := make([]ranked, len(persons))
	for i, p := range persons {
		all[i] = ranked{idx: i, dist: distance(pos, p.Coordinates())}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return persons[all[i].idx].PersonID < persons[all[j].idx].PersonID
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]lifeapi.SimilarPerson, 0, k)
	for _, r := range all[:k] {
		p := persons[r.idx]
		sp := lifeapi.SimilarPerson{
			PersonID:        p.PersonID,
			Name:            p.Name,
			Description:     p.Description,
			Occupation:      p.Occupation,
			Distance:        r.dist,
			SimilarityScore: 1 / (1 + r.dist),
			ClusterLabel:    s.ClusterLabel(p.ClusterID),
		}
		if p.ClusterID != nil {
			sp.ClusterID = *p.ClusterID
		} else {
			sp.ClusterID = -1
		}
		out = append(out, sp)
	}
	return out
}

func distance(a, b lifeapi.Coordinate3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
