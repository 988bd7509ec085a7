package view

import "github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"

// Visible applies the cluster filter to the full person list. A nil filter
// selects everything and returns the input slice unchanged. A concrete
// filter returns the persons whose cluster id matches, in input order;
// persons without a cluster id never match. The input is never mutated and
// the result is recomputed in full on every call.
func Visible(persons []lifeapi.VisualizationPerson, selectedCluster *int) []lifeapi.VisualizationPerson {
	if selectedCluster == nil {
		return persons
	}
	out := make([]lifeapi.VisualizationPerson, 0, len(persons))
	for _, p := range persons {
		if p.ClusterID != nil && *p.ClusterID == *selectedCluster {
			out = append(out, p)
		}
	}
	return out
}
