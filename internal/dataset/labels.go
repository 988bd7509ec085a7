package dataset

import "fmt"

// builtinLabels names the clusters the embedding pipeline has historically
// produced. Used only when the API did not supply a label for a cluster id.
var builtinLabels = map[int]string{
	0:  "Scientists & Researchers",
	1:  "Political Leaders",
	2:  "Writers & Poets",
	3:  "Musicians & Composers",
	4:  "Visual Artists",
	5:  "Athletes",
	6:  "Actors & Filmmakers",
	7:  "Business Leaders",
	8:  "Military Figures",
	9:  "Religious Figures",
	10: "Explorers & Aviators",
	11: "Physicians & Medical Pioneers",
	12: "Mathematicians",
	13: "Philosophers & Scholars",
	14: "Engineers & Inventors",
}

// UnclusteredLabel is shown for persons without a cluster.
const UnclusteredLabel = "Unclustered"

// ClusterLabel resolves the display label for a cluster id through three
// tiers: the API-supplied label, then the built-in table, then a synthesized
// default. The tiers are consulted in order, never merged. A nil id resolves
// to UnclusteredLabel.
func (s *Store) ClusterLabel(id *int) string {
	if id == nil {
		return UnclusteredLabel
	}
	if c, ok := s.ClusterByID(*id); ok && c.ClusterLabel != "" {
		return c.ClusterLabel
	}
	if label, ok := builtinLabels[*id]; ok {
		return label
	}
	return fmt.Sprintf("Cluster %d", *id)
}
