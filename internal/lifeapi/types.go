package lifeapi

// Coordinate3D is an embedding-space position. The coordinates are opaque
// display values produced by the upstream dimensionality-reduction pipeline,
// not geographic.
type Coordinate3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// VisualizationPerson is one point of the 3D dataset. ClusterID and
// ClusterLabel are nullable; absence means the person is unclustered.
type VisualizationPerson struct {
	PersonID     string   `json:"person_id"`
	Name         string   `json:"name"`
	Description  *string  `json:"description,omitempty"`
	Occupation   []string `json:"occupation"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	Z            float64  `json:"z"`
	ClusterID    *int     `json:"cluster_id"`
	ClusterLabel *string  `json:"cluster_label,omitempty"`
}

// Coordinates returns the person's position as a Coordinate3D.
func (p VisualizationPerson) Coordinates() Coordinate3D {
	return Coordinate3D{X: p.X, Y: p.Y, Z: p.Z}
}

// VisualizationMetadata summarizes the full dataset.
type VisualizationMetadata struct {
	TotalPersons int `json:"total_persons"`
	NumClusters  int `json:"num_clusters"`
}

// VisualizationData is the full dataset payload.
type VisualizationData struct {
	Persons  []VisualizationPerson `json:"persons"`
	Metadata VisualizationMetadata `json:"metadata"`
}

// OccupationCount is one entry of a cluster's top-occupations breakdown.
type OccupationCount struct {
	Occupation string `json:"occupation"`
	Count      int    `json:"count"`
}

// ClusterInfo describes one cluster of persons.
type ClusterInfo struct {
	ClusterID      int               `json:"cluster_id"`
	ClusterLabel   string            `json:"cluster_label"`
	PersonCount    int               `json:"person_count"`
	TopOccupations []OccupationCount `json:"top_occupations"`
	AvgCoordinates Coordinate3D      `json:"avg_coordinates"`
}

// ClusterList wraps the cluster metadata payload.
type ClusterList struct {
	Clusters []ClusterInfo `json:"clusters"`
}

// PersonSummary is the paginated listing record.
type PersonSummary struct {
	PersonID     string        `json:"person_id"`
	Name         string        `json:"name"`
	Description  *string       `json:"description,omitempty"`
	Occupation   []string      `json:"occupation"`
	ClusterID    *int          `json:"cluster_id"`
	ClusterLabel *string       `json:"cluster_label,omitempty"`
	Coordinates  *Coordinate3D `json:"coordinates,omitempty"`
}

// PersonDetail is the full record shown in the detail panel.
type PersonDetail struct {
	PersonID     string         `json:"person_id"`
	WikidataID   string         `json:"wikidata_id"`
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	Occupation   []string       `json:"occupation"`
	FieldOfWork  []string       `json:"field_of_work"`
	BirthDate    *string        `json:"birth_date,omitempty"`
	DeathDate    *string        `json:"death_date,omitempty"`
	BirthPlace   *string        `json:"birth_place,omitempty"`
	DeathPlace   *string        `json:"death_place,omitempty"`
	Coordinates  *Coordinate3D  `json:"coordinates,omitempty"`
	ClusterID    *int           `json:"cluster_id"`
	ClusterLabel *string        `json:"cluster_label,omitempty"`
	TotalEvents  int            `json:"total_events"`
	EventTypes   map[string]int `json:"event_types"`
}

// LifeEvent is one user-supplied life event for embedding generation.
// Dates are ISO-8601 strings (YYYY-MM-DD).
type LifeEvent struct {
	EventType        string  `json:"event_type"`
	EventTitle       string  `json:"event_title"`
	EventDescription *string `json:"event_description,omitempty"`
	StartDate        *string `json:"start_date,omitempty"`
	EndDate          *string `json:"end_date,omitempty"`
	Organization     *string `json:"organization,omitempty"`
	Location         *string `json:"location,omitempty"`
}

// EmbedRequest asks the upstream to place a user among the dataset.
type EmbedRequest struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	LifeEvents  []LifeEvent `json:"life_events"`
}

// SimilarPerson is a dataset person ranked by distance to the placed user.
type SimilarPerson struct {
	PersonID        string   `json:"person_id"`
	Name            string   `json:"name"`
	Description     *string  `json:"description,omitempty"`
	Occupation      []string `json:"occupation"`
	Distance        float64  `json:"distance"`
	SimilarityScore float64  `json:"similarity_score"`
	ClusterID       int      `json:"cluster_id"`
	ClusterLabel    string   `json:"cluster_label"`
}

// EmbedResponse is the upstream placement result. NearestCluster and
// SimilarPersons are optional; callers fall back when they are absent.
type EmbedResponse struct {
	UserCoordinates    Coordinate3D    `json:"user_coordinates"`
	NearestCluster     *ClusterInfo    `json:"nearest_cluster,omitempty"`
	SimilarPersons     []SimilarPerson `json:"similar_persons"`
	NarrativeText      string          `json:"narrative_text"`
	EmbeddingDimension int             `json:"embedding_dimension"`
	ProcessingTimeMS   float64         `json:"processing_time_ms"`
}

// HealthStatus is the upstream liveness payload.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

// PersonQuery narrows the paginated persons listing.
type PersonQuery struct {
	Limit     int
	Offset    int
	ClusterID *int
}
